package domain_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/chaats/internal/domain"
)

func TestUserID_UnmarshalJSON(t *testing.T) {
	var v struct {
		A domain.UserID  `json:"a"`
		B domain.UserID  `json:"b"`
		C *domain.UserID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":7,"b":"42","c":null}`), &v))
	assert.Equal(t, domain.UserID(7), v.A)
	assert.Equal(t, domain.UserID(42), v.B)
	assert.Nil(t, v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":"seven"}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1.5}`), &v))
}

func TestSortMessages_TimestampThenID(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := []domain.Message{
		{ID: 3, Timestamp: base.Add(time.Second)},
		{ID: 2, Timestamp: base},
		{ID: 1, Timestamp: base},
	}
	domain.SortMessages(msgs)
	assert.Equal(t, []int64{1, 2, 3}, []int64{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestMessage_Between(t *testing.T) {
	m := domain.Message{SenderID: 1, ReceiverID: 2}
	assert.True(t, m.Between(1, 2))
	assert.True(t, m.Between(2, 1))
	assert.False(t, m.Between(1, 3))
}

func TestProfileUpdate_Apply(t *testing.T) {
	first := "Ada"
	p := domain.Profile{ID: 1, Username: "ada", Email: "old@example.com"}
	got := domain.ProfileUpdate{FirstName: &first}.Apply(p)

	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, "old@example.com", got.Email)
	assert.Empty(t, p.FirstName, "Apply must not mutate its input")
}

func TestProfile_DisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", domain.Profile{Username: "ada", FirstName: "Ada", LastName: "Lovelace"}.DisplayName())
	assert.Equal(t, "Ada", domain.Profile{Username: "ada", FirstName: "Ada"}.DisplayName())
	assert.Equal(t, "ada", domain.Profile{Username: "ada"}.DisplayName())
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusOnline, domain.StatusAway, domain.StatusOffline} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, domain.Status("busy").Valid())
}
