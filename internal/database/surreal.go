package database

import (
	"context"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/nfrund/chaats/internal/domain"
)

type counterRow struct {
	Value int64 `json:"value"`
}

type messageRow struct {
	ID         *models.RecordID `json:"id,omitempty"`
	Seq        int64            `json:"seq"`
	SenderID   int64            `json:"sender_id"`
	ReceiverID int64            `json:"receiver_id"`
	Content    string           `json:"content"`
	SentAt     int64            `json:"sent_at"` // unix nanos
}

func (r messageRow) toDomain() domain.Message {
	return domain.Message{
		ID:         r.Seq,
		SenderID:   domain.UserID(r.SenderID),
		ReceiverID: domain.UserID(r.ReceiverID),
		Content:    r.Content,
		Timestamp:  time.Unix(0, r.SentAt).UTC(),
	}
}

type profileRow struct {
	ID             *models.RecordID `json:"id,omitempty"`
	UserID         int64            `json:"user_id"`
	Username       string           `json:"username"`
	Email          string           `json:"email"`
	FirstName      string           `json:"first_name"`
	LastName       string           `json:"last_name"`
	ProfilePicture string           `json:"profile_picture"`
}

func (r profileRow) toDomain() domain.Profile {
	return domain.Profile{
		ID:             domain.UserID(r.UserID),
		Username:       r.Username,
		Email:          r.Email,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		ProfilePicture: r.ProfilePicture,
	}
}

func newProfileRow(p domain.Profile) profileRow {
	return profileRow{
		UserID:         int64(p.ID),
		Username:       p.Username,
		Email:          p.Email,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		ProfilePicture: p.ProfilePicture,
	}
}

const (
	nextMessageIDQuery = "UPSERT counter:message SET value += 1 RETURN value"
	createMessageQuery = "CREATE type::thing('message', $seq) CONTENT $row RETURN NONE"
	conversationQuery  = "SELECT * FROM message WHERE (sender_id = $a AND receiver_id = $b) OR (sender_id = $b AND receiver_id = $a) ORDER BY sent_at, seq"
	listProfilesQuery  = "SELECT * FROM profile ORDER BY user_id"
	getProfileQuery    = "SELECT * FROM type::thing('profile', $id)"
	mergeProfileQuery  = "UPDATE type::thing('profile', $id) MERGE $patch RETURN AFTER"
	putProfileQuery    = "UPSERT type::thing('profile', $id) CONTENT $row RETURN NONE"
)

// SurrealStore keeps messages and profiles in SurrealDB. Message IDs come
// from an atomically incremented counter record.
type SurrealStore struct {
	conn *Connection
	now  func() time.Time
}

// NewSurrealStore creates a store on top of a managed connection.
func NewSurrealStore(conn *Connection) *SurrealStore {
	return &SurrealStore{conn: conn, now: time.Now}
}

// Ping reports whether the connection is healthy.
func (s *SurrealStore) Ping(context.Context) error {
	if !s.conn.IsHealthy() {
		return NewDBError(ErrNotConnected, "surrealdb unhealthy")
	}
	return nil
}

func (s *SurrealStore) Create(ctx context.Context, senderID, receiverID domain.UserID, content string) (domain.Message, error) {
	var msg domain.Message
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		counter, err := QueryOne[counterRow](ctx, db, nextMessageIDQuery, nil)
		if err != nil {
			return err
		}
		if counter == nil {
			return NewDBError(ErrInvalidRecord, "message counter returned nothing").WithQuery(nextMessageIDQuery)
		}

		row := messageRow{
			Seq:        counter.Value,
			SenderID:   int64(senderID),
			ReceiverID: int64(receiverID),
			Content:    content,
			SentAt:     s.now().UTC().UnixNano(),
		}
		if err := Execute(ctx, db, createMessageQuery, map[string]any{"seq": row.Seq, "row": row}); err != nil {
			return err
		}
		msg = row.toDomain()
		return nil
	})
	if err != nil {
		return domain.Message{}, NewDBError(err, "surrealdb: create message")
	}
	return msg, nil
}

func (s *SurrealStore) Query(ctx context.Context, a, b domain.UserID) ([]domain.Message, error) {
	var rows []messageRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[messageRow](ctx, db, conversationQuery, map[string]any{"a": int64(a), "b": int64(b)})
		return err
	})
	if err != nil {
		return nil, NewDBError(err, "surrealdb: query conversation")
	}

	out := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	domain.SortMessages(out)
	return out, nil
}

func (s *SurrealStore) List(ctx context.Context) ([]domain.Profile, error) {
	var rows []profileRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		rows, err = Query[profileRow](ctx, db, listProfilesQuery, nil)
		return err
	})
	if err != nil {
		return nil, NewDBError(err, "surrealdb: list profiles")
	}
	out := make([]domain.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *SurrealStore) Get(ctx context.Context, id domain.UserID) (domain.Profile, error) {
	var row *profileRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[profileRow](ctx, db, getProfileQuery, map[string]any{"id": int64(id)})
		return err
	})
	if err != nil {
		return domain.Profile{}, NewDBError(err, "surrealdb: get profile")
	}
	if row == nil {
		return domain.Profile{}, NewDBError(notFound("profile %s", id), "surrealdb: get profile")
	}
	return row.toDomain(), nil
}

func (s *SurrealStore) Update(ctx context.Context, id domain.UserID, upd domain.ProfileUpdate) (domain.Profile, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return domain.Profile{}, err
	}

	patch := map[string]any{}
	for field, v := range map[string]*string{
		"email":           upd.Email,
		"first_name":      upd.FirstName,
		"last_name":       upd.LastName,
		"profile_picture": upd.ProfilePicture,
	} {
		if v != nil {
			patch[field] = *v
		}
	}

	var row *profileRow
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		var err error
		row, err = QueryOne[profileRow](ctx, db, mergeProfileQuery, map[string]any{"id": int64(id), "patch": patch})
		return err
	})
	if err != nil {
		return domain.Profile{}, NewDBError(err, "surrealdb: update profile")
	}
	if row == nil {
		return domain.Profile{}, NewDBError(notFound("profile %s", id), "surrealdb: update profile")
	}
	return row.toDomain(), nil
}

func (s *SurrealStore) Put(ctx context.Context, p domain.Profile) error {
	err := s.conn.WithConnection(ctx, func(db *surrealdb.DB) error {
		return Execute(ctx, db, putProfileQuery, map[string]any{"id": int64(p.ID), "row": newProfileRow(p)})
	})
	if err != nil {
		return NewDBError(err, "surrealdb: put profile")
	}
	return nil
}
