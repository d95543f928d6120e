package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/nfrund/chaats/internal/domain"
)

const (
	messageSeqKey = "seq:message"
	seqBandwidth  = 128
)

// messageRecord is the on-disk form of a message.
type messageRecord struct {
	ID         int64  `cbor:"1,keyasint"`
	SenderID   int64  `cbor:"2,keyasint"`
	ReceiverID int64  `cbor:"3,keyasint"`
	Content    string `cbor:"4,keyasint"`
	At         int64  `cbor:"5,keyasint"` // unix nanos
}

// profileRecord is the on-disk form of a profile.
type profileRecord struct {
	ID             int64  `cbor:"1,keyasint"`
	Username       string `cbor:"2,keyasint"`
	Email          string `cbor:"3,keyasint"`
	FirstName      string `cbor:"4,keyasint"`
	LastName       string `cbor:"5,keyasint"`
	ProfilePicture string `cbor:"6,keyasint,omitempty"`
}

// BadgerStore persists messages and profiles in an embedded BadgerDB.
//
// Message keys are "msg:{lo}:{hi}:{unix_nano_padded}:{id_padded}" where lo/hi
// is the ordered participant pair. Both directions of a conversation share
// a prefix, and the 19-digit padding makes a prefix scan return messages in
// (timestamp, id) order.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	now func() time.Time
}

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path     string
	InMemory bool
	Logger   *slog.Logger
	Now      func() time.Time
}

// OpenBadger opens (or creates) a Badger database.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bopts = bopts.WithLogger(badgerLogger{logger.With("component", "badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, NewDBError(err, "open badger")
	}
	seq, err := db.GetSequence([]byte(messageSeqKey), seqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, NewDBError(err, "lease message sequence")
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &BadgerStore{db: db, seq: seq, now: now}, nil
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

// Ping reports whether the database is still open.
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return NewDBError(ErrNotConnected, "badger closed")
	}
	return nil
}

func conversationPrefix(a, b domain.UserID) string {
	lo, hi := min(a, b), max(a, b)
	return fmt.Sprintf("msg:%d:%d:", lo, hi)
}

func messageKey(m domain.Message) []byte {
	return fmt.Appendf(nil, "%s%019d:%019d", conversationPrefix(m.SenderID, m.ReceiverID), m.Timestamp.UnixNano(), m.ID)
}

func profileKey(id domain.UserID) []byte {
	return fmt.Appendf(nil, "user:%019d", int64(id))
}

func (s *BadgerStore) Create(_ context.Context, senderID, receiverID domain.UserID, content string) (domain.Message, error) {
	n, err := s.seq.Next()
	if err != nil {
		return domain.Message{}, NewDBError(err, "badger: next message id")
	}
	msg := domain.Message{
		ID:         int64(n) + 1,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Timestamp:  s.now().UTC(),
	}
	value, err := cbor.Marshal(messageRecord{
		ID:         msg.ID,
		SenderID:   int64(msg.SenderID),
		ReceiverID: int64(msg.ReceiverID),
		Content:    msg.Content,
		At:         msg.Timestamp.UnixNano(),
	})
	if err != nil {
		return domain.Message{}, NewDBError(err, "badger: encode message")
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), value)
	}); err != nil {
		return domain.Message{}, NewDBError(err, "badger: store message")
	}
	return msg, nil
}

func (s *BadgerStore) Query(_ context.Context, a, b domain.UserID) ([]domain.Message, error) {
	prefix := []byte(conversationPrefix(a, b))
	out := []domain.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec messageRecord
			if err := it.Item().Value(func(v []byte) error {
				return cbor.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, it.Item().Key(), err)
			}
			out = append(out, domain.Message{
				ID:         rec.ID,
				SenderID:   domain.UserID(rec.SenderID),
				ReceiverID: domain.UserID(rec.ReceiverID),
				Content:    rec.Content,
				Timestamp:  time.Unix(0, rec.At).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, NewDBError(err, "badger: query conversation")
	}
	return out, nil
}

func (s *BadgerStore) List(context.Context) ([]domain.Profile, error) {
	prefix := []byte("user:")
	var out []domain.Profile
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			p, err := decodeProfile(it.Item())
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, NewDBError(err, "badger: list profiles")
	}
	return out, nil
}

func (s *BadgerStore) Get(_ context.Context, id domain.UserID) (domain.Profile, error) {
	var p domain.Profile
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getProfile(txn, id)
		return err
	})
	if err != nil {
		return domain.Profile{}, NewDBError(err, "badger: get profile")
	}
	return p, nil
}

func (s *BadgerStore) Update(_ context.Context, id domain.UserID, upd domain.ProfileUpdate) (domain.Profile, error) {
	var p domain.Profile
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := getProfile(txn, id)
		if err != nil {
			return err
		}
		p = upd.Apply(current)
		return putProfile(txn, p)
	})
	if err != nil {
		return domain.Profile{}, NewDBError(err, "badger: update profile")
	}
	return p, nil
}

func (s *BadgerStore) Put(_ context.Context, p domain.Profile) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return putProfile(txn, p)
	}); err != nil {
		return NewDBError(err, "badger: put profile")
	}
	return nil
}

func getProfile(txn *badger.Txn, id domain.UserID) (domain.Profile, error) {
	item, err := txn.Get(profileKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Profile{}, notFound("profile %s", id)
	}
	if err != nil {
		return domain.Profile{}, err
	}
	return decodeProfile(item)
}

func decodeProfile(item *badger.Item) (domain.Profile, error) {
	var rec profileRecord
	if err := item.Value(func(v []byte) error {
		return cbor.Unmarshal(v, &rec)
	}); err != nil {
		return domain.Profile{}, fmt.Errorf("%w: %s: %v", ErrInvalidRecord, item.Key(), err)
	}
	return domain.Profile{
		ID:             domain.UserID(rec.ID),
		Username:       rec.Username,
		Email:          rec.Email,
		FirstName:      rec.FirstName,
		LastName:       rec.LastName,
		ProfilePicture: rec.ProfilePicture,
	}, nil
}

func putProfile(txn *badger.Txn, p domain.Profile) error {
	value, err := cbor.Marshal(profileRecord{
		ID:             int64(p.ID),
		Username:       p.Username,
		Email:          p.Email,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		ProfilePicture: p.ProfilePicture,
	})
	if err != nil {
		return err
	}
	return txn.Set(profileKey(p.ID), value)
}

// badgerLogger routes badger's logging through slog.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Infof(f string, v ...any)    { b.l.Debug(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Debugf(f string, v ...any)   { b.l.Debug(fmt.Sprintf(f, v...)) }
