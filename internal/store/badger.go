package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/murmur-app/murmur/internal/apperr"
)

const (
	profilePrefix = "profile/"
	segmentPrefix = "segment/"
)

// Badger is the on-disk Interface implementation, BadgerDB v4 with
// msgpack-encoded values.
type Badger struct {
	db *badger.DB

	// Serializes profile creation so concurrent creations never
	// allocate the same ordinal.
	createMu sync.Mutex
}

// BadgerOptions configures the on-disk store.
type BadgerOptions struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir string

	// InMemory runs the badger engine without disk persistence.
	// Used by tests.
	InMemory bool
}

// OpenBadger opens (creating if needed) the profile and transcript store.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, apperr.New(apperr.CodeConfigInvalid, "store directory not configured")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStoreFailed, "open store at %s", opts.Dir)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) FindAllSpeakerProfiles(context.Context) ([]SpeakerProfile, error) {
	var profiles []SpeakerProfile
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(profilePrefix)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var p SpeakerProfile
				if err := msgpack.Unmarshal(val, &p); err != nil {
					return err
				}
				profiles = append(profiles, p)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreFailed, "list speaker profiles")
	}
	return profiles, nil
}

func (b *Badger) CreateSpeakerProfile(ctx context.Context, name string, embedding []float32) (SpeakerProfile, error) {
	b.createMu.Lock()
	defer b.createMu.Unlock()

	existing, err := b.FindAllSpeakerProfiles(ctx)
	if err != nil {
		return SpeakerProfile{}, err
	}
	ordinal := 0
	for _, p := range existing {
		if p.Ordinal > ordinal {
			ordinal = p.Ordinal
		}
	}
	ordinal++

	p := newProfile(ordinal, name, embedding)
	if err := b.putProfile(p); err != nil {
		return SpeakerProfile{}, err
	}
	slog.Info("speaker profile created", "ordinal", p.Ordinal, "name", p.Name)
	return p, nil
}

func (b *Badger) UnknownSpeakerProfile(ctx context.Context) (SpeakerProfile, error) {
	b.createMu.Lock()
	defer b.createMu.Unlock()

	existing, err := b.FindAllSpeakerProfiles(ctx)
	if err != nil {
		return SpeakerProfile{}, err
	}
	for _, p := range existing {
		if p.Unknown() {
			return p, nil
		}
	}

	p := newProfile(UnknownOrdinal, "", nil)
	if err := b.putProfile(p); err != nil {
		return SpeakerProfile{}, err
	}
	return p, nil
}

func (b *Badger) RenameSpeakerProfile(_ context.Context, id, name string) error {
	key := []byte(profilePrefix + id)
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var p SpeakerProfile
		if err := item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &p)
		}); err != nil {
			return err
		}

		p.Name = name
		p.UpdatedAt = time.Now()
		encoded, err := msgpack.Marshal(p)
		if err != nil {
			return err
		}
		return txn.Set(key, encoded)
	})
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeStoreFailed, "rename profile %s", id)
	}
	return nil
}

func (b *Badger) AppendTranscriptSegment(_ context.Context, seg TranscriptSegment) error {
	if seg.ID == "" {
		seg.ID = uuid.NewString()
	}
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now()
	}

	encoded, err := msgpack.Marshal(seg)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailed, "encode transcript segment")
	}
	// Keys sort chronologically within a session.
	key := fmt.Sprintf("%s%s/%020d/%s", segmentPrefix, seg.SessionID, seg.CreatedAt.UnixNano(), seg.ID)
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), encoded)
	})
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailed, "append transcript segment")
	}
	return nil
}

// SessionSegments returns a session's segments in append order.
func (b *Badger) SessionSegments(_ context.Context, sessionID string) ([]TranscriptSegment, error) {
	var segments []TranscriptSegment
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(segmentPrefix + sessionID + "/")
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var seg TranscriptSegment
				if err := msgpack.Unmarshal(val, &seg); err != nil {
					return err
				}
				segments = append(segments, seg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStoreFailed, "list segments for session %s", sessionID)
	}
	return segments, nil
}

func (b *Badger) putProfile(p SpeakerProfile) error {
	encoded, err := msgpack.Marshal(p)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailed, "encode speaker profile")
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(profilePrefix+p.ID), encoded)
	})
	if err != nil {
		return apperr.Wrap(err, apperr.CodeStoreFailed, "persist speaker profile")
	}
	return nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger output through slog, dropping the chatty
// info and debug levels.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{})   { slog.Error(fmt.Sprintf("badger: "+f, v...)) }
func (badgerLogger) Warningf(f string, v ...interface{}) { slog.Warn(fmt.Sprintf("badger: "+f, v...)) }
func (badgerLogger) Infof(string, ...interface{})        {}
func (badgerLogger) Debugf(string, ...interface{})       {}
