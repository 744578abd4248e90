package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// schemaVersion is written into every persisted record so future versions
// can migrate old records instead of guessing their shape.
const schemaVersion = 1

var sessionsBucket = []byte("sessions")

// ErrNotFound is returned when a session id has no persisted record.
var ErrNotFound = errors.New("session not found")

// Store provides durable CRUD for workflow sessions.
type Store interface {
	// Save serializes and persists the session. Writes are transactional:
	// a crash mid-write leaves the prior record intact.
	Save(s *WorkflowSession) error

	// Get retrieves one session by id. Returns ErrNotFound if absent.
	Get(id string) (*WorkflowSession, error)

	// LoadAll returns every persisted session. Called once at startup to
	// repopulate in-memory state. Timestamps round-trip exactly.
	LoadAll() ([]*WorkflowSession, error)

	// Delete removes the record. Deleting a missing id is not an error.
	Delete(id string) error

	// Close releases the underlying database.
	Close() error
}

// envelope wraps a persisted session with its schema version.
type envelope struct {
	SchemaVersion int              `json:"schema_version"`
	Session       *WorkflowSession `json:"session"`
}

// boltStore implements Store on top of an embedded bbolt database.
type boltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// NewStore opens (creating if needed) the session database at path.
func NewStore(path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sessions bucket: %w", err)
	}

	return &boltStore{db: db, logger: logger}, nil
}

func (b *boltStore) Save(s *WorkflowSession) error {
	if s == nil || s.ID == "" {
		return errors.New("session with id is required")
	}

	data, err := json.Marshal(envelope{SchemaVersion: schemaVersion, Session: s})
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Put([]byte(s.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to persist session %s: %w", s.ID, err)
	}

	b.logger.Debug("persisted session",
		zap.String("session_id", s.ID),
		zap.String("status", string(s.Status)),
	)
	return nil
}

func (b *boltStore) Get(id string) (*WorkflowSession, error) {
	var raw []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(sessionsBucket).Get([]byte(id)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	return decodeEnvelope(raw)
}

func (b *boltStore) LoadAll() ([]*WorkflowSession, error) {
	var sessions []*WorkflowSession
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(k, v []byte) error {
			s, err := decodeEnvelope(v)
			if err != nil {
				// A corrupt record must not prevent startup; skip it.
				b.logger.Warn("skipping undecodable session record",
					zap.String("session_id", string(k)),
					zap.Error(err),
				)
				return nil
			}
			sessions = append(sessions, s)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	return sessions, nil
}

func (b *boltStore) Delete(id string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete([]byte(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (b *boltStore) Close() error {
	return b.db.Close()
}

func decodeEnvelope(data []byte) (*WorkflowSession, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	if env.SchemaVersion != schemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", env.SchemaVersion)
	}
	if env.Session == nil {
		return nil, errors.New("session record has no payload")
	}
	return env.Session, nil
}
