package store

import (
	"context"
	"encoding/json"

	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/model"
	"github.com/handoffhq/handoff/internal/obslog"
)

// Store is the repository façade over the connection Pool for every
// entity in the broker's persistence model (spec component C).
type Store struct {
	pool *Pool
	log  *obslog.Logger
}

// Open opens a Pool at dbPath and bootstraps the schema.
func Open(dbPath string, log *obslog.Logger) (*Store, error) {
	pool, err := OpenPool(dbPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "open database", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.initSchema(); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.Db, "initialize schema", err)
	}
	return s, nil
}

// OpenInMemory is the test constructor: an in-memory database with the
// schema already applied.
func OpenInMemory() (*Store, error) {
	pool, err := OpenMemoryPool()
	if err != nil {
		return nil, apperr.Wrap(apperr.Db, "open in-memory database", err)
	}
	s := &Store{pool: pool, log: obslog.Default()}
	if err := s.initSchema(); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.Db, "initialize schema", err)
	}
	return s, nil
}

// Close releases the underlying connections.
func (s *Store) Close() error { return s.pool.Close() }

func marshalProgress(steps []model.ProgressStep) (string, error) {
	if steps == nil {
		return "[]", nil
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", apperr.Wrap(apperr.Db, "marshal progress snapshot", err)
	}
	return string(b), nil
}

func unmarshalProgress(raw string) ([]model.ProgressStep, error) {
	if raw == "" {
		return nil, nil
	}
	var steps []model.ProgressStep
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, apperr.Wrap(apperr.Db, "unmarshal progress snapshot", err)
	}
	return steps, nil
}

func marshalFileHashes(hashes map[string]string) (string, error) {
	if hashes == nil {
		return "{}", nil
	}
	b, err := json.Marshal(hashes)
	if err != nil {
		return "", apperr.Wrap(apperr.Db, "marshal file hashes", err)
	}
	return string(b), nil
}

func unmarshalFileHashes(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var hashes map[string]string
	if err := json.Unmarshal([]byte(raw), &hashes); err != nil {
		return nil, apperr.Wrap(apperr.Db, "unmarshal file hashes", err)
	}
	return hashes, nil
}

// ctxOrBackground lets repository methods accept a nil context from
// callers that don't yet plumb one through (kept minimal; every new call
// site should pass a real context).
func ctxOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
