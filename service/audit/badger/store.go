// Package badger stores the audit trail in an embedded BadgerDB. Every
// record is written once under a time ordered key so a checkpoint trail is
// read back with a single prefix scan.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/viant/hitl/model"
	"github.com/viant/hitl/service/audit"
)

const (
	kindSnapshot   = "snapshot"
	kindTrace      = "trace"
	kindEscalation = "escalation"
)

// Config configures the database.
type Config struct {
	// Path is the database directory; ignored when InMemory is set.
	Path string
	// InMemory keeps everything in memory (tests, ephemeral runs).
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives badger internal logs; nil disables them.
	Logger *slog.Logger
}

// Store implements audit.Store.
type Store struct {
	db *badger.DB
}

var (
	_ audit.Store     = (*Store)(nil)
	_ audit.Retractor = (*Store)(nil)
)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens (or creates) the audit database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent audit store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create audit directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendSnapshot adds a snapshot to the trail.
func (s *Store) AppendSnapshot(ctx context.Context, snapshot *model.MemorySnapshot) error {
	if err := audit.ValidateSnapshot(snapshot); err != nil {
		return err
	}
	return s.append(ctx, kindSnapshot, snapshot.CheckpointID, snapshot.ID, snapshot.CreatedAt, snapshot)
}

// AppendTrace adds a decision trace to the trail.
func (s *Store) AppendTrace(ctx context.Context, trace *model.DecisionTrace) error {
	if err := audit.ValidateTrace(trace); err != nil {
		return err
	}
	return s.append(ctx, kindTrace, trace.CheckpointID, trace.ID, trace.CreatedAt, trace)
}

// AppendEscalation adds an escalation to the trail.
func (s *Store) AppendEscalation(ctx context.Context, escalation *model.Escalation) error {
	if err := audit.ValidateEscalation(escalation); err != nil {
		return err
	}
	return s.append(ctx, kindEscalation, escalation.CheckpointID, escalation.ID, escalation.CreatedAt, escalation)
}

// RetractTrace removes a trace written for a rolled back transition.
func (s *Store) RetractTrace(ctx context.Context, trace *model.DecisionTrace) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(indexKey(kindTrace, trace.CheckpointID, trace.ID)); err != nil {
			return err
		}
		return txn.Delete(recordKey(kindTrace, trace.CheckpointID, trace.CreatedAt, trace.ID))
	})
}

// Snapshots lists the snapshots of a checkpoint.
func (s *Store) Snapshots(ctx context.Context, checkpointID string) ([]*model.MemorySnapshot, error) {
	return scan[model.MemorySnapshot](ctx, s.db, kindSnapshot, checkpointID)
}

// Traces lists the decision traces of a checkpoint.
func (s *Store) Traces(ctx context.Context, checkpointID string) ([]*model.DecisionTrace, error) {
	return scan[model.DecisionTrace](ctx, s.db, kindTrace, checkpointID)
}

// Escalations lists the escalations of a checkpoint.
func (s *Store) Escalations(ctx context.Context, checkpointID string) ([]*model.Escalation, error) {
	return scan[model.Escalation](ctx, s.db, kindEscalation, checkpointID)
}

func (s *Store) append(ctx context.Context, kind, checkpointID, id string, createdAt time.Time, record interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", kind, id, err)
	}
	idKey := indexKey(kind, checkpointID, id)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey); err == nil {
			return fmt.Errorf("%w: %s/%s", audit.ErrDuplicate, checkpointID, id)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(idKey, nil); err != nil {
			return err
		}
		return txn.Set(recordKey(kind, checkpointID, createdAt, id), data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %s/%s", audit.ErrDuplicate, checkpointID, id)
	}
	return err
}

func scan[T any](ctx context.Context, db *badger.DB, kind, checkpointID string) ([]*T, error) {
	var ret []*T
	prefix := recordPrefix(kind, checkpointID)
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var record T
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			ret = append(ret, &record)
		}
		return nil
	})
	return ret, err
}

// recordPrefix is "r/<kind>/<checkpointID>/"; the record key appends a
// fixed width timestamp so iteration follows creation time.
func recordPrefix(kind, checkpointID string) []byte {
	return []byte("r/" + kind + "/" + checkpointID + "/")
}

func recordKey(kind, checkpointID string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", recordPrefix(kind, checkpointID), createdAt.UnixNano(), id))
}

func indexKey(kind, checkpointID, id string) []byte {
	return []byte("i/" + kind + "/" + checkpointID + "/" + id)
}
