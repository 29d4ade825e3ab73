// Package fs provides a generic dao.Service that keeps one JSON document per
// record on any afs supported storage (local disk, mem://, cloud buckets).
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/hitl/service/dao"
)

// Store implements a filesystem-based record storage.
type Store[T any] struct {
	basePath    string
	fs          afs.Service
	mu          sync.RWMutex
	keySelector func(*T) string
	filter      func(*T, []*dao.Parameter) bool
	logger      *slog.Logger
}

// Option customises a Store.
type Option[T any] func(*Store[T])

// WithFilter sets the predicate applied by List.
func WithFilter[T any](filter func(*T, []*dao.Parameter) bool) Option[T] {
	return func(s *Store[T]) { s.filter = filter }
}

// WithLogger sets the logger used to report unreadable documents.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(s *Store[T]) { s.logger = logger }
}

// WithFileSystem overrides the afs service.
func WithFileSystem[T any](fs afs.Service) Option[T] {
	return func(s *Store[T]) { s.fs = fs }
}

// Save persists a record. Keys may contain '/' to group records in folders.
func (s *Store[T]) Save(ctx context.Context, record *T) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(record)
	if !validKey(key) {
		return dao.ErrInvalidID
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	filePath := s.recordPath(key)
	if err = s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", filePath, err)
	}
	return nil
}

// Load retrieves a record or dao.ErrNotFound.
func (s *Store[T]) Load(ctx context.Context, key string) (*T, error) {
	if !validKey(key) {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.recordPath(key)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if %s exists: %w", filePath, err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	var ret T
	if err := json.Unmarshal(data, &ret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}
	return &ret, nil
}

// Delete removes a record.
func (s *Store[T]) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.recordPath(key)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if %s exists: %w", filePath, err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete %s: %w", filePath, err)
	}
	return nil
}

// List returns all records accepted by the filter.
func (s *Store[T]) List(ctx context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	return s.list(ctx, s.basePath, parameters)
}

// ListPrefix returns records stored under a key folder, e.g. every trace
// of one checkpoint.
func (s *Store[T]) ListPrefix(ctx context.Context, prefix string, parameters ...*dao.Parameter) ([]*T, error) {
	if !validKey(prefix) {
		return nil, dao.ErrInvalidID
	}
	location := url.Join(s.basePath, prefix)
	s.mu.RLock()
	exists, err := s.fs.Exists(ctx, location)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to check if %s exists: %w", location, err)
	}
	if !exists {
		return nil, nil
	}
	return s.list(ctx, location, parameters)
}

func (s *Store[T]) list(ctx context.Context, location string, parameters []*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, location, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", location, err)
	}
	var ret []*T
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "url", object.URL(), "error", err)
			continue
		}
		var record T
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("skipping malformed record", "url", object.URL(), "error", err)
			continue
		}
		if s.filter != nil && !s.filter(&record, parameters) {
			continue
		}
		ret = append(ret, &record)
	}
	return ret, nil
}

func (s *Store[T]) recordPath(key string) string {
	return url.Join(s.basePath, key+".json")
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return path.Clean(key) == key
}

// New creates a filesystem store rooted at basePath.
func New[T any](ctx context.Context, basePath string, keySelector func(*T) string, opts ...Option[T]) (*Store[T], error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	ret := &Store[T]{
		basePath:    url.Normalize(basePath, file.Scheme),
		fs:          afs.New(),
		keySelector: keySelector,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(ret)
	}
	exists, _ := ret.fs.Exists(ctx, ret.basePath)
	if !exists {
		if err := ret.fs.Create(ctx, ret.basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return ret, nil
}
