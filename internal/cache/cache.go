// Package cache memoizes expensive upstream computations on local disk.
//
// A record is addressed by the SHA-256 digest of a caller-supplied semantic
// key (for example "transcript-<episode url>"), so the same key always maps
// to the same file across runs. Records are written once and only removed by
// hand. Each key is guarded by an advisory file lock held from lookup to
// write, and records are written to a temporary file and renamed into place,
// so two processes asking for the same key compute it at most once.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

const (
	recordExt = ".json"
	lockExt   = ".lock"

	lockRetryDelay = 100 * time.Millisecond
)

// Static errors for cache operations.
var (
	// ErrWrite is matched by every *WriteError.
	ErrWrite = errors.New("cache: write failed")
	// ErrNotCached is returned by Remove when no record exists for the key.
	ErrNotCached = errors.New("cache: no record for key")
)

// WriteError reports that a computed value could not be persisted. The value
// returned alongside it is valid for the current run; the next run recomputes.
type WriteError struct {
	Key  string
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache: persist %q to %s: %v", e.Key, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is makes every WriteError match ErrWrite.
func (e *WriteError) Is(target error) bool {
	return target == ErrWrite
}

// record is the on-disk envelope.
type record struct {
	Key       string          `json:"key"`
	Codec     string          `json:"codec"`
	CreatedAt time.Time       `json:"created_at"`
	Value     json.RawMessage `json:"value"`
}

// Entry summarizes a persisted record.
type Entry struct {
	Key       string    `json:"key"`
	Digest    string    `json:"digest"`
	Codec     string    `json:"codec"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
	Path      string    `json:"path"`
}

// Store is a directory of cache records.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore returns a store rooted at dir. The directory is created on first use.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(dir) == "" {
		dir = "cache"
	}
	return &Store{
		dir:    dir,
		logger: logger.With(slog.String("component", "cache")),
		now:    time.Now,
	}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Digest maps a semantic key to its stable storage identifier.
func Digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Path returns the record path for key.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, Digest(key)+recordExt)
}

// GetOrCompute returns the cached value for key, or runs compute, persists its
// result and returns it. A failing compute writes nothing and its error is
// returned unchanged, so the next call with the same key retries. When the
// result cannot be persisted the value is returned together with a *WriteError.
func GetOrCompute[T any](ctx context.Context, s *Store, key string, codec Codec[T], compute func(context.Context) (T, error)) (T, error) {
	var zero T
	path := s.Path(key)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		// Without a directory there is nothing to lock or read; compute
		// anyway so the run can continue, and report the write failure.
		v, cerr := compute(ctx)
		if cerr != nil {
			return zero, cerr
		}
		return v, &WriteError{Key: key, Path: path, Err: err}
	}

	lock := flock.New(strings.TrimSuffix(path, recordExt) + lockExt)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return zero, fmt.Errorf("cache: lock %q: %w", key, err)
	}
	if !locked {
		return zero, fmt.Errorf("cache: lock %q: not acquired", key)
	}
	defer func() { _ = lock.Unlock() }()

	if v, ok := load(s, key, path, codec); ok {
		s.logger.InfoContext(ctx, "cache hit", slog.String("key", key))
		return v, nil
	}

	v, err := compute(ctx)
	if err != nil {
		return zero, err
	}
	s.logger.InfoContext(ctx, "cache miss", slog.String("key", key))

	encoded, err := codec.Encode(v)
	if err != nil {
		return v, &WriteError{Key: key, Path: path, Err: err}
	}
	rec := record{
		Key:       key,
		Codec:     codec.Name(),
		CreatedAt: s.now().UTC(),
		Value:     encoded,
	}
	if err := writeRecord(s.dir, path, rec); err != nil {
		return v, &WriteError{Key: key, Path: path, Err: err}
	}
	return v, nil
}

// load reads and decodes the record for key. Missing records are a miss;
// unreadable or mismatched ones are logged and treated as a miss so they get
// overwritten by a fresh computation.
func load[T any](s *Store, key, path string, codec Codec[T]) (T, bool) {
	var zero T
	data, err := os.ReadFile(path) // #nosec G304 - path is derived from a digest
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("cache record unreadable",
				slog.String("key", key),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return zero, false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("cache record corrupt, recomputing",
			slog.String("key", key),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return zero, false
	}
	if rec.Codec != codec.Name() {
		s.logger.Warn("cache record codec mismatch, recomputing",
			slog.String("key", key),
			slog.String("stored", rec.Codec),
			slog.String("expected", codec.Name()),
		)
		return zero, false
	}
	v, err := codec.Decode(rec.Value)
	if err != nil {
		s.logger.Warn("cache record undecodable, recomputing",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return zero, false
	}
	return v, true
}

// writeRecord writes rec to a temporary file in dir and renames it to path.
func writeRecord(dir, path string, rec record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// List returns every persisted record, newest first.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: read dir: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || filepath.Ext(name) != recordExt {
			continue
		}
		path := filepath.Join(s.dir, name)
		info, err := de.Info()
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path) // #nosec G304 - listing our own directory
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping corrupt cache record", slog.String("path", path))
			continue
		}
		entries = append(entries, Entry{
			Key:       rec.Key,
			Digest:    strings.TrimSuffix(name, recordExt),
			Codec:     rec.Codec,
			CreatedAt: rec.CreatedAt,
			SizeBytes: info.Size(),
			Path:      path,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Remove deletes the record for key. It is the only eviction path.
func (s *Store) Remove(key string) error {
	return s.RemoveDigest(Digest(key))
}

// RemoveDigest deletes the record with the given digest.
func (s *Store) RemoveDigest(digest string) error {
	path := filepath.Join(s.dir, digest+recordExt)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotCached
		}
		return fmt.Errorf("cache: remove %s: %w", path, err)
	}
	_ = os.Remove(filepath.Join(s.dir, digest+lockExt))
	s.logger.Info("removed cache record", slog.String("digest", digest))
	return nil
}
