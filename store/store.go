// Package store persists broadcast artifacts on the local filesystem.
//
// Artifacts live in two buckets under a common root, one file per key. Writes are
// write-once: PutIfAbsent never replaces an existing artifact, and concurrent writers
// racing on the same key produce exactly one winner.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no artifact exists for a key.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidKey is returned for keys that cannot name a file inside a bucket.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// tempSuffix marks the staging files PutIfAbsent writes before publishing an artifact.
const tempSuffix = ".tmp"

// IsTempName reports whether a file name belongs to an artifact still being written.
// Keys never start with a dot, so staging files cannot collide with artifacts.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, tempSuffix)
}

// Bucket is a logical namespace within the store.
type Bucket string

const (
	// Transcripts holds raw chat transcripts so they can be reused across collection attempts.
	Transcripts Bucket = "chats"
	// Streams holds composed stream records.
	Streams Bucket = "stream_data"
)

// PutResult reports the outcome of PutIfAbsent.
type PutResult int

const (
	Written PutResult = iota
	AlreadyExists
)

func (r PutResult) String() string {
	if r == AlreadyExists {
		return "already_exists"
	}
	return "written"
}

// Store is a filesystem artifact store.
type Store struct {
	root  string
	codec Codec
}

// New returns a store rooted at dir. Bucket directories are created lazily on first write.
func New(dir string, codec Codec) *Store {
	if codec == nil {
		codec = JSON{}
	}
	return &Store{root: dir, codec: codec}
}

// Root returns the directory containing all buckets.
func (s *Store) Root() string { return s.root }

// BucketDir returns the directory backing a bucket.
func (s *Store) BucketDir(b Bucket) string { return filepath.Join(s.root, string(b)) }

// Path returns where the artifact for key is (or would be) stored.
func (s *Store) Path(b Bucket, key string) string {
	return filepath.Join(s.BucketDir(b), key+s.codec.Ext())
}

func validKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w %q", ErrInvalidKey, key)
	}
	return nil
}

// Exists reports whether an artifact is stored for key.
func (s *Store) Exists(b Bucket, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(s.Path(b, key))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat artifact: %w", err)
	}
}

// PutIfAbsent stores v under key unless an artifact already exists. The value is fully
// written to a temporary file first and then hard-linked into place, so readers never
// observe a partial artifact and the link fails if another writer got there first.
// It returns the artifact location in both cases.
func (s *Store) PutIfAbsent(b Bucket, key string, v any) (PutResult, string, error) {
	if err := validKey(key); err != nil {
		return 0, "", err
	}
	dst := s.Path(b, key)
	if _, err := os.Stat(dst); err == nil {
		return AlreadyExists, dst, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return 0, "", fmt.Errorf("encode artifact %s: %w", key, err)
	}
	data, err := s.codec.Encode(raw)
	if err != nil {
		return 0, "", fmt.Errorf("encode artifact %s: %w", key, err)
	}

	dir := s.BucketDir(b)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("create bucket dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+key+".*"+tempSuffix)
	if err != nil {
		return 0, "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove temp artifact", slog.String("path", tmpName), slog.Any("err", err))
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return 0, "", fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, "", fmt.Errorf("sync artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, "", fmt.Errorf("close artifact %s: %w", key, err)
	}

	if err := os.Link(tmpName, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return AlreadyExists, dst, nil
		}
		return 0, "", fmt.Errorf("publish artifact %s: %w", key, err)
	}
	return Written, dst, nil
}

// GetRaw returns the decoded JSON bytes stored under key.
func (s *Store) GetRaw(b Bucket, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(b, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	raw, err := s.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return raw, nil
}

// Get decodes the artifact stored under key into v.
func (s *Store) Get(b Bucket, key string, v any) error {
	raw, err := s.GetRaw(b, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode artifact %s: %w", key, err)
	}
	return nil
}
