// Package cache stores completed model responses so that re-running a stage
// does not pay for the same request twice.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Kinds accepted by New.
const (
	KindNone    = "none"
	KindMemory  = "memory"
	KindDisk    = "disk"
	KindLayered = "layered"
)

// CacheKey generates a cache key from the parts that identify a request.
// Parts are separated by NUL so ("ab", "c") and ("a", "bc") differ.
func CacheKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "defuse:v1:" + hex.EncodeToString(hash[:])
}

// New builds a cache of the given kind. It returns nil for KindNone or an
// empty kind.
func New(kind, dir string, ttl time.Duration) (Cache, error) {
	switch strings.ToLower(kind) {
	case "", KindNone:
		return nil, nil
	case KindMemory:
		return NewMemoryCache(ttl, 10*time.Minute), nil
	case KindDisk:
		if dir == "" {
			return nil, eris.New("cache: disk cache needs a directory")
		}
		return NewDiskCache(dir, ttl), nil
	case KindLayered:
		if dir == "" {
			return nil, eris.New("cache: layered cache needs a directory")
		}
		return NewLayeredCache(ttl, dir, ttl), nil
	default:
		return nil, eris.Errorf("cache: unknown kind %q (supported: none, memory, disk, layered)", kind)
	}
}
