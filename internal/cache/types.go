package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrEmptyValue is returned when an empty value is stored
	ErrEmptyValue = errors.New("refusing to cache empty audio")
)

// CacheStats holds cache performance metrics
type CacheStats struct {
	Capacity int64 // Maximum capacity in bytes

	Size      int64 // Current size in bytes
	ItemCount int64 // Number of items in cache

	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
	HitRate   float64 // hits / (hits + misses)
}

// CacheConfig holds configuration for the synthesis cache
type CacheConfig struct {
	// Capacity in bytes; zero disables caching
	Capacity int64

	// TTL bounds how long an entry may be served; zero means no expiry
	TTL time.Duration
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Capacity: 32 * 1024 * 1024, // 32MB
		TTL:      time.Hour,
	}
}

// Key identifies one synthesized utterance.
type Key struct {
	Voice  string
	Format string
	Text   string
}

// String returns the hex sha256 of the key components.
func (k Key) String() string {
	h := sha256.New()
	h.Write([]byte(k.Voice))
	h.Write([]byte{0})
	h.Write([]byte(k.Format))
	h.Write([]byte{0})
	h.Write([]byte(k.Text))
	return hex.EncodeToString(h.Sum(nil))
}
