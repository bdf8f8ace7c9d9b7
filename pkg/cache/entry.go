package cache

import (
	"time"
)

// Entry is a cached response payload.
type Entry struct {
	// Key is the string form of the Key the entry was stored under.
	Key string `json:"key"`

	// Value is the serialized response body.
	Value []byte `json:"value"`

	// StoredAt is when the entry was written.
	StoredAt time.Time `json:"stored_at"`

	// TTL is how long the entry stays fresh after StoredAt.
	TTL time.Duration `json:"ttl"`
}

// ExpiresAt returns StoredAt + TTL.
func (e *Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// IsExpired returns true if the entry is stale at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Remaining returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) Remaining() time.Duration {
	ttl := time.Until(e.ExpiresAt())
	if ttl < 0 {
		return 0
	}
	return ttl
}
