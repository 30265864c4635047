package domain

import "time"

// CacheEntry represents a memoized analysis result. The key is derived from
// a hash of the input content plus the operation and exact model identifier,
// so results are never reused across model versions. Entries past ExpiresAt
// are treated as absent and are eligible for sweep eviction.
type CacheEntry struct {
	Key            string    `gorm:"type:text;primaryKey" json:"key"`
	OperationType  string    `gorm:"type:text;not null;index:idx_cache_operation" json:"operation_type"`
	Model          string    `gorm:"type:text;not null" json:"model"`
	Value          string    `gorm:"type:text;not null" json:"value"`
	ExpiresAt      time.Time `gorm:"index:idx_cache_expires" json:"expires_at"`
	AccessCount    int64     `gorm:"default:0" json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// Expired reports whether the entry is past its TTL at the given instant.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
