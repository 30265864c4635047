package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheRepository is the persistent tier of the result cache.
type CacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get retrieves a cache entry by key. Expired entries are reported as absent.
// A hit bumps the access accounting in place.
func (r *CacheRepository) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	if err := r.db.WithContext(ctx).First(&entry, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if entry.Expired(time.Now()) {
		return nil, nil
	}

	// Access accounting is best effort; a failed bump never fails the read.
	r.db.WithContext(ctx).Model(&domain.CacheEntry{}).Where("key = ?", key).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": time.Now(),
		})

	return &entry, nil
}

// Touch bumps the access accounting for a key without reading it. Keeps
// entries served from an upstream memory tier hot for LRU trimming.
func (r *CacheRepository) Touch(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Model(&domain.CacheEntry{}).Where("key = ?", key).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": time.Now(),
		}).Error
}

// Put creates or overwrites the entry for a key. Last write wins.
func (r *CacheRepository) Put(ctx context.Context, entry *domain.CacheEntry) error {
	now := time.Now()
	entry.LastAccessedAt = now
	entry.CreatedAt = now
	entry.UpdatedAt = now
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":            entry.Value,
			"operation_type":   entry.OperationType,
			"model":            entry.Model,
			"expires_at":       entry.ExpiresAt,
			"last_accessed_at": now,
			"updated_at":       now,
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Delete removes a single entry by key.
func (r *CacheRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Delete(&domain.CacheEntry{}, "key = ?", key).Error
}

// DeleteByOperation removes every entry for an operation type. Used when a
// model upgrade invalidates all results of that operation.
func (r *CacheRepository) DeleteByOperation(ctx context.Context, op string) (int64, error) {
	res := r.db.WithContext(ctx).Delete(&domain.CacheEntry{}, "operation_type = ?", op)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to invalidate operation %s: %w", op, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteAll removes every cache entry.
func (r *CacheRepository) DeleteAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("1 = 1").Delete(&domain.CacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to flush cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SweepExpired deletes entries past their TTL. Returns the number removed.
func (r *CacheRepository) SweepExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&domain.CacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep expired entries: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TrimLRU evicts least-recently-used entries until at most maxEntries remain.
func (r *CacheRepository) TrimLRU(ctx context.Context, maxEntries int) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.CacheEntry{}).Count(&count).Error; err != nil {
		return 0, err
	}
	excess := count - int64(maxEntries)
	if excess <= 0 {
		return 0, nil
	}

	var keys []string
	if err := r.db.WithContext(ctx).Model(&domain.CacheEntry{}).
		Order("last_accessed_at ASC").
		Limit(int(excess)).
		Pluck("key", &keys).Error; err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).Delete(&domain.CacheEntry{}, "key IN ?", keys)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to trim cache: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Count returns the total number of stored entries, expired included.
func (r *CacheRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.CacheEntry{}).Count(&count).Error
	return count, err
}
