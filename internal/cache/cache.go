// Package cache implements the content-addressed analysis result cache:
// an in-process LRU tier in front of the durable cache_entries table.
// Cache trouble is never allowed to fail a job; persistent-tier errors
// degrade to forced misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/dubaigit/task-mail-sub001/internal/logger"
	lru "github.com/hashicorp/golang-lru/v2"
)

// PersistentStore is the durable tier contract, implemented by
// repository.CacheRepository.
type PersistentStore interface {
	Get(ctx context.Context, key string) (*domain.CacheEntry, error)
	Put(ctx context.Context, entry *domain.CacheEntry) error
	Touch(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
	DeleteByOperation(ctx context.Context, op string) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	SweepExpired(ctx context.Context) (int64, error)
	TrimLRU(ctx context.Context, maxEntries int) (int64, error)
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// Store is the two-tier result cache.
type Store struct {
	mem        *lru.Cache[string, memEntry]
	persistent PersistentStore
	ttl        time.Duration
	maxEntries int
	log        *logger.Logger
}

// Options configures a Store.
type Options struct {
	TTL           time.Duration // entry lifetime, default 24h
	MaxEntries    int           // persistent tier size bound for LRU trimming
	MemoryEntries int           // memory tier capacity
}

// New creates a Store over the given persistent tier.
func New(persistent PersistentStore, opts Options, log *logger.Logger) (*Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.MemoryEntries <= 0 {
		opts.MemoryEntries = 4096
	}
	mem, err := lru.New[string, memEntry](opts.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}
	return &Store{
		mem:        mem,
		persistent: persistent,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		log:        log,
	}, nil
}

// Key derives the deterministic cache key for an input. The model identifier
// is part of the key so results are never reused across model versions.
func Key(content string, op domain.OperationType, model string) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached value for (content, operation, model) if present and
// not expired. Persistent-tier errors are treated as misses.
func (s *Store) Get(ctx context.Context, content string, op domain.OperationType, model string) (string, bool) {
	key := Key(content, op, model)
	now := time.Now()

	if e, ok := s.mem.Get(key); ok {
		if now.Before(e.expiresAt) {
			// Keep the durable row hot too, or LRU trimming would evict the
			// most-read keys once the memory tier absorbs their lookups.
			if err := s.persistent.Touch(ctx, key); err != nil {
				s.log.WithError(err).Debug("Cache touch failed")
			}
			return e.value, true
		}
		s.mem.Remove(key)
	}

	entry, err := s.persistent.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).Warn("Cache read failed, treating as miss")
		return "", false
	}
	if entry == nil {
		return "", false
	}

	// Promote to the memory tier.
	s.mem.Add(key, memEntry{value: entry.Value, expiresAt: entry.ExpiresAt})
	return entry.Value, true
}

// Put stores a value for (content, operation, model), overwriting any
// existing entry for the same key. Last write wins.
func (s *Store) Put(ctx context.Context, content string, op domain.OperationType, model, value string) error {
	key := Key(content, op, model)
	expiresAt := time.Now().Add(s.ttl)

	s.mem.Add(key, memEntry{value: value, expiresAt: expiresAt})

	entry := &domain.CacheEntry{
		Key:           key,
		OperationType: string(op),
		Model:         model,
		Value:         value,
		ExpiresAt:     expiresAt,
	}
	if err := s.persistent.Put(ctx, entry); err != nil {
		s.log.WithError(err).Warn("Cache write failed, memory tier only")
		return err
	}
	return nil
}

// InvalidateKey removes a single entry from both tiers.
func (s *Store) InvalidateKey(ctx context.Context, key string) error {
	s.mem.Remove(key)
	return s.persistent.Delete(ctx, key)
}

// InvalidateOperation removes every entry for an operation type from both
// tiers. The memory tier is purged wholesale: keys do not encode the
// operation reversibly.
func (s *Store) InvalidateOperation(ctx context.Context, op domain.OperationType) (int64, error) {
	s.mem.Purge()
	return s.persistent.DeleteByOperation(ctx, string(op))
}

// Flush removes every entry from both tiers.
func (s *Store) Flush(ctx context.Context) (int64, error) {
	s.mem.Purge()
	return s.persistent.DeleteAll(ctx)
}

// RunSweeper periodically evicts expired entries and trims the persistent
// tier to its size bound. Blocks until ctx is cancelled; eviction never
// blocks Get/Put callers.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.persistent.SweepExpired(ctx)
			if err != nil {
				s.log.WithError(err).Warn("Cache sweep failed")
				continue
			}
			var trimmed int64
			if s.maxEntries > 0 {
				trimmed, err = s.persistent.TrimLRU(ctx, s.maxEntries)
				if err != nil {
					s.log.WithError(err).Warn("Cache trim failed")
				}
			}
			if swept > 0 || trimmed > 0 {
				s.log.WithFields(logger.Fields{
					"swept":   swept,
					"trimmed": trimmed,
				}).Info("Cache sweep completed")
			}
		}
	}
}
