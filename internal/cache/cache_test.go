package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dubaigit/task-mail-sub001/internal/domain"
	"github.com/dubaigit/task-mail-sub001/internal/logger"
)

// fakePersistent is an in-memory PersistentStore with switchable failure.
type fakePersistent struct {
	entries map[string]*domain.CacheEntry
	fail    bool
	gets    int
	touches int
}

func newFakePersistent() *fakePersistent {
	return &fakePersistent{entries: make(map[string]*domain.CacheEntry)}
}

func (p *fakePersistent) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	p.gets++
	if p.fail {
		return nil, errors.New("database unavailable")
	}
	e, ok := p.entries[key]
	if !ok || e.Expired(time.Now()) {
		return nil, nil
	}
	return e, nil
}

func (p *fakePersistent) Touch(ctx context.Context, key string) error {
	if p.fail {
		return errors.New("database unavailable")
	}
	if e, ok := p.entries[key]; ok {
		e.AccessCount++
		e.LastAccessedAt = time.Now()
		p.touches++
	}
	return nil
}

func (p *fakePersistent) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if p.fail {
		return errors.New("database unavailable")
	}
	p.entries[entry.Key] = entry
	return nil
}

func (p *fakePersistent) Delete(ctx context.Context, key string) error {
	delete(p.entries, key)
	return nil
}

func (p *fakePersistent) DeleteByOperation(ctx context.Context, op string) (int64, error) {
	var n int64
	for k, e := range p.entries {
		if e.OperationType == op {
			delete(p.entries, k)
			n++
		}
	}
	return n, nil
}

func (p *fakePersistent) DeleteAll(ctx context.Context) (int64, error) {
	n := int64(len(p.entries))
	p.entries = make(map[string]*domain.CacheEntry)
	return n, nil
}

func (p *fakePersistent) SweepExpired(ctx context.Context) (int64, error) {
	var n int64
	now := time.Now()
	for k, e := range p.entries {
		if e.Expired(now) {
			delete(p.entries, k)
			n++
		}
	}
	return n, nil
}

func (p *fakePersistent) TrimLRU(ctx context.Context, maxEntries int) (int64, error) {
	return 0, nil
}

func newTestStore(t *testing.T, persistent PersistentStore, opts Options) *Store {
	t.Helper()
	s, err := New(persistent, opts, logger.Default())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("body", domain.OperationClassify, "gpt-4o-mini")
	b := Key("body", domain.OperationClassify, "gpt-4o-mini")
	if a != b {
		t.Errorf("same input produced different keys: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestKeySeparatesDimensions(t *testing.T) {
	base := Key("body", domain.OperationClassify, "gpt-4o-mini")

	if k := Key("other body", domain.OperationClassify, "gpt-4o-mini"); k == base {
		t.Error("different content must produce a different key")
	}
	if k := Key("body", domain.OperationSentiment, "gpt-4o-mini"); k == base {
		t.Error("different operation must produce a different key")
	}
	if k := Key("body", domain.OperationClassify, "gpt-4o"); k == base {
		t.Error("different model must produce a different key")
	}
}

func TestStore_PutGet(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour})
	ctx := context.Background()

	if _, ok := s.Get(ctx, "body", domain.OperationClassify, "m1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	if err := s.Put(ctx, "body", domain.OperationClassify, "m1", `{"classification":"fyi"}`); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	v, ok := s.Get(ctx, "body", domain.OperationClassify, "m1")
	if !ok || v != `{"classification":"fyi"}` {
		t.Errorf("expected hit with stored value, got %q (hit=%v)", v, ok)
	}

	// Different model is a miss even for identical content.
	if _, ok := s.Get(ctx, "body", domain.OperationClassify, "m2"); ok {
		t.Error("expected miss for a different model")
	}
}

func TestStore_MemoryTierAvoidsPersistentReads(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour})
	ctx := context.Background()

	s.Put(ctx, "body", domain.OperationDraft, "m1", "v")
	before := persistent.gets
	for i := 0; i < 5; i++ {
		if _, ok := s.Get(ctx, "body", domain.OperationDraft, "m1"); !ok {
			t.Fatal("expected hit")
		}
	}
	if persistent.gets != before {
		t.Errorf("expected memory-tier hits, persistent tier saw %d reads", persistent.gets-before)
	}
}

func TestStore_MemoryHitTouchesPersistentRow(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour})
	ctx := context.Background()

	s.Put(ctx, "body", domain.OperationClassify, "m1", "v")
	for i := 0; i < 3; i++ {
		if _, ok := s.Get(ctx, "body", domain.OperationClassify, "m1"); !ok {
			t.Fatal("expected hit")
		}
	}

	if persistent.touches != 3 {
		t.Errorf("expected 3 touches from memory-tier hits, got %d", persistent.touches)
	}
	key := Key("body", domain.OperationClassify, "m1")
	if persistent.entries[key].AccessCount != 3 {
		t.Errorf("expected access count 3, got %d", persistent.entries[key].AccessCount)
	}
}

func TestStore_PersistentPromotion(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour})
	ctx := context.Background()

	// Seed the persistent tier directly, as a restarted process would find it.
	key := Key("body", domain.OperationClassify, "m1")
	persistent.entries[key] = &domain.CacheEntry{
		Key:           key,
		OperationType: string(domain.OperationClassify),
		Model:         "m1",
		Value:         "v",
		ExpiresAt:     time.Now().Add(time.Hour),
	}

	v, ok := s.Get(ctx, "body", domain.OperationClassify, "m1")
	if !ok || v != "v" {
		t.Fatalf("expected persistent hit, got %q (hit=%v)", v, ok)
	}

	// Promoted: further reads stay in memory.
	before := persistent.gets
	s.Get(ctx, "body", domain.OperationClassify, "m1")
	if persistent.gets != before {
		t.Error("expected promoted entry to be served from memory")
	}
}

func TestStore_ExpiredEntryIsMiss(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Millisecond})
	ctx := context.Background()

	s.Put(ctx, "body", domain.OperationClassify, "m1", "v")
	time.Sleep(5 * time.Millisecond)

	if _, ok := s.Get(ctx, "body", domain.OperationClassify, "m1"); ok {
		t.Error("expected expired entry to be a miss")
	}
}

func TestStore_PersistentErrorIsForcedMiss(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour, MemoryEntries: 1})
	ctx := context.Background()

	s.Put(ctx, "body", domain.OperationClassify, "m1", "v")
	// Evict from the memory tier so the read must go persistent.
	s.Put(ctx, "other", domain.OperationClassify, "m1", "w")

	persistent.fail = true
	if _, ok := s.Get(ctx, "body", domain.OperationClassify, "m1"); ok {
		t.Error("expected forced miss when the persistent tier errors")
	}
}

func TestStore_PutSurvivesPersistentError(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour})
	ctx := context.Background()

	persistent.fail = true
	if err := s.Put(ctx, "body", domain.OperationClassify, "m1", "v"); err == nil {
		t.Error("expected put to report the persistent-tier error")
	}
	// The memory tier still serves the value.
	if v, ok := s.Get(ctx, "body", domain.OperationClassify, "m1"); !ok || v != "v" {
		t.Errorf("expected memory-tier hit despite persistent failure, got %q (hit=%v)", v, ok)
	}
}

func TestStore_InvalidateKey(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour})
	ctx := context.Background()

	s.Put(ctx, "body", domain.OperationClassify, "m1", "v")
	if err := s.InvalidateKey(ctx, Key("body", domain.OperationClassify, "m1")); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, ok := s.Get(ctx, "body", domain.OperationClassify, "m1"); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestStore_InvalidateOperation(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour})
	ctx := context.Background()

	s.Put(ctx, "a", domain.OperationClassify, "m1", "v1")
	s.Put(ctx, "b", domain.OperationClassify, "m1", "v2")
	s.Put(ctx, "c", domain.OperationDraft, "m1", "v3")

	removed, err := s.InvalidateOperation(ctx, domain.OperationClassify)
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed entries, got %d", removed)
	}
	if _, ok := s.Get(ctx, "a", domain.OperationClassify, "m1"); ok {
		t.Error("expected classify entry gone")
	}
	if v, ok := s.Get(ctx, "c", domain.OperationDraft, "m1"); !ok || v != "v3" {
		t.Error("expected draft entry to survive")
	}
}

func TestStore_Flush(t *testing.T) {
	persistent := newFakePersistent()
	s := newTestStore(t, persistent, Options{TTL: time.Hour})
	ctx := context.Background()

	s.Put(ctx, "a", domain.OperationClassify, "m1", "v1")
	s.Put(ctx, "b", domain.OperationDraft, "m1", "v2")

	removed, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed entries, got %d", removed)
	}
	if _, ok := s.Get(ctx, "a", domain.OperationClassify, "m1"); ok {
		t.Error("expected empty cache after flush")
	}
}
