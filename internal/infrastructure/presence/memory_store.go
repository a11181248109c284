package presence

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	domain "github.com/lvsuno/citinfos-go/internal/domain/presence"
)

// MemoryStore is a mutex-guarded in-memory presence store. It backs local
// development and deterministic tests; semantics mirror the redis adapter,
// including sliding expiry that is only ever extended, never shortened.
type MemoryStore struct {
	mu          sync.RWMutex
	entries     map[string]*memoryEntry
	clock       domain.Clock
	unavailable bool
}

type memoryEntry struct {
	hash      map[string]string
	set       map[string]struct{}
	zset      map[string]float64
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an in-memory presence store using the given clock.
func NewMemoryStore(clock domain.Clock) *MemoryStore {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		clock:   clock,
	}
}

// SetUnavailable toggles simulated outage: every subsequent operation
// returns the typed StoreUnavailable error until cleared.
func (s *MemoryStore) SetUnavailable(unavailable bool) {
	s.mu.Lock()
	s.unavailable = unavailable
	s.mu.Unlock()
}

func (s *MemoryStore) check(op string) error {
	if s.unavailable {
		return domain.NewStoreUnavailable(op, errors.New("store marked unavailable"))
	}
	return nil
}

// get returns the live entry for key, lazily evicting it when expired.
// Callers must hold the write lock.
func (s *MemoryStore) get(key string) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.clock().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) getOrCreate(key string) *memoryEntry {
	e := s.get(key)
	if e == nil {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	return e
}

// touch extends expiry to at least now+ttl; a longer remaining expiry wins.
func (s *MemoryStore) touch(e *memoryEntry, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	candidate := s.clock().Add(ttl)
	if e.expiresAt.IsZero() || candidate.After(e.expiresAt) {
		e.expiresAt = candidate
	}
}

func (s *MemoryStore) SetField(ctx context.Context, key, field, value string, ttl time.Duration) error {
	return s.SetFields(ctx, key, map[string]string{field: value}, ttl)
}

func (s *MemoryStore) SetFields(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set_fields"); err != nil {
		return err
	}

	e := s.getOrCreate(key)
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	for f, v := range fields {
		e.hash[f] = v
	}
	s.touch(e, ttl)
	return nil
}

func (s *MemoryStore) GetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get_all"); err != nil {
		return nil, err
	}

	e := s.get(key)
	result := make(map[string]string)
	if e != nil {
		for f, v := range e.hash {
			result[f] = v
		}
	}
	return result, nil
}

func (s *MemoryStore) IncrementField(_ context.Context, key, field string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("increment_field"); err != nil {
		return 0, err
	}

	e := s.getOrCreate(key)
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	current := parseInt(e.hash[field])
	current += delta
	e.hash[field] = formatInt(current)
	s.touch(e, ttl)
	return current, nil
}

func (s *MemoryStore) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("add_to_set"); err != nil {
		return err
	}

	e := s.getOrCreate(key)
	if e.set == nil {
		e.set = make(map[string]struct{})
	}
	e.set[member] = struct{}{}
	s.touch(e, ttl)
	return nil
}

func (s *MemoryStore) RemoveFromSet(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("remove_from_set"); err != nil {
		return err
	}

	if e := s.get(key); e != nil {
		delete(e.set, member)
		if len(e.set) == 0 {
			delete(s.entries, key)
		}
	}
	return nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set_members"); err != nil {
		return nil, err
	}

	e := s.get(key)
	if e == nil {
		return []string{}, nil
	}
	members := make([]string, 0, len(e.set))
	for m := range e.set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (s *MemoryStore) SetLength(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set_length"); err != nil {
		return 0, err
	}

	e := s.get(key)
	if e == nil {
		return 0, nil
	}
	return int64(len(e.set)), nil
}

func (s *MemoryStore) SortedSetIncrement(_ context.Context, key, member string, delta float64, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("sorted_set_increment"); err != nil {
		return 0, err
	}

	e := s.getOrCreate(key)
	if e.zset == nil {
		e.zset = make(map[string]float64)
	}
	e.zset[member] += delta
	s.touch(e, ttl)
	return e.zset[member], nil
}

func (s *MemoryStore) SortedSetTopN(_ context.Context, key string, n int64) ([]domain.ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("sorted_set_top_n"); err != nil {
		return nil, err
	}

	e := s.get(key)
	if e == nil {
		return []domain.ScoredMember{}, nil
	}

	members := make([]domain.ScoredMember, 0, len(e.zset))
	for m, score := range e.zset {
		members = append(members, domain.ScoredMember{Member: m, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	if n > 0 && int64(len(members)) > n {
		members = members[:n]
	}
	return members, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get"); err != nil {
		return "", false, err
	}

	e := s.get(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set"); err != nil {
		return err
	}

	e := s.getOrCreate(key)
	e.value = value
	if ttl > 0 {
		e.expiresAt = s.clock().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("delete"); err != nil {
		return err
	}

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("ping")
}

func parseInt(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
