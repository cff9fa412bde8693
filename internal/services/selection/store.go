package selection

import (
	"sort"
	"sync"
	"time"

	"github.com/vgrab/vgrab/internal/models"
	"github.com/vgrab/vgrab/internal/utils"
)

// Entry maps a short-lived token to a pending format choice. Format stays
// nil until the user taps a menu button.
type Entry struct {
	URL       string
	Format    *models.FormatSpec
	CreatedAt time.Time
}

// Store holds selection entries behind a TTL. A sweep runs on every Create
// so memory stays bounded without a background timer; a size cap evicts the
// oldest entries under sustained load.
type Store struct {
	mu         sync.Mutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewStore(ttl time.Duration, maxEntries int) *Store {
	return &Store{
		entries:    make(map[string]Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Create stores url under a fresh token and returns the token.
func (s *Store) Create(url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)
	s.enforceSizeLocked()

	// 8 hex chars keeps callback data short; retry on the unlikely collision
	var token string
	for {
		t, err := utils.GenerateToken(4)
		if err != nil {
			return "", err
		}
		if _, exists := s.entries[t]; !exists {
			token = t
			break
		}
	}

	s.entries[token] = Entry{URL: url, CreatedAt: now}
	return token, nil
}

// Get returns the entry for token, or ok=false when the token is unknown or
// expired. Expired entries are never resurrected.
func (s *Store) Get(token string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok || s.expired(entry, s.now()) {
		return Entry{}, false
	}
	return entry, true
}

// SetFormat records the chosen format for token. Returns false for unknown
// or expired tokens.
func (s *Store) SetFormat(token string, spec models.FormatSpec) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok || s.expired(entry, s.now()) {
		return false
	}

	entry.Format = &spec
	s.entries[token] = entry
	return true
}

// Delete removes a consumed token.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Sweep removes entries older than the TTL and returns how many were purged.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// Len reports the live entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) expired(entry Entry, now time.Time) bool {
	return now.Sub(entry.CreatedAt) >= s.ttl
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for token, entry := range s.entries {
		if s.expired(entry, now) {
			delete(s.entries, token)
			removed++
		}
	}
	return removed
}

// enforceSizeLocked evicts oldest-first down to the cap, so a burst of
// creates cannot grow the map without bound inside one TTL window.
func (s *Store) enforceSizeLocked() {
	if s.maxEntries <= 0 || len(s.entries) < s.maxEntries {
		return
	}

	type aged struct {
		token     string
		createdAt time.Time
	}
	all := make([]aged, 0, len(s.entries))
	for token, entry := range s.entries {
		all = append(all, aged{token, entry.CreatedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].createdAt.Before(all[j].createdAt) })

	for i := 0; i <= len(all)-s.maxEntries; i++ {
		delete(s.entries, all[i].token)
	}
}
