package store

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is applied when a graphic arrives with TTLSeconds == 0.
const DefaultTTL = 5 * time.Second

// Kind discriminates how the renderer draws a graphic.
type Kind string

const (
	KindText   Kind = "text"
	KindRect   Kind = "rect"
	KindVector Kind = "vect"
)

// VectorPoint is one rendered point of a vector graphic.
type VectorPoint struct {
	X      float64
	Y      float64
	Color  string
	Marker string
	Text   string
}

// Graphic is one addressable visual entity. ClientID identifies the producing
// connection for diagnostics only; any client may overwrite any id.
type Graphic struct {
	ID         string
	Kind       Kind
	Text       string
	Size       string
	Color      string
	Fill       string
	X          float64
	Y          float64
	W          float64
	H          float64
	Vector     []VectorPoint
	TTLSeconds int
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero time means never expires
	ClientID   string
}

func (g Graphic) clone() Graphic {
	if g.Vector != nil {
		points := make([]VectorPoint, len(g.Vector))
		copy(points, g.Vector)
		g.Vector = points
	}
	return g
}

// Store is a thread-safe id-to-graphic map with absolute-expiry eviction.
// Writers are sessions; readers are the sweep and the renderer.
type Store struct {
	mu         sync.RWMutex
	defaultTTL time.Duration
	graphics   map[string]Graphic
}

// New builds an empty store. A non-positive defaultTTL falls back to
// DefaultTTL.
func New(defaultTTL time.Duration) *Store {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Store{
		defaultTTL: defaultTTL,
		graphics:   make(map[string]Graphic),
	}
}

// Upsert replaces any prior graphic with the same id atomically, stamping
// CreatedAt and resolving ExpiresAt from TTLSeconds: 0 means the store
// default, negative means never expires, positive counts from now.
func (s *Store) Upsert(g Graphic) Graphic {
	now := time.Now()
	g = g.clone()
	g.CreatedAt = now
	switch {
	case g.TTLSeconds < 0:
		g.ExpiresAt = time.Time{}
	case g.TTLSeconds == 0:
		g.ExpiresAt = now.Add(s.defaultTTL)
	default:
		g.ExpiresAt = now.Add(time.Duration(g.TTLSeconds) * time.Second)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphics[g.ID] = g
	return g.clone()
}

// Get returns a copy of the graphic stored under id.
func (s *Store) Get(id string) (Graphic, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphics[id]
	if !ok {
		return Graphic{}, false
	}
	return g.clone(), true
}

// Remove deletes the graphic stored under id, reporting whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.graphics[id]
	delete(s.graphics, id)
	return ok
}

// RemoveAll empties the store, ignoring TTLs, and returns the count removed.
func (s *Store) RemoveAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := len(s.graphics)
	s.graphics = make(map[string]Graphic)
	return removed
}

// SweepExpired removes every graphic whose ExpiresAt has passed at now and
// returns the count removed. Never-expiring graphics are left alone.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, g := range s.graphics {
		if g.ExpiresAt.IsZero() {
			continue
		}
		if !g.ExpiresAt.After(now) {
			delete(s.graphics, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns a point-in-time copy ordered by id, independently iterable
// by the renderer while sessions keep writing.
func (s *Store) Snapshot() []Graphic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Graphic, 0, len(s.graphics))
	for _, g := range s.graphics {
		out = append(out, g.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the current live graphic count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.graphics)
}
