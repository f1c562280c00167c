// Package peercache keeps short-lived records of recently seen remote
// peers: when they were last connected, why the session ended, and what
// traffic it carried. Records expire on a TTL so the cache stays bounded
// no matter how many endpoints come and go.
package peercache

import (
	"sort"
	"sync"
	"time"
)

// Record is what the cache remembers about one endpoint.
type Record struct {
	Endpoint  string
	FirstSeen time.Time
	LastSeen  time.Time
	Sessions  int
	Reason    string // how the most recent session ended
	BytesIn   uint64
	BytesOut  uint64
	MsgsIn    uint64
	MsgsOut   uint64
	Resends   uint64
	RTT       time.Duration
}

// Metrics are cumulative cache counters.
type Metrics struct {
	Upserts uint64
	Hits    uint64
	Misses  uint64
	Expired uint64
	Evicted uint64
}

// Options configures a Store. Zero values take the defaults.
type Options struct {
	TTL             time.Duration // record lifetime, default 10m
	MaxEntries      int           // hard cap, default 1024; oldest evicted
	CleanupInterval time.Duration // janitor period, default 1m
}

type entry struct {
	rec     Record
	expires time.Time
}

// Store is a TTL'd in-memory peer record cache. Unlike the protocol
// engine it is safe for concurrent use: hosts read it from monitoring
// paths outside the update cycle.
type Store struct {
	mu      sync.Mutex
	opts    Options
	entries map[string]*entry
	metrics Metrics
	done    chan struct{}
	once    sync.Once
}

// New creates a store and starts its cleanup janitor.
func New(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1024
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	s := &Store{
		opts:    opts,
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Close stops the janitor.
func (s *Store) Close() {
	s.once.Do(func() { close(s.done) })
}

// Record upserts the entry for ep, applying update to the stored record.
// A new record starts with Endpoint and FirstSeen filled in.
func (s *Store) Record(ep string, now time.Time, update func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ep]
	if !ok {
		if len(s.entries) >= s.opts.MaxEntries {
			s.evictOldestLocked()
		}
		e = &entry{rec: Record{Endpoint: ep, FirstSeen: now}}
		s.entries[ep] = e
	}
	e.rec.LastSeen = now
	e.expires = now.Add(s.opts.TTL)
	if update != nil {
		update(&e.rec)
	}
	s.metrics.Upserts++
}

// Get returns the record for ep, if present and not expired.
func (s *Store) Get(ep string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ep]
	if !ok || time.Now().After(e.expires) {
		s.metrics.Misses++
		return Record{}, false
	}
	s.metrics.Hits++
	return e.rec, true
}

// Recent returns all live records, most recently seen first.
func (s *Store) Recent() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	out := make([]Record, 0, len(s.entries))
	for _, e := range s.entries {
		if now.After(e.expires) {
			continue
		}
		out = append(out, e.rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out
}

// Len counts live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := time.Now()
	for _, e := range s.entries {
		if !now.After(e.expires) {
			n++
		}
	}
	return n
}

// Stats returns a metrics snapshot.
func (s *Store) Stats() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Store) evictOldestLocked() {
	var oldest string
	var when time.Time
	for ep, e := range s.entries {
		if oldest == "" || e.rec.LastSeen.Before(when) {
			oldest, when = ep, e.rec.LastSeen
		}
	}
	if oldest != "" {
		delete(s.entries, oldest)
		s.metrics.Evicted++
	}
}

func (s *Store) janitor() {
	t := time.NewTicker(s.opts.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for ep, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, ep)
			s.metrics.Expired++
		}
	}
}
