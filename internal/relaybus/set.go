package relaybus

import (
	"slices"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Set is the daemon's mutable relay list, shared by the listener and the RPC
// surface. URLs are normalized on the way in so duplicates collapse.
type Set struct {
	mu   sync.Mutex
	urls []string
}

func NewSet(initial []string) *Set {
	s := &Set{}
	for _, url := range initial {
		s.Add(url)
	}
	return s
}

// Add inserts the relay, reporting whether it was new.
func (s *Set) Add(url string) bool {
	nm := nostr.NormalizeURL(url)
	if nm == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.urls, nm) {
		return false
	}
	s.urls = append(s.urls, nm)
	return true
}

// Remove deletes the relay, reporting whether it was present.
func (s *Set) Remove(url string) bool {
	nm := nostr.NormalizeURL(url)
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.urls, nm)
	if idx < 0 {
		return false
	}
	s.urls = slices.Delete(s.urls, idx, idx+1)
	return true
}

// List returns a copy in insertion order.
func (s *Set) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.urls)
}
