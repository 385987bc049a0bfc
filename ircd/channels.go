package ircd

import (
	"sync"

	"github.com/didirc/icd/internal/metrics"
)

// ChannelTable owns the process-wide lowercase-channel-name -> *Channel
// map. Channels are created lazily on first JOIN and destroyed once
// empty of both local and remote members (P3). The canonical lock order
// is registry -> channel (spec.md §5); this table's own mutex is always
// acquired before any individual Channel's mutex, never the reverse.
type ChannelTable struct {
	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewChannelTable creates an empty channel table.
func NewChannelTable() *ChannelTable {
	return &ChannelTable{channels: make(map[string]*Channel)}
}

// Get returns the channel for name, if it exists.
func (t *ChannelTable) Get(name string) (*Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.channels[CanonicalChannel(name)]
	return c, ok
}

// GetOrCreate returns the existing channel for name, or creates and
// registers a new one and reports created=true.
func (t *ChannelTable) GetOrCreate(name string) (c *Channel, created bool) {
	key := CanonicalChannel(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.channels[key]; ok {
		return c, false
	}
	c = NewChannel(name)
	t.channels[key] = c
	metrics.ChannelsActive.Set(float64(len(t.channels)))
	return c, true
}

// DestroyIfEmpty removes the channel for name if it currently has no
// local or remote members. Call after every PART/QUIT/KICK and after a
// federation peer purge. Returns true if the channel was destroyed.
func (t *ChannelTable) DestroyIfEmpty(name string) bool {
	key := CanonicalChannel(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.channels[key]
	if !ok {
		return false
	}
	if !c.IsEmpty() {
		return false
	}
	delete(t.channels, key)
	metrics.ChannelsActive.Set(float64(len(t.channels)))
	metrics.ChannelsDestroyed.Inc()
	return true
}

// List returns a snapshot of all channels, secret ones included; the
// LIST handler filters out secret channels itself.
func (t *ChannelTable) List() []*Channel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Channel, 0, len(t.channels))
	for _, c := range t.channels {
		out = append(out, c)
	}
	return out
}

// Count returns the number of currently live channels.
func (t *ChannelTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels)
}
