package dispatch

import "github.com/beaconhq/beacon/internal/domain"

// Registry resolves channel type identifiers to implementations.
type Registry struct {
	channels map[domain.ChannelType]Channel
}

// NewRegistry creates a registry from the given channel implementations.
func NewRegistry(channels ...Channel) *Registry {
	m := make(map[domain.ChannelType]Channel, len(channels))
	for _, ch := range channels {
		m[ch.Type()] = ch
	}
	return &Registry{channels: m}
}

// Get returns the channel registered for the given type, if any.
func (r *Registry) Get(t domain.ChannelType) (Channel, bool) {
	ch, ok := r.channels[t]
	return ch, ok
}
