package httpclient

import "fmt"

// Registry holds one Client per configured flat REST-client tag
// (SPEC_FULL.md §6), the same single-DI-singleton-with-internal-keying
// shape as connector/mongo.Registry and connector/amqp.ProducerRegistry.
type Registry struct {
	byTag map[string]*Client
}

// NewRegistry builds a Registry from an already-constructed tag->Client map.
func NewRegistry(byTag map[string]*Client) *Registry {
	return &Registry{byTag: byTag}
}

// Get returns the Client registered under tag.
func (r *Registry) Get(tag string) (*Client, error) {
	c, ok := r.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("httpclient: no client configured for tag %q", tag)
	}
	return c, nil
}
