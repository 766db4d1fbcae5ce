package amqp

import "fmt"

// ProducerRegistry holds one Producer per configured "rabbitmq.<tag>" entry
// (SPEC_FULL.md §6), mirroring internal/connector/mongo.Registry's
// single-DI-singleton-with-internal-keying shape.
type ProducerRegistry struct {
	byTag map[string]*Producer
}

// NewProducerRegistry builds a registry from an already-constructed
// tag->Producer map.
func NewProducerRegistry(byTag map[string]*Producer) *ProducerRegistry {
	return &ProducerRegistry{byTag: byTag}
}

// Get returns the Producer registered under tag.
func (r *ProducerRegistry) Get(tag string) (*Producer, error) {
	p, ok := r.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("amqp: no producer configured for tag %q", tag)
	}
	return p, nil
}
