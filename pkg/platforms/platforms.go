package platforms

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownPlatform is returned when no mapper is registered for a name
	ErrUnknownPlatform = errors.New("unknown platform")

	// ErrInvalidRecord is returned when a raw record fails structural
	// validation
	ErrInvalidRecord = errors.New("invalid record")
)

// IsUnknownPlatform checks if the error is or wraps ErrUnknownPlatform
func IsUnknownPlatform(err error) bool {
	return errors.Is(err, ErrUnknownPlatform)
}

// IsInvalidRecord checks if the error is or wraps ErrInvalidRecord
func IsInvalidRecord(err error) bool {
	return errors.Is(err, ErrInvalidRecord)
}

// MappedEvent is a platform record normalized to the internal field set. The
// timestamp stays the raw platform string; admission decides its fate.
type MappedEvent struct {
	Name      string
	Timestamp string
	VisitorID string
	Pathname  string
	Referrer  string
	Country   string
	Props     map[string]string
}

// Mapper transforms one platform's raw records
type Mapper interface {
	// Platform returns the mapper's registry name
	Platform() string
	// Map transforms one raw JSON record, returning an ErrInvalidRecord
	// wrapper when the record is structurally invalid
	Map(raw json.RawMessage) (*MappedEvent, error)
}

// Registry holds the known platform mappers
type Registry struct {
	mu      sync.RWMutex
	mappers map[string]Mapper
}

// NewRegistry creates a registry preloaded with the built-in mappers
func NewRegistry() *Registry {
	r := &Registry{mappers: make(map[string]Mapper)}
	r.Register(&AmpereMapper{})
	r.Register(&MatovaMapper{})
	return r
}

// Register adds or replaces a mapper under its platform name
func (r *Registry) Register(m Mapper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappers[m.Platform()] = m
}

// Get returns the mapper for a platform name
func (r *Registry) Get(platform string) (Mapper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mappers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return m, nil
}

// Platforms lists the registered platform names, sorted
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mappers))
	for name := range r.mappers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeStrict unmarshals a record rejecting unknown fields
func decodeStrict(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
