// Package registry declares the characteristic catalog of the sensor service:
// identifiers, UUIDs, capabilities, roles and canonical payloads.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ID is the stable logical name of a characteristic (e.g. "Zones").
type ID string

// Well-known characteristic identities of the radiation sensor profile.
const (
	EnabledMode     ID = "EnabledMode"
	Zones           ID = "Zones"
	Vents           ID = "Vents"
	DeviceID        ID = "DeviceId"
	Settings        ID = "Settings"
	DisplaySettings ID = "DisplaySettings"
	Commands        ID = "Commands"
	Alerts          ID = "Alerts"
)

// ErrUnknownCharacteristic is matched by every NotFoundError via errors.Is.
var ErrUnknownCharacteristic = errors.New("unknown characteristic")

// NotFoundError reports a lookup of a characteristic that is not in the catalog.
type NotFoundError struct {
	ID   ID
	UUID string
}

func (e *NotFoundError) Error() string {
	if e.UUID != "" {
		return fmt.Sprintf("characteristic with uuid %q not found", e.UUID)
	}
	return fmt.Sprintf("characteristic %q not found", e.ID)
}

// Is makes errors.Is(err, ErrUnknownCharacteristic) work for NotFoundError values.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrUnknownCharacteristic
}

// Registry is the read-only catalog of characteristics, kept in declaration order.
// Declaration order doubles as the resume priority of the drain engine.
type Registry struct {
	byID   *orderedmap.OrderedMap[ID, Descriptor]
	byUUID map[string]ID
	index  map[ID]int
}

// New builds a registry from descriptors in declaration order.
// Duplicate IDs, duplicate UUIDs and malformed UUIDs are rejected.
func New(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		byID:   orderedmap.New[ID, Descriptor](),
		byUUID: make(map[string]ID, len(descriptors)),
		index:  make(map[ID]int, len(descriptors)),
	}

	for i, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("characteristic at index %d has no name", i)
		}
		if _, exists := r.byID.Get(d.ID); exists {
			return nil, fmt.Errorf("duplicate characteristic %q", d.ID)
		}

		normalized, err := NormalizeUUID(d.UUID)
		if err != nil {
			return nil, fmt.Errorf("characteristic %q: %w", d.ID, err)
		}
		if other, exists := r.byUUID[normalized]; exists {
			return nil, fmt.Errorf("characteristic %q reuses uuid of %q", d.ID, other)
		}
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("characteristic %q: %w", d.ID, err)
		}

		d = d.clone()
		d.UUID = normalized
		r.byID.Set(d.ID, d)
		r.byUUID[normalized] = d.ID
		r.index[d.ID] = i
	}

	return r, nil
}

// MustNew is like New but panics on error. Intended for static catalogs and tests.
func MustNew(descriptors ...Descriptor) *Registry {
	r, err := New(descriptors...)
	if err != nil {
		panic(err)
	}
	return r
}

// Describe returns the descriptor of id, or a *NotFoundError.
func (r *Registry) Describe(id ID) (Descriptor, error) {
	d, ok := r.byID.Get(id)
	if !ok {
		return Descriptor{}, &NotFoundError{ID: id}
	}
	return d.clone(), nil
}

// ByUUID resolves a boundary UUID (any case, with or without dashes) to its descriptor.
func (r *Registry) ByUUID(u string) (Descriptor, error) {
	normalized, err := NormalizeUUID(u)
	if err != nil {
		return Descriptor{}, &NotFoundError{UUID: u}
	}
	id, ok := r.byUUID[normalized]
	if !ok {
		return Descriptor{}, &NotFoundError{UUID: u}
	}
	return r.Describe(id)
}

// All returns every descriptor in declaration order.
func (r *Registry) All() []Descriptor {
	result := make([]Descriptor, 0, r.byID.Len())
	for pair := r.byID.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value.clone())
	}
	return result
}

// IDs returns all characteristic identities in declaration order.
func (r *Registry) IDs() []ID {
	result := make([]ID, 0, r.byID.Len())
	for pair := r.byID.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Key)
	}
	return result
}

// Index returns the declaration position of id, or -1 if id is unknown.
func (r *Registry) Index(id ID) int {
	i, ok := r.index[id]
	if !ok {
		return -1
	}
	return i
}

// Contains reports whether id is part of the catalog.
func (r *Registry) Contains(id ID) bool {
	_, ok := r.byID.Get(id)
	return ok
}

// Len returns the number of characteristics.
func (r *Registry) Len() int {
	return r.byID.Len()
}

// NormalizeUUID validates a 128-bit UUID and returns it in canonical lowercase
// dashed form. Dash-less input is accepted.
func NormalizeUUID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("uuid cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return u.String(), nil
}
