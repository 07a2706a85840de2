package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/srg/geigersim/internal/registry"
)

// ErrInvalidCatalog is returned for catalog files that cannot describe a service.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog is the on-disk description of the peripheral's GATT service.
type Catalog struct {
	Service         string                `yaml:"service" json:"service"`
	Name            string                `yaml:"name" json:"name"`
	Characteristics []CharacteristicEntry `yaml:"characteristics" json:"characteristics"`
}

// CharacteristicEntry is one characteristic of a Catalog.
type CharacteristicEntry struct {
	Name       string   `yaml:"name" json:"name"`
	UUID       string   `yaml:"uuid" json:"uuid"`
	Properties string   `yaml:"properties" json:"properties"`
	Role       string   `yaml:"role" json:"role"`
	Payloads   []string `yaml:"payloads,omitempty" json:"payloads,omitempty"`
	Identity   string   `yaml:"identity,omitempty" json:"identity,omitempty"`
	ReadSize   int      `yaml:"read_size,omitempty" json:"read_size,omitempty"`
}

// DefaultCatalog returns the radiation sensor catalog.
func DefaultCatalog() *Catalog {
	return CatalogFromRegistry(registry.SensorServiceUUID, registry.SensorLocalName, registry.NewSensorRegistry())
}

// CatalogFromRegistry describes reg as a catalog.
func CatalogFromRegistry(service, name string, reg *registry.Registry) *Catalog {
	cat := &Catalog{Service: service, Name: name}
	for _, d := range reg.All() {
		entry := CharacteristicEntry{
			Name:       string(d.ID),
			UUID:       d.UUID,
			Properties: d.Capabilities.String(),
			Role:       d.Role.String(),
			Identity:   string(d.Identity),
			ReadSize:   d.ReadSize,
		}
		for _, p := range d.Payloads {
			entry.Payloads = append(entry.Payloads, string(p))
		}
		cat.Characteristics = append(cat.Characteristics, entry)
	}
	return cat
}

// LoadCatalog reads and parses a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog parses a YAML catalog. Unknown fields are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cat Catalog
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if cat.Service == "" {
		return nil, fmt.Errorf("%w: service UUID is required", ErrInvalidCatalog)
	}
	if _, err := registry.NormalizeUUID(cat.Service); err != nil {
		return nil, fmt.Errorf("%w: service: %v", ErrInvalidCatalog, err)
	}
	if cat.Name == "" {
		cat.Name = registry.SensorLocalName
	}
	if len(cat.Characteristics) == 0 {
		return nil, fmt.Errorf("%w: no characteristics", ErrInvalidCatalog)
	}
	return &cat, nil
}

// Registry builds the characteristic registry described by the catalog.
func (c *Catalog) Registry() (*registry.Registry, error) {
	descriptors := make([]registry.Descriptor, 0, len(c.Characteristics))
	for i, e := range c.Characteristics {
		caps, err := registry.ParseCapabilities(e.Properties)
		if err != nil {
			return nil, fmt.Errorf("%w: characteristic %d (%s): %v", ErrInvalidCatalog, i, e.Name, err)
		}
		role, err := registry.ParseRole(e.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: characteristic %d (%s): %v", ErrInvalidCatalog, i, e.Name, err)
		}

		d := registry.Descriptor{
			ID:           registry.ID(e.Name),
			UUID:         e.UUID,
			Capabilities: caps,
			Role:         role,
			ReadSize:     e.ReadSize,
		}
		for _, p := range e.Payloads {
			d.Payloads = append(d.Payloads, []byte(p))
		}
		if e.Identity != "" {
			d.Identity = []byte(e.Identity)
			if d.ReadSize == 0 {
				d.ReadSize = registry.DefaultReadSize
			}
		}
		descriptors = append(descriptors, d)
	}

	reg, err := registry.New(descriptors...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return reg, nil
}

// Marshal encodes the catalog as YAML.
func (c *Catalog) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}
