package config

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration
type Config struct {
	LogLevel logrus.Level `json:"log_level" yaml:"log_level" default:"4"`

	// CatalogPath points to a YAML catalog; empty means the built-in sensor catalog.
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`
	// LocalName overrides the advertised name of the catalog.
	LocalName string `json:"local_name" yaml:"local_name"`

	TxQueueSize       uint32        `json:"tx_queue_size" yaml:"tx_queue_size" default:"8"`
	ReadCompleteDelay time.Duration `json:"read_complete_delay" yaml:"read_complete_delay" default:"20ms"`
	SimBufferSize     int           `json:"sim_buffer_size" yaml:"sim_buffer_size" default:"64"`
	OutputFormat      string        `json:"output_format" yaml:"output_format" default:"table"` // table, json, yaml
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// LoadCatalog returns the catalog at CatalogPath, or the built-in one.
// A non-empty LocalName replaces the catalog's advertised name.
func (c *Config) LoadCatalog() (*Catalog, error) {
	var (
		cat *Catalog
		err error
	)
	if c.CatalogPath == "" {
		cat = DefaultCatalog()
	} else if cat, err = LoadCatalog(c.CatalogPath); err != nil {
		return nil, err
	}
	if c.LocalName != "" {
		cat.Name = c.LocalName
	}
	return cat, nil
}
