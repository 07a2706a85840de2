package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/geigersim/internal/registry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, uint32(8), cfg.TxQueueSize)
	assert.Equal(t, 20*time.Millisecond, cfg.ReadCompleteDelay)
	assert.Equal(t, 64, cfg.SimBufferSize)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Empty(t, cfg.CatalogPath)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: logrus.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_ZeroValues(t *testing.T) {
	cfg := &Config{}

	// Test that zero values don't cause panics
	logger := cfg.NewLogger()
	assert.NotNil(t, logger)

	// Zero log level should default to PanicLevel (0)
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
	assert.Zero(t, cfg.TxQueueSize)
}

func TestDefaultCatalog_RoundTripsToSensorRegistry(t *testing.T) {
	// GOAL: Verify the built-in catalog describes exactly the sensor registry
	//
	// TEST SCENARIO: DefaultCatalog → Registry() → same ids, roles, payloads and identity as SensorProfile

	cat := DefaultCatalog()
	assert.Equal(t, registry.SensorServiceUUID, cat.Service)
	assert.Equal(t, registry.SensorLocalName, cat.Name)

	reg, err := cat.Registry()
	require.NoError(t, err)

	expected := registry.NewSensorRegistry()
	assert.Equal(t, expected.IDs(), reg.IDs())
	for _, want := range expected.All() {
		got, err := reg.Describe(want.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got, "%s MUST survive the catalog round trip", want.ID)
	}
}

func TestParseCatalog(t *testing.T) {
	const valid = `
service: D82BB947-5FC7-48F5-8D59-A60494E4CB3E
name: Bench Sensor
characteristics:
  - name: Counts
    uuid: 11111111-2222-3333-4444-555555555555
    properties: write-without-response,notify
    role: drain
    payloads: ["1", "2", "3"]
  - name: Serial
    uuid: 11111111-2222-3333-4444-666666666666
    properties: read,notify
    role: identity
    identity: "0123456789abcdefghijklmnop"
`

	t.Run("valid catalog", func(t *testing.T) {
		cat, err := ParseCatalog([]byte(valid))
		require.NoError(t, err)
		assert.Equal(t, "Bench Sensor", cat.Name)

		reg, err := cat.Registry()
		require.NoError(t, err)
		assert.Equal(t, []registry.ID{"Counts", "Serial"}, reg.IDs())

		serial, err := reg.Describe("Serial")
		require.NoError(t, err)
		assert.Equal(t, registry.DefaultReadSize, serial.ReadSize, "identity MUST default to the single-read size")
		head, tail := serial.IdentityParts()
		assert.Equal(t, "0123456789abcdefghij", string(head))
		assert.Equal(t, "klmnop", string(tail))
	})

	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing service", yaml: "characteristics: []"},
		{name: "bad service uuid", yaml: "service: nope\ncharacteristics: [{name: A}]"},
		{name: "no characteristics", yaml: "service: D82BB947-5FC7-48F5-8D59-A60494E4CB3E"},
		{name: "unknown field", yaml: "service: D82BB947-5FC7-48F5-8D59-A60494E4CB3E\ncolor: red"},
		{name: "not yaml", yaml: "service: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestCatalog_RegistryErrors(t *testing.T) {
	base := func() *Catalog {
		return &Catalog{
			Service: registry.SensorServiceUUID,
			Characteristics: []CharacteristicEntry{{
				Name:       "A",
				UUID:       "11111111-2222-3333-4444-555555555555",
				Properties: "write-without-response,notify",
				Role:       "drain",
				Payloads:   []string{"x"},
			}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Catalog)
	}{
		{name: "unknown property", mutate: func(c *Catalog) { c.Characteristics[0].Properties = "broadcast" }},
		{name: "unknown role", mutate: func(c *Catalog) { c.Characteristics[0].Role = "stream" }},
		{name: "drain without payloads", mutate: func(c *Catalog) { c.Characteristics[0].Payloads = nil }},
		{name: "duplicate name", mutate: func(c *Catalog) {
			dup := c.Characteristics[0]
			dup.UUID = "11111111-2222-3333-4444-666666666666"
			c.Characteristics = append(c.Characteristics, dup)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := base()
			tt.mutate(cat)
			_, err := cat.Registry()
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestConfig_LoadCatalog(t *testing.T) {
	t.Run("built-in with name override", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LocalName = "Lab Geiger"

		cat, err := cfg.LoadCatalog()
		require.NoError(t, err)
		assert.Equal(t, "Lab Geiger", cat.Name)
		assert.Len(t, cat.Characteristics, 8)
	})

	t.Run("from file", func(t *testing.T) {
		data, err := DefaultCatalog().Marshal()
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, data, 0o600))

		cfg := DefaultConfig()
		cfg.CatalogPath = path
		cat, err := cfg.LoadCatalog()
		require.NoError(t, err)
		assert.Equal(t, DefaultCatalog(), cat)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CatalogPath = filepath.Join(t.TempDir(), "absent.yaml")
		_, err := cfg.LoadCatalog()
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
