package main

import (
	"fmt"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/geigersim/internal/scenario"
	"github.com/srg/geigersim/internal/transport"
	"github.com/srg/geigersim/pkg/config"
)

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}

func TestRootCommand_Subcommands(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "simulate", "catalog"})
}

func TestFormatUserError(t *testing.T) {
	_, missing := os.Open("/nonexistent/sensor.yaml")

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "script error",
			err:      fmt.Errorf("run: %w", &scenario.ScriptError{Name: "demo.lua", Message: "boom"}),
			expected: `scenario "demo.lua" failed: boom`,
		},
		{
			name:     "unsupported platform",
			err:      fmt.Errorf("open bluetooth device: %w", transport.ErrUnsupportedPlatform),
			expected: "BLE peripheral mode is not supported on this platform (try 'geigersim simulate')",
		},
		{
			name:     "invalid catalog",
			err:      fmt.Errorf("%w: no characteristics", config.ErrInvalidCatalog),
			expected: "invalid catalog: no characteristics",
		},
		{
			name:     "missing file",
			err:      fmt.Errorf("failed to read catalog: %w", missing),
			expected: "file not found: /nonexistent/sensor.yaml",
		},
		{
			name:     "anything else",
			err:      fmt.Errorf("plain"),
			expected: "plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		cmd.Flags().String("log-level", "", "")
		cmd.Flags().Bool("verbose", false, "")
		return cmd
	}

	tests := []struct {
		name     string
		args     []string
		expected logrus.Level
		wantErr  bool
	}{
		{name: "config default", expected: logrus.InfoLevel},
		{name: "explicit level", args: []string{"--log-level", "warn"}, expected: logrus.WarnLevel},
		{name: "verbose", args: []string{"--verbose"}, expected: logrus.DebugLevel},
		{name: "log level wins over verbose", args: []string{"--verbose", "--log-level", "error"}, expected: logrus.ErrorLevel},
		{name: "invalid level", args: []string{"--log-level", "trace"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newCmd()
			require.NoError(t, cmd.Flags().Parse(tt.args))

			logger, err := configureLogger(cmd, config.DefaultConfig(), "verbose")
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid log level")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}
