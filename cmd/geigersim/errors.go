package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/srg/geigersim/internal/scenario"
	"github.com/srg/geigersim/internal/transport"
	"github.com/srg/geigersim/pkg/config"
)

// Command-level errors
var (
	// ErrUnknownFormat is returned for an unsupported --format value.
	ErrUnknownFormat = errors.New("unknown output format")
	// ErrServiceNotStarted means the radio came up but the service could not advertise.
	ErrServiceNotStarted = errors.New("service did not start")
)

// FormatUserError turns err into a message for the terminal.
func FormatUserError(err error) string {
	var scriptErr *scenario.ScriptError
	var pathErr *fs.PathError

	switch {
	case errors.As(err, &scriptErr):
		return fmt.Sprintf("scenario %q failed: %s", scriptErr.Name, scriptErr.Message)
	case errors.Is(err, transport.ErrUnsupportedPlatform):
		return "BLE peripheral mode is not supported on this platform (try 'geigersim simulate')"
	case errors.Is(err, config.ErrInvalidCatalog):
		return err.Error()
	case errors.As(err, &pathErr) && errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("file not found: %s", pathErr.Path)
	default:
		return err.Error()
	}
}
