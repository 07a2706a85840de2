package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/srg/geigersim/internal/registry"
)

// palette colors terminal output; every color is a no-op off a terminal.
type palette struct {
	header *color.Color
	name   *color.Color
	good   *color.Color
	warn   *color.Color
	bad    *color.Color
	roles  map[registry.Role]*color.Color
}

func newPalette(w io.Writer) *palette {
	enabled := !color.NoColor && isTerminal(w)
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}

	return &palette{
		header: mk(color.FgCyan, color.Bold),
		name:   mk(color.FgHiWhite),
		good:   mk(color.FgGreen),
		warn:   mk(color.FgYellow),
		bad:    mk(color.FgRed),
		roles: map[registry.Role]*color.Color{
			registry.RoleDrain:     mk(color.FgGreen),
			registry.RoleEcho:      mk(color.FgMagenta),
			registry.RoleTransform: mk(color.FgBlue),
			registry.RoleIdentity:  mk(color.FgYellow),
		},
	}
}

func (p *palette) role(r registry.Role) string {
	if c, ok := p.roles[r]; ok {
		return c.Sprint(r)
	}
	return r.String()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
