// Package scenario drives a simulated central against the sensor peripheral from
// a Lua script.
package scenario

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aarzilli/golua/lua"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/geigersim/internal/peripheral"
	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/transport"
	"github.com/srg/geigersim/internal/transport/sim"
)

// ErrEmptyScript is returned by Run for a blank script.
var ErrEmptyScript = errors.New("empty scenario script")

// ScriptError is a Lua failure while running a scenario.
type ScriptError struct {
	Name    string
	Message string
	Err     error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("scenario %s: %s", e.Name, e.Message)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Options configures a Runner.
type Options struct {
	// BufferSize is the simulated transmit buffer in bytes.
	BufferSize  int    `default:"64"`
	ServiceUUID string `default:"d82bb947-5fc7-48f5-8d59-a60494e4cb3e"`
	LocalName   string `default:"Geiger Sensor"`
	Registry    *registry.Registry
	Logger      *logrus.Logger
}

// Result is the transcript of one scenario run.
type Result struct {
	Output        []string
	Notifications []sim.Notification
	Stats         peripheral.Stats
}

// Runner owns a peripheral on the simulated transport and exposes the central side
// to Lua as globals:
//
//	subscribe(name)        unsubscribe(name)
//	write(name, value)     read(name) -> value
//	deliver([n]) -> count  received() -> count
//	notification(i) -> name, value
//	state(name) -> "idle" | "draining" | "blocked"
//	power(on)              notify(message)
//	stats() -> {sent, rejected, faults, cycles, active}
//	print(...)             captured into Result.Output
type Runner struct {
	logger     *logrus.Logger
	transport  *sim.Transport
	peripheral *peripheral.Peripheral
	reg        *registry.Registry
	output     []string
}

// New creates a runner with a powered-off radio; Run powers it on.
func New(opts Options) *Runner {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.Registry == nil {
		opts.Registry = registry.NewSensorRegistry()
	}

	tr := sim.New(sim.Options{BufferSize: opts.BufferSize, Logger: opts.Logger})
	p := peripheral.New(opts.Registry, tr, peripheral.Options{
		ServiceUUID: opts.ServiceUUID,
		LocalName:   opts.LocalName,
		Logger:      opts.Logger,
	})
	return &Runner{
		logger:     opts.Logger,
		transport:  tr,
		peripheral: p,
		reg:        opts.Registry,
	}
}

// Transport returns the simulated transport.
func (r *Runner) Transport() *sim.Transport { return r.transport }

// Peripheral returns the peripheral under test.
func (r *Runner) Peripheral() *peripheral.Peripheral { return r.peripheral }

// Run executes script. The radio is powered on first unless the script already
// ran on this runner.
func (r *Runner) Run(name, script string) (*Result, error) {
	if strings.TrimSpace(script) == "" {
		return nil, ErrEmptyScript
	}
	if r.transport.PowerState() == transport.PowerUnknown {
		r.transport.PowerOn()
	}

	L := lua.NewState()
	defer L.Close()
	L.OpenLibs()
	r.output = nil
	r.register(L)

	r.logger.WithField("scenario", name).Debug("Running scenario")
	if err := L.DoString(script); err != nil {
		return r.result(), &ScriptError{Name: name, Message: err.Error(), Err: err}
	}
	return r.result(), nil
}

func (r *Runner) result() *Result {
	return &Result{
		Output:        append([]string(nil), r.output...),
		Notifications: r.transport.Received(),
		Stats:         r.peripheral.Stats(),
	}
}

func (r *Runner) register(L *lua.State) {
	r.registerFunction(L, "print", r.luaPrint)
	r.registerFunction(L, "subscribe", func(L *lua.State) int {
		if err := r.transport.Subscribe(r.checkID(L, 1)); err != nil {
			L.RaiseError(err.Error())
		}
		return 0
	})
	r.registerFunction(L, "unsubscribe", func(L *lua.State) int {
		r.transport.Unsubscribe(r.checkID(L, 1))
		return 0
	})
	r.registerFunction(L, "write", func(L *lua.State) int {
		id := r.checkID(L, 1)
		if !L.IsString(2) {
			L.RaiseError("write() expects a string value")
		}
		if err := r.transport.Write(id, []byte(L.ToString(2))); err != nil {
			L.RaiseError(err.Error())
		}
		return 0
	})
	r.registerFunction(L, "read", func(L *lua.State) int {
		value, err := r.transport.Read(r.checkID(L, 1))
		if err != nil {
			L.RaiseError(err.Error())
		}
		L.PushString(string(value))
		return 1
	})
	r.registerFunction(L, "deliver", func(L *lua.State) int {
		n := 0
		if L.GetTop() >= 1 && L.IsNumber(1) {
			n = L.ToInteger(1)
		}
		L.PushInteger(int64(len(r.transport.Deliver(n))))
		return 1
	})
	r.registerFunction(L, "received", func(L *lua.State) int {
		L.PushInteger(int64(len(r.transport.Received())))
		return 1
	})
	r.registerFunction(L, "notification", func(L *lua.State) int {
		if !L.IsNumber(1) {
			L.RaiseError("notification() expects an index")
		}
		i := L.ToInteger(1)
		received := r.transport.Received()
		if i < 1 || i > len(received) {
			L.PushNil()
			return 1
		}
		n := received[i-1]
		L.PushString(string(n.ID))
		L.PushString(string(n.Payload))
		return 2
	})
	r.registerFunction(L, "state", func(L *lua.State) int {
		L.PushString(r.peripheral.State(r.checkID(L, 1)).String())
		return 1
	})
	r.registerFunction(L, "power", func(L *lua.State) int {
		if L.ToBoolean(1) {
			r.transport.PowerOn()
		} else {
			r.transport.PowerOff()
		}
		return 0
	})
	r.registerFunction(L, "notify", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("notify() expects a message")
		}
		if err := r.peripheral.Notify(L.ToString(1)); err != nil {
			L.RaiseError(err.Error())
		}
		return 0
	})
	r.registerFunction(L, "stats", func(L *lua.State) int {
		stats := r.peripheral.Stats()
		L.NewTable()
		setInteger(L, "sent", stats.Engine.Sent)
		setInteger(L, "rejected", stats.Engine.Rejected)
		setInteger(L, "faults", stats.Engine.Faults)
		setInteger(L, "cycles", stats.Engine.Cycles)
		setInteger(L, "active", int64(len(stats.Active)))
		return 1
	})
}

func (r *Runner) registerFunction(L *lua.State, name string, fn func(*lua.State) int) {
	L.PushGoFunction(fn)
	L.SetGlobal(name)
}

// checkID reads a characteristic name argument and rejects unknown names.
func (r *Runner) checkID(L *lua.State, arg int) registry.ID {
	if !L.IsString(arg) {
		L.RaiseError(fmt.Sprintf("argument %d must be a characteristic name", arg))
	}
	id := registry.ID(L.ToString(arg))
	if !r.reg.Contains(id) {
		L.RaiseError(fmt.Sprintf("unknown characteristic %q", id))
	}
	return id
}

func (r *Runner) luaPrint(L *lua.State) int {
	top := L.GetTop()
	parts := make([]string, 0, top)

	for i := 1; i <= top; i++ {
		switch L.Type(i) {
		case lua.LUA_TNIL:
			parts = append(parts, "nil")
		case lua.LUA_TBOOLEAN:
			parts = append(parts, strconv.FormatBool(L.ToBoolean(i)))
		case lua.LUA_TNUMBER:
			parts = append(parts, strconv.FormatFloat(L.ToNumber(i), 'f', -1, 64))
		case lua.LUA_TSTRING:
			parts = append(parts, L.ToString(i))
		default:
			// For tables, functions and userdata: call Lua tostring()
			L.GetGlobal("tostring")
			L.PushValue(i)
			L.Call(1, 1)
			parts = append(parts, L.ToString(-1))
			L.Pop(1)
		}
	}

	line := strings.Join(parts, "\t")
	r.output = append(r.output, line)
	r.logger.WithField("source", "lua").Debug(line)
	return 0
}

func setInteger(L *lua.State, key string, v int64) {
	L.PushInteger(v)
	L.SetField(-2, key)
}
