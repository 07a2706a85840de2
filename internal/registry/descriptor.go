package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a single GATT capability bit of a characteristic.
type Capability uint8

const (
	Readable Capability = 1 << iota
	WritableNoResponse
	Notifiable
)

// Capabilities is a set of Capability bits.
type Capabilities uint8

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{Readable, "read"},
	{WritableNoResponse, "write-without-response"},
	{Notifiable, "notify"},
}

// Has reports whether c is part of the set.
func (cs Capabilities) Has(c Capability) bool {
	return cs&Capabilities(c) != 0
}

// With returns a copy of the set with c added.
func (cs Capabilities) With(c Capability) Capabilities {
	return cs | Capabilities(c)
}

func (cs Capabilities) String() string {
	parts := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if cs.Has(cn.cap) {
			parts = append(parts, cn.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseCapabilities parses a comma-separated property list such as
// "write-without-response,notify". Names are case-insensitive.
func ParseCapabilities(s string) (Capabilities, error) {
	var cs Capabilities
	for _, raw := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		found := false
		for _, cn := range capabilityNames {
			if cn.name == name {
				cs = cs.With(cn.cap)
				found = true
				break
			}
		}
		if !found {
			known := make([]string, 0, len(capabilityNames))
			for _, cn := range capabilityNames {
				known = append(known, cn.name)
			}
			sort.Strings(known)
			return 0, fmt.Errorf("unknown property %q (must be one of %s)", name, strings.Join(known, ", "))
		}
	}
	return cs, nil
}

// Role decides how the dispatcher treats events on a characteristic.
type Role int

const (
	// RoleDrain streams the canonical payload sequence when the trigger token is written.
	RoleDrain Role = iota
	// RoleEcho relays every written payload back as a notification.
	RoleEcho
	// RoleTransform triggers like RoleDrain on the token and otherwise relays the
	// payload without its first character.
	RoleTransform
	// RoleIdentity answers reads with the first part of a fixed identifier and
	// notifies the remainder right after the read response.
	RoleIdentity
)

var roleNames = map[Role]string{
	RoleDrain:     "drain",
	RoleEcho:      "echo",
	RoleTransform: "transform",
	RoleIdentity:  "identity",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole parses a role name as used in catalog files.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// DrainBacked reports whether the role owns a canonical response queue.
func (r Role) DrainBacked() bool {
	return r == RoleDrain || r == RoleTransform
}

// Descriptor describes one characteristic. Payloads are the canonical response
// sequence and are never mutated once the descriptor is in a Registry.
type Descriptor struct {
	ID           ID
	UUID         string
	Capabilities Capabilities
	Role         Role
	Payloads     [][]byte

	// Identity is the full identifier served by a RoleIdentity characteristic.
	Identity []byte
	// ReadSize is where Identity is split between read response and notification.
	ReadSize int
}

// CanonicalPayloads returns a deep copy of the canonical payload sequence.
func (d Descriptor) CanonicalPayloads() [][]byte {
	return copyPayloads(d.Payloads)
}

// IdentityParts splits Identity into the read-response part and the notified tail.
// The tail is empty when the identifier fits in a single read.
func (d Descriptor) IdentityParts() (head, tail []byte) {
	if d.ReadSize <= 0 || len(d.Identity) <= d.ReadSize {
		return append([]byte(nil), d.Identity...), nil
	}
	head = append([]byte(nil), d.Identity[:d.ReadSize]...)
	tail = append([]byte(nil), d.Identity[d.ReadSize:]...)
	return head, tail
}

func (d Descriptor) validate() error {
	switch d.Role {
	case RoleDrain, RoleTransform:
		if len(d.Payloads) == 0 {
			return fmt.Errorf("%s role requires at least one payload", d.Role)
		}
		if !d.Capabilities.Has(WritableNoResponse) || !d.Capabilities.Has(Notifiable) {
			return fmt.Errorf("%s role requires write-without-response and notify", d.Role)
		}
	case RoleEcho:
		if !d.Capabilities.Has(WritableNoResponse) || !d.Capabilities.Has(Notifiable) {
			return fmt.Errorf("echo role requires write-without-response and notify")
		}
	case RoleIdentity:
		if !d.Capabilities.Has(Readable) {
			return fmt.Errorf("identity role requires read")
		}
		if len(d.Identity) == 0 {
			return fmt.Errorf("identity role requires an identity value")
		}
		if d.ReadSize > 0 && len(d.Identity) > d.ReadSize && !d.Capabilities.Has(Notifiable) {
			return fmt.Errorf("identity longer than read size requires notify")
		}
	default:
		return fmt.Errorf("unknown role %d", int(d.Role))
	}
	return nil
}

func (d Descriptor) clone() Descriptor {
	d.Payloads = copyPayloads(d.Payloads)
	if d.Identity != nil {
		d.Identity = append([]byte(nil), d.Identity...)
	}
	return d
}

func copyPayloads(src [][]byte) [][]byte {
	if src == nil {
		return nil
	}
	dst := make([][]byte, len(src))
	for i, p := range src {
		dst[i] = append([]byte(nil), p...)
	}
	return dst
}
