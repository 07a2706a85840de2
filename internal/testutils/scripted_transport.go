package testutils

import (
	"fmt"
	"sync"

	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/transport"
)

// Notification is one payload accepted by a transport.
type Notification struct {
	ID      registry.ID
	Payload string
}

func (n Notification) String() string {
	return fmt.Sprintf("%s:%s", n.ID, n.Payload)
}

// ScriptedTransport is a transport.Sender whose acceptance is driven by the test.
//
// It accepts sends while it has credit; once credit is exhausted it rejects with
// transport.ErrNoCapacity. Unlimited credit is the default. Faults can be queued
// to fail upcoming sends with arbitrary errors.
type ScriptedTransport struct {
	mu        sync.Mutex
	unlimited bool
	credit    int
	faults    []error
	accepted  []Notification
	attempts  []Notification
}

// NewScriptedTransport returns a transport with unlimited capacity.
func NewScriptedTransport() *ScriptedTransport {
	return &ScriptedTransport{unlimited: true}
}

// WithCredit limits the transport to n accepted sends until more credit is granted.
func (s *ScriptedTransport) WithCredit(n int) *ScriptedTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlimited = false
	s.credit = n
	return s
}

// Grant adds n sends of credit.
func (s *ScriptedTransport) Grant(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit += n
}

// Unlimited removes the credit limit.
func (s *ScriptedTransport) Unlimited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlimited = true
}

// FailNext makes the next send fail with err, before any credit check.
func (s *ScriptedTransport) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, err)
}

// Send implements transport.Sender.
func (s *ScriptedTransport) Send(id registry.ID, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := Notification{ID: id, Payload: string(payload)}
	s.attempts = append(s.attempts, n)

	if len(s.faults) > 0 {
		err := s.faults[0]
		s.faults = s.faults[1:]
		return err
	}
	if !s.unlimited {
		if s.credit <= 0 {
			return fmt.Errorf("send %s: %w", id, transport.ErrNoCapacity)
		}
		s.credit--
	}
	s.accepted = append(s.accepted, n)
	return nil
}

// Accepted returns every accepted notification in order.
func (s *ScriptedTransport) Accepted() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.accepted...)
}

// AcceptedPayloads returns accepted payloads of id in order.
func (s *ScriptedTransport) AcceptedPayloads(id registry.ID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for _, n := range s.accepted {
		if n.ID == id {
			result = append(result, n.Payload)
		}
	}
	return result
}

// Attempts returns every send attempt, accepted or not.
func (s *ScriptedTransport) Attempts() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.attempts...)
}

// Reset forgets recorded sends; capacity settings stay.
func (s *ScriptedTransport) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = nil
	s.attempts = nil
}
