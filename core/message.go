package core

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/rumor-routing-sim/model"
)

// MessageKind tells agent traffic apart from request traffic.
type MessageKind int

const (
	KindAgent MessageKind = iota
	KindRequest
)

func (k MessageKind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindRequest:
		return "request"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is the lifecycle shared by every protocol unit a node forwards.
type Message interface {
	ID() string
	Kind() MessageKind
	InitialLifespan() int
	CurrentLifespan() int
	DecrementLifespan()
	ResetLifespan()
	IsDead() bool
}

// lifespan is embedded by the concrete messages. The current value only
// moves down, one hop at a time, until ResetLifespan refills it.
type lifespan struct {
	initial int
	current int
}

func newLifespan(n int) (lifespan, error) {
	if n <= 0 {
		return lifespan{}, fmt.Errorf("%w: message lifespan must be positive, got %d", ErrInvalidConfig, n)
	}
	return lifespan{initial: n, current: n}, nil
}

func (l *lifespan) InitialLifespan() int { return l.initial }
func (l *lifespan) CurrentLifespan() int { return l.current }
func (l *lifespan) IsDead() bool         { return l.current <= 0 }
func (l *lifespan) ResetLifespan()       { l.current = l.initial }

// DecrementLifespan ages the message by one hop. Once dead it stays dead.
func (l *lifespan) DecrementLifespan() {
	if l.current > 0 {
		l.current--
	}
}

// AgentID is the identifier of the agent seeded by eventID at origin on tick at.
func AgentID(origin model.Position, at, eventID int) string {
	return fmt.Sprintf("agent%s@%d#%d", origin, at, eventID)
}

// RequestID is the identifier of the request for eventID issued by origin
// on tick at.
func RequestID(origin model.Position, at, eventID int) string {
	return fmt.Sprintf("request%s@%d#%d", origin, at, eventID)
}

// KindOfID recovers the message kind from an id built by AgentID or
// RequestID.
func KindOfID(id string) (MessageKind, bool) {
	switch {
	case strings.HasPrefix(id, "agent("):
		return KindAgent, true
	case strings.HasPrefix(id, "request("):
		return KindRequest, true
	}
	return 0, false
}

type visitSet map[model.Position]struct{}

func (v visitSet) add(p model.Position) { v[p] = struct{}{} }

func (v visitSet) has(p model.Position) bool {
	_, ok := v[p]
	return ok
}
