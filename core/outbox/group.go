package outbox

import (
	"fmt"
	"strings"
)

// Status tracks the delivery state of a group.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusApplied
	StatusFellBack
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApplied:
		return "applied"
	case StatusFellBack:
		return "fell_back"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the executor is done with the group.
func (s Status) Terminal() bool {
	return s == StatusApplied || s == StatusFellBack || s == StatusFailed
}

// Group is the unit of delivery: its intents are applied together in one
// unit of work, or not at all. When the intents cannot be applied the
// Fallback intents are applied instead, also atomically.
type Group struct {
	Sequence  uint64
	Origin    string
	Subject   [32]byte
	Height    uint64
	Intents   []Intent
	Fallback  []Intent
	Status    Status
	Attempts  uint64
	LastError string
}

// NewGroup builds a pending group for the given origin operation.
func NewGroup(origin string, subject [32]byte, height uint64, intents ...Intent) *Group {
	cloned := make([]Intent, len(intents))
	for i, in := range intents {
		cloned[i] = in.Clone()
	}
	return &Group{
		Origin:  strings.TrimSpace(origin),
		Subject: subject,
		Height:  height,
		Intents: cloned,
		Status:  StatusPending,
	}
}

// WithFallback attaches the compensating intents applied when the primary
// intents fail permanently.
func (g *Group) WithFallback(intents ...Intent) *Group {
	g.Fallback = make([]Intent, len(intents))
	for i, in := range intents {
		g.Fallback[i] = in.Clone()
	}
	return g
}

// Append adds intents to the primary list.
func (g *Group) Append(intents ...Intent) {
	for _, in := range intents {
		g.Intents = append(g.Intents, in.Clone())
	}
}

// Validate checks every intent in the group.
func (g *Group) Validate() error {
	if g == nil {
		return fmt.Errorf("outbox: nil group")
	}
	if g.Origin == "" {
		return fmt.Errorf("outbox: group origin required")
	}
	if len(g.Intents) == 0 {
		return fmt.Errorf("outbox: group %s has no intents", g.Origin)
	}
	for idx, in := range g.Intents {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("intent %d: %w", idx, err)
		}
	}
	for idx, in := range g.Fallback {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("fallback %d: %w", idx, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Intents = make([]Intent, len(g.Intents))
	for i, in := range g.Intents {
		clone.Intents[i] = in.Clone()
	}
	clone.Fallback = make([]Intent, len(g.Fallback))
	for i, in := range g.Fallback {
		clone.Fallback[i] = in.Clone()
	}
	return &clone
}
