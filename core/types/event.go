package types

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Height     uint64            `json:"height,omitempty"`
	Attributes map[string]string `json:"attributes"`
}
