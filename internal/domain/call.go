package domain

// CallID is the opaque identifier assigned by the session provider.
type CallID string

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Status is the lifecycle state of a call as reported by its state machine.
type Status string

const (
	StatusDialing Status = "dialing"
	StatusRinging Status = "ringing"
	StatusActive  Status = "active"
	StatusFailed  Status = "failed"
	StatusEnded   Status = "ended"
)

// Terminal reports whether no further lifecycle transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusEnded
}

// CallFlags are auxiliary per-call markers used by higher-level operations
// (attended transfer, merge, room move). They live and die with the call.
type CallFlags struct {
	Moving       bool `json:"moving"`
	Transferring bool `json:"transferring"`
	Merging      bool `json:"merging"`
}
