package vault

import "github.com/i5heu/ouroboros-vault/pkg/vaulterr"

// Flow names one of the two orchestrated flows.
type Flow string

const (
	FlowStore    Flow = "store"
	FlowRetrieve Flow = "retrieve"
)

// State is a step of a flow.
type State int // A

const ( // A
	Idle State = iota
	Validating
	Encrypting
	Uploading
	Authorizing
	Fetching
	Decrypting
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Validating:
		return "Validating"
	case Encrypting:
		return "Encrypting"
	case Uploading:
		return "Uploading"
	case Authorizing:
		return "Authorizing"
	case Fetching:
		return "Fetching"
	case Decrypting:
		return "Decrypting"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return "unknown"
	}
}

// Transition is one state change. Kind and Reason are set when To is
// Failed; Reason is the human readable failure description.
type Transition struct {
	Flow   Flow
	From   State
	To     State
	Kind   vaulterr.Kind
	Reason string
}

// Observer receives transitions synchronously, in order, from the
// goroutine running the flow.
type Observer func(Transition)
