// ABOUTME: Operation kinds and gate lifecycle states
// ABOUTME: Read takes shared access, Write takes exclusive access

package gate

import "fmt"

// Kind selects how an operation is admitted.
type Kind int

const (
	// Read operations may run alongside other reads.
	Read Kind = iota + 1
	// Write operations run with no other operation admitted.
	Write
)

func (k Kind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) valid() bool {
	return k == Read || k == Write
}

// State is the lifecycle of a gate. It only moves forward.
type State int

const (
	StateActive State = iota
	StateClosed
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
