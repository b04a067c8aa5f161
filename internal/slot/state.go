package slot

import "fmt"

// State is the diagnostic ownership tag of a slot.
type State uint32

const (
	// Free slots sit on the pool's free stack.
	Free State = iota
	// Assigned slots hold the page of exactly one key.
	Assigned
	// Reclaimed slots were detached from their key and are on their way
	// back to the pool.
	Reclaimed
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Assigned:
		return "assigned"
	case Reclaimed:
		return "reclaimed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}
