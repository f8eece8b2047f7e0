package slave

import "fmt"

// EventType tags an Event.
type EventType uint8

const (
	// EventReadRequested: the master wants to read. NeedsBuffer is set when
	// no TX buffer was pre-armed and TxPrepare must be called.
	EventReadRequested EventType = iota + 1
	// EventReadCompleted: the read finished, Amount bytes were sent.
	EventReadCompleted
	// EventReadFailed: the read ended with the faults in Faults.
	EventReadFailed
	// EventWriteRequested: the master wants to write. NeedsBuffer is set when
	// no RX buffer was pre-armed and RxPrepare must be called.
	EventWriteRequested
	// EventWriteCompleted: the write finished, Amount bytes were received.
	EventWriteCompleted
	// EventWriteFailed: the write ended with the faults in Faults.
	EventWriteFailed
	// EventGeneralFault: the engine entered or stayed in the fault substate.
	// Faults holds everything latched in the current episode.
	EventGeneralFault
)

func (t EventType) String() string {
	switch t {
	case EventReadRequested:
		return "read-requested"
	case EventReadCompleted:
		return "read-completed"
	case EventReadFailed:
		return "read-failed"
	case EventWriteRequested:
		return "write-requested"
	case EventWriteCompleted:
		return "write-completed"
	case EventWriteFailed:
		return "write-failed"
	case EventGeneralFault:
		return "general-fault"
	default:
		return "unknown"
	}
}

// Event is a transaction notification. Only the field relevant to Type is
// set: NeedsBuffer for requests, Amount for completions, Faults for
// failures and general faults.
type Event struct {
	Type        EventType
	NeedsBuffer bool
	Amount      int
	Faults      FaultSet
}

func (e Event) String() string {
	switch e.Type {
	case EventReadRequested, EventWriteRequested:
		return fmt.Sprintf("%s(needs_buffer=%t)", e.Type, e.NeedsBuffer)
	case EventReadCompleted, EventWriteCompleted:
		return fmt.Sprintf("%s(%d)", e.Type, e.Amount)
	case EventReadFailed, EventWriteFailed, EventGeneralFault:
		return fmt.Sprintf("%s(%s)", e.Type, e.Faults)
	default:
		return e.Type.String()
	}
}

// Handler receives engine events in callback mode. It is called from the
// controller's event context and must not block; it may call TxPrepare or
// RxPrepare on the engine it was given.
type Handler interface {
	HandleEvent(e *Engine, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(e *Engine, ev Event)

func (f HandlerFunc) HandleEvent(e *Engine, ev Event) {
	f(e, ev)
}
