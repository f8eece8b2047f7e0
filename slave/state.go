package slave

// State is the transaction substate of an engine.
type State uint8

const (
	Idle State = iota
	// AwaitingTxBuffer: a read was requested and the master is stalled until
	// TxPrepare supplies data.
	AwaitingTxBuffer
	// SendingTx: the TX buffer is handed to the controller and the master is
	// reading.
	SendingTx
	// AwaitingRxBuffer: a write was requested and the master is stalled until
	// RxPrepare supplies room.
	AwaitingRxBuffer
	// ReceivingRx: the RX buffer is handed to the controller and the master
	// is writing.
	ReceivingRx
	// Faulted is left only through ErrorGetAndClear.
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingTxBuffer:
		return "awaiting-tx-buffer"
	case SendingTx:
		return "sending-tx"
	case AwaitingRxBuffer:
		return "awaiting-rx-buffer"
	case ReceivingRx:
		return "receiving-rx"
	case Faulted:
		return "fault"
	default:
		return "unknown"
	}
}

// busy reports whether a transaction is in flight.
func (s State) busy() bool {
	return s != Idle && s != Faulted
}

// Lifecycle is the administrative state of an engine.
type Lifecycle uint8

const (
	Uninitialized Lifecycle = iota
	Initialized
	Enabled
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Enabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// BusEvent is a hardware event raised by a controller.
type BusEvent uint8

const (
	// BusWrite: the master addressed the slave for writing.
	BusWrite BusEvent = iota + 1
	// BusRead: the master addressed the slave for reading.
	BusRead
	// BusStopped: stop condition, the transfer is over.
	BusStopped
	// BusError: the controller flagged an error, see Controller.ErrorSource.
	BusError
)

func (e BusEvent) String() string {
	switch e {
	case BusWrite:
		return "write"
	case BusRead:
		return "read"
	case BusStopped:
		return "stopped"
	case BusError:
		return "error"
	default:
		return "unknown"
	}
}
