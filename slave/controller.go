package slave

// ISR is the event-context entry point a controller calls for every
// hardware event. Calls must be serialised by the controller.
type ISR interface {
	HandleBusEvent(ev BusEvent)
}

// Controller is the hardware capability behind an engine. The engine issues
// semantic operations against it and never touches registers itself.
//
// Methods may be called from both the application and the event context,
// always with the engine lock held. They must not call back into the engine.
type Controller interface {
	// ID names the controller, e.g. "twis0". Unique within a registry.
	ID() string
	// Resource names the hardware block the controller shares with other
	// peripherals. Only one logical driver may claim it at a time.
	Resource() string

	// Configure applies addresses, pins, pulls and skip flags.
	Configure(cfg Config) error
	// Reset returns the controller and its pins to the default electrical
	// state.
	Reset()
	// Attach installs isr as the event handler at the given priority.
	Attach(isr ISR, priority uint8)
	Detach()
	Enable()
	Disable()

	// PrepareTx hands buf to the transfer mechanism for the pending read.
	PrepareTx(buf []byte)
	// PrepareRx hands buf to the transfer mechanism for the pending write.
	PrepareRx(buf []byte)
	// Abort abandons the current transfer. A stalled master is released
	// with NACK.
	Abort()

	// TxAmount and RxAmount report bytes moved by the last transfer.
	TxAmount() int
	RxAmount() int
	// ErrorSource reads and clears the hardware error source.
	ErrorSource() FaultSet

	// Addressable reports whether buf lies in memory reachable by the
	// transfer mechanism.
	Addressable(buf []byte) bool
	// MaxTransfer is the largest buffer the transfer mechanism can address.
	MaxTransfer() int
}
