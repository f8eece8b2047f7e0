package slave

import "strings"

// Fault is a single bus-protocol fault source.
type Fault uint8

const (
	// FaultOverflow means the master wrote past the end of the RX buffer.
	// The extra bytes were dropped.
	FaultOverflow Fault = iota
	// FaultDataNack means a received data byte was answered with NACK.
	FaultDataNack
	// FaultOverread means the master read past the end of the TX buffer and
	// was served the over-read character.
	FaultOverread
	// FaultUnexpectedEvent means the state machine saw a bus event it did
	// not expect in its current substate.
	FaultUnexpectedEvent

	faultCount
)

func (f Fault) String() string {
	switch f {
	case FaultOverflow:
		return "overflow"
	case FaultDataNack:
		return "data-nack"
	case FaultOverread:
		return "overread"
	case FaultUnexpectedEvent:
		return "unexpected-event"
	default:
		return "unknown"
	}
}

// FaultSet is a set of faults. The zero value is the empty set.
type FaultSet uint8

// NewFaultSet returns the set holding the given faults.
func NewFaultSet(faults ...Fault) FaultSet {
	var s FaultSet
	for _, f := range faults {
		s = s.Add(f)
	}
	return s
}

// Add returns s with f included. Unknown faults are ignored.
func (s FaultSet) Add(f Fault) FaultSet {
	if f >= faultCount {
		return s
	}
	return s | 1<<f
}

func (s FaultSet) Union(o FaultSet) FaultSet {
	return s | o
}

func (s FaultSet) Has(f Fault) bool {
	return f < faultCount && s&(1<<f) != 0
}

func (s FaultSet) Empty() bool {
	return s == 0
}

// Faults lists the members of s in declaration order.
func (s FaultSet) Faults() []Fault {
	var res []Fault
	for f := Fault(0); f < faultCount; f++ {
		if s.Has(f) {
			res = append(res, f)
		}
	}
	return res
}

func (s FaultSet) String() string {
	if s.Empty() {
		return "none"
	}
	names := make([]string, 0, faultCount)
	for _, f := range s.Faults() {
		names = append(names, f.String())
	}
	return strings.Join(names, "|")
}
