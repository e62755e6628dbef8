package model

// ClockRelation describes how two vector clocks relate.
type ClockRelation int

const (
	// ClockBefore means the receiver happened strictly before the other clock.
	ClockBefore ClockRelation = iota
	// ClockAfter means the receiver happened strictly after the other clock.
	ClockAfter
	// ClockEqual means both clocks carry identical counters.
	ClockEqual
	// ClockConcurrent means neither clock dominates the other.
	ClockConcurrent
)

// VectorClock maps a clientId to the number of operations that client had
// issued (or observed) when the owning operation was created.
type VectorClock map[string]int64

// Clone returns an independent copy. A nil clock clones to nil.
func (vc VectorClock) Clone() VectorClock {
	if vc == nil {
		return nil
	}
	cp := make(VectorClock, len(vc))
	for k, v := range vc {
		cp[k] = v
	}
	return cp
}

// Get returns the counter for client, or 0.
func (vc VectorClock) Get(client string) int64 {
	return vc[client]
}

// Merge returns the pointwise maximum of vc and other.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	if out == nil {
		out = make(VectorClock, len(other))
	}
	for k, v := range other {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// Compare determines how vc relates to other.
func (vc VectorClock) Compare(other VectorClock) ClockRelation {
	vcAhead, otherAhead := false, false
	for k, v := range vc {
		switch {
		case v > other[k]:
			vcAhead = true
		case v < other[k]:
			otherAhead = true
		}
	}
	for k, v := range other {
		if _, seen := vc[k]; !seen && v > 0 {
			otherAhead = true
		}
	}

	switch {
	case vcAhead && otherAhead:
		return ClockConcurrent
	case vcAhead:
		return ClockAfter
	case otherAhead:
		return ClockBefore
	default:
		return ClockEqual
	}
}

// HasObserved reports whether an operation stamped with vc causally observed
// the operation `other` issued by otherClient.
//
// other must carry its own issuing counter (other[otherClient] > 0); without
// it nothing can be proven and the operations are treated as concurrent.
func (vc VectorClock) HasObserved(otherClient string, other VectorClock) bool {
	own := other.Get(otherClient)
	if own <= 0 {
		return false
	}
	return vc.Get(otherClient) >= own
}
