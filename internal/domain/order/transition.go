package order

// CanTransition reports whether from -> to is a single forward step of the
// fulfillment state machine. Re-applying the current state is allowed.
func CanTransition(from, to State) bool {
	f, t := from.rank(), to.rank()
	if f < 0 || t < 0 {
		return false
	}
	return t == f || t == f+1
}

// Terminal reports whether no further state follows s.
func (s State) Terminal() bool {
	return s == StateDelivered
}
