package paxos

// Learner is the simplest of the three roles: it has no state of its
// own, it simply reports the local acceptor's current accepted value
// (SPEC_FULL §2). Any node can answer GetValue for itself; agreement
// across nodes is a consequence of the acceptor/proposer protocol, not
// something the learner enforces.
type Learner struct {
	acceptor *Acceptor
}

// NewLearner binds a Learner to the node's own acceptor.
func NewLearner(acceptor *Acceptor) *Learner {
	return &Learner{acceptor: acceptor}
}

// GetValue returns the currently accepted value, or nil if none has been
// accepted yet.
func (l *Learner) GetValue() []byte {
	return l.acceptor.CurrentValue()
}
