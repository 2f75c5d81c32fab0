package paxos

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Acceptor is the safety-critical role: it promises not to accept
// proposals below a number it has seen, and remembers the highest
// numbered value it has accepted. One Acceptor per node, serialized
// behind a single mutex (SPEC_FULL §5) — correctness does not depend on
// any particular lock granularity finer than "the whole operation".
type Acceptor struct {
	mu sync.Mutex

	promisedN     ProposalNumber
	acceptedN     ProposalNumber
	acceptedValue []byte
	counter       int64

	storage *Storage
	log     *logrus.Entry
}

// NewAcceptor constructs an Acceptor backed by storage, reloading any
// previously persisted state so a restarted node keeps its promises.
func NewAcceptor(storage *Storage, log *logrus.Entry) (*Acceptor, error) {
	st, err := storage.Load()
	if err != nil {
		return nil, errors.Wrap(err, "paxos: load acceptor state")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Acceptor{
		promisedN:     st.PromisedN,
		acceptedN:     st.AcceptedN,
		acceptedValue: st.Value,
		counter:       st.Counter,
		storage:       storage,
		log:           log,
	}, nil
}

// Prepare implements phase 1 of the acceptor side: promise not to accept
// anything below n in exchange for whatever we've already accepted, so a
// proposer can carry it forward.
//
// Invariant preserved: accepted_n <= promised_n, and promised_n never
// decreases (SPEC_FULL §3 invariants 3-4).
func (a *Acceptor) Prepare(n ProposalNumber) (Promise, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.promisedN.Valid() && n <= a.promisedN {
		a.log.WithFields(logrus.Fields{"n": n, "promised_n": a.promisedN}).Debug("paxos: reject prepare")
		return Promise{OK: false, RejectedPromised: a.promisedN}, nil
	}

	prevPromised := a.promisedN
	a.promisedN = n
	if err := a.persist(); err != nil {
		a.promisedN = prevPromised
		return Promise{}, err
	}

	a.log.WithFields(logrus.Fields{"n": n}).Debug("paxos: promise")
	return Promise{
		OK:            true,
		PromisedN:     n,
		AcceptedN:     a.acceptedN,
		AcceptedValue: a.acceptedValue,
	}, nil
}

// Accept implements phase 2 of the acceptor side. The comparison is
// n >= promisedN, not strictly greater: a proposer that just won a
// promise for n must be able to complete phase 2 with that same n, even
// though its own prepare raised promisedN to n (SPEC_FULL §4.1).
func (a *Acceptor) Accept(n ProposalNumber, v []byte) (Accepted, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.promisedN.Valid() && n < a.promisedN {
		a.log.WithFields(logrus.Fields{"n": n, "promised_n": a.promisedN}).Debug("paxos: reject accept")
		return Accepted{OK: false, RejectedPromised: a.promisedN}, nil
	}

	prev := state{PromisedN: a.promisedN, AcceptedN: a.acceptedN, Value: a.acceptedValue, Counter: a.counter}
	a.promisedN = n
	a.acceptedN = n
	a.acceptedValue = v

	if err := a.persist(); err != nil {
		a.promisedN, a.acceptedN, a.acceptedValue = prev.PromisedN, prev.AcceptedN, prev.Value
		return Accepted{}, err
	}

	a.log.WithFields(logrus.Fields{"n": n}).Info("paxos: accepted")
	return Accepted{OK: true, N: n}, nil
}

// CurrentValue returns the acceptor's local accepted value, which is
// exactly what Learner.GetValue exposes — a learner is nothing more than
// a read of this state.
func (a *Acceptor) CurrentValue() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acceptedValue
}

// nextCounter atomically bumps and returns the proposer's local counter,
// persisting it so restarts don't reuse old proposal numbers (SPEC_FULL
// §9). Safety never depends on this; it is a pure liveness improvement.
func (a *Acceptor) nextCounter() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.counter++
	counter := a.counter
	if err := a.persist(); err != nil {
		a.counter--
		return 0, err
	}
	return counter, nil
}

// persist must be called with a.mu held.
func (a *Acceptor) persist() error {
	err := a.storage.Save(state{
		PromisedN: a.promisedN,
		AcceptedN: a.acceptedN,
		Value:     a.acceptedValue,
		Counter:   a.counter,
	})
	if err != nil {
		return errors.Wrap(err, "paxos: persist acceptor state")
	}
	return nil
}
