package paxos

import "fmt"

// ProposalNumber is a totally ordered integer, unique across the cluster.
// It is constructed as counter*K + nodeID so that no two nodes can ever
// generate the same number, regardless of how their local counters
// happen to be interleaved.
type ProposalNumber int64

// None is the zero value standing in for "no proposal number yet" — the
// spec's "none" for promised_n/accepted_n.
const None ProposalNumber = 0

// Valid reports whether n represents an actual proposal (as opposed to
// None).
func (n ProposalNumber) Valid() bool {
	return n != None
}

func (n ProposalNumber) String() string {
	if !n.Valid() {
		return "none"
	}
	return fmt.Sprintf("%d", int64(n))
}

// multiplier returns the smallest power of ten strictly greater than
// peerCount, generalizing the reference cluster's hardcoded K=10 for
// N=3 to arbitrary cluster sizes (SPEC_FULL §3).
func multiplier(peerCount int) int64 {
	k := int64(10)
	for k <= int64(peerCount) {
		k *= 10
	}
	return k
}

// NextProposalNumber derives a fresh proposal number from a local,
// monotonically increasing counter, this node's ID, and the cluster
// size. Two calls with increasing counter values never collide with any
// other node's numbers at the same counter value.
func NextProposalNumber(counter int64, nodeID, peerCount int) ProposalNumber {
	return ProposalNumber(counter*multiplier(peerCount) + int64(nodeID))
}

// Promise is an acceptor's reply to prepare(n).
type Promise struct {
	OK               bool
	PromisedN        ProposalNumber
	AcceptedN        ProposalNumber
	AcceptedValue    []byte
	RejectedPromised ProposalNumber
}

// Accepted is an acceptor's reply to accept(n, v).
type Accepted struct {
	OK               bool
	N                ProposalNumber
	RejectedPromised ProposalNumber
}

// Outcome is a proposer round's result, reported to the client as a
// diagnostic (SPEC_FULL §6).
type Outcome struct {
	Success   bool
	Value     []byte
	Reason    string
	ProposalN ProposalNumber
	Responses int
}

func (o Outcome) String() string {
	if o.Success {
		return fmt.Sprintf("proposal %s: SubmitValue SUCCEEDED, chosen value = %q", o.ProposalN, o.Value)
	}
	return fmt.Sprintf("proposal %s: SubmitValue FAILED in %s (%d responses)", o.ProposalN, o.Reason, o.Responses)
}
