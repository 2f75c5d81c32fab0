package paxos

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anandp/concord/internal/rpcnet"
)

// peerCaller is what a Proposer needs to reach one other node: prepare
// and accept, both of which may be the local acceptor (for self) or an
// RPC round trip (for everyone else). Routing self through the same
// shape of call as a remote peer keeps the quorum-counting logic
// identical regardless of which acceptor answered (SPEC_FULL §4.2).
type peerCaller interface {
	prepare(n ProposalNumber) (Promise, error)
	accept(n ProposalNumber, v []byte) (Accepted, error)
}

// localPeer calls straight into this node's own Acceptor.
type localPeer struct {
	acceptor *Acceptor
}

func (p localPeer) prepare(n ProposalNumber) (Promise, error) { return p.acceptor.Prepare(n) }
func (p localPeer) accept(n ProposalNumber, v []byte) (Accepted, error) {
	return p.acceptor.Accept(n, v)
}

// remotePeer calls a peer node's Acceptor over RPC.
type remotePeer struct {
	addr    string
	authKey string
	client  *rpcnet.Client
}

func (p remotePeer) prepare(n ProposalNumber) (Promise, error) {
	var reply PrepareReply
	args := PrepareArgs{Envelope: rpcnet.Envelope{AuthKey: p.authKey}, N: n}
	if err := p.client.Call(p.addr, "Node.Prepare", &args, &reply); err != nil {
		return Promise{}, err
	}
	return reply.Promise, nil
}

func (p remotePeer) accept(n ProposalNumber, v []byte) (Accepted, error) {
	var reply AcceptReply
	args := AcceptArgs{Envelope: rpcnet.Envelope{AuthKey: p.authKey}, N: n, Value: v}
	if err := p.client.Call(p.addr, "Node.Accept", &args, &reply); err != nil {
		return Accepted{}, err
	}
	return reply.Accepted, nil
}

// Proposer drives single-decree Paxos rounds on behalf of a client
// request. It holds no state between rounds beyond the acceptor's
// persisted proposal counter; SubmitValue is the entire protocol.
type Proposer struct {
	nodeID    int
	peerCount int
	acceptor  *Acceptor
	peers     []peerCaller // includes self as a localPeer
	log       *logrus.Entry
}

// NewProposer wires a Proposer for nodeID against the full peer set
// (self included as a localPeer, everyone else as a remotePeer).
func NewProposer(nodeID int, acceptor *Acceptor, remotes []remotePeer, log *logrus.Entry) *Proposer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	peers := make([]peerCaller, 0, len(remotes)+1)
	peers = append(peers, localPeer{acceptor: acceptor})
	for _, r := range remotes {
		peers = append(peers, r)
	}
	return &Proposer{
		nodeID:    nodeID,
		peerCount: len(peers),
		acceptor:  acceptor,
		peers:     peers,
		log:       log,
	}
}

func majority(n int) int {
	return n/2 + 1
}

// SubmitValue runs one attempt at choosing v_client: phase 1 across all
// peers (self included), pick-already-accepted carry-forward, phase 2,
// and a success/failure diagnostic. It is not retried automatically
// (SPEC_FULL §4.2) — a failed round is reported straight back.
func (p *Proposer) SubmitValue(vClient []byte) Outcome {
	counter, err := p.acceptor.nextCounter()
	if err != nil {
		return Outcome{Success: false, Reason: "proposal number generation: " + err.Error()}
	}
	n := NextProposalNumber(counter, p.nodeID, p.peerCount)

	promises := p.broadcastPrepare(n)
	need := majority(p.peerCount)
	if len(promises) < need {
		p.log.WithFields(logrus.Fields{"n": n, "promises": len(promises), "need": need}).Warn("paxos: phase 1 failed")
		return Outcome{Success: false, Reason: "phase 1", ProposalN: n, Responses: len(promises)}
	}

	value := vClient
	var highest ProposalNumber
	for _, pr := range promises {
		if pr.AcceptedN.Valid() && pr.AcceptedN > highest {
			highest = pr.AcceptedN
			value = pr.AcceptedValue
		}
	}

	accepts := p.broadcastAccept(n, value)
	if accepts < need {
		p.log.WithFields(logrus.Fields{"n": n, "accepts": accepts, "need": need}).Warn("paxos: phase 2 failed")
		return Outcome{Success: false, Reason: "phase 2", ProposalN: n, Responses: accepts}
	}

	p.log.WithFields(logrus.Fields{"n": n, "value": string(value)}).Info("paxos: value chosen")
	return Outcome{Success: true, Value: value, ProposalN: n, Responses: accepts}
}

// broadcastPrepare issues prepare(n) to every peer concurrently; an RPC
// error or timeout counts as no response, never as a crash (SPEC_FULL
// §7). Concurrent fan-out is explicitly allowed by §5 as long as the
// resulting quorum counting is equivalent to a sequential round.
func (p *Proposer) broadcastPrepare(n ProposalNumber) []Promise {
	var mu sync.Mutex
	var wg sync.WaitGroup
	promises := make([]Promise, 0, len(p.peers))

	for _, peer := range p.peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			pr, err := peer.prepare(n)
			if err != nil {
				return
			}
			if !pr.OK {
				return
			}
			mu.Lock()
			promises = append(promises, pr)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return promises
}

func (p *Proposer) broadcastAccept(n ProposalNumber, v []byte) int {
	var mu sync.Mutex
	var wg sync.WaitGroup
	count := 0

	for _, peer := range p.peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			ac, err := peer.accept(n, v)
			if err != nil {
				return
			}
			if !ac.OK {
				return
			}
			mu.Lock()
			count++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return count
}
