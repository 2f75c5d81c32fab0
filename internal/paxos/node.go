package paxos

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/anandp/concord/internal/config"
	"github.com/anandp/concord/internal/rpcnet"
)

// PrepareArgs/PrepareReply, AcceptArgs/AcceptReply, and the
// GetValue/SubmitValue pairs below are the fixed, typed set of RPC
// operations a Paxos node exposes (SPEC_FULL §1, design note 9): every
// args struct embeds rpcnet.Envelope so the auth key travels with the
// request and is checked before any protocol state is touched.

type PrepareArgs struct {
	rpcnet.Envelope
	N ProposalNumber
}

type PrepareReply struct {
	Promise Promise
}

type AcceptArgs struct {
	rpcnet.Envelope
	N     ProposalNumber
	Value []byte
}

type AcceptReply struct {
	Accepted Accepted
}

type GetValueArgs struct {
	rpcnet.Envelope
}

type GetValueReply struct {
	Value []byte
}

type SubmitValueArgs struct {
	rpcnet.Envelope
	Value []byte
}

type SubmitValueReply struct {
	Outcome Outcome
}

// Node is one Paxos cluster member: it owns an Acceptor, a Learner, and
// a Proposer, and exposes all three as RPC operations behind a single
// auth key. Any node may act as proposer, acceptor, or learner — the
// roles are symmetric (SPEC_FULL §2).
type Node struct {
	cfg      *config.PaxosNode
	acceptor *Acceptor
	learner  *Learner
	proposer *Proposer
	server   *rpcnet.Server
	log      *logrus.Entry
}

// DefaultPeerTimeout bounds every outbound prepare/accept RPC so one
// unreachable peer cannot stall a whole round (SPEC_FULL §5).
const DefaultPeerTimeout = 500 * time.Millisecond

// NewNode constructs a Paxos node from configuration: loads durable
// acceptor state and wires the learner and proposer. The RPC server is
// created and started by Serve.
func NewNode(cfg *config.PaxosNode) (*Node, error) {
	log := logrus.WithFields(logrus.Fields{"component": "paxos", "node_id": cfg.NodeID})

	storage := NewStorage(cfg.ReplicaFile)
	acceptor, err := NewAcceptor(storage, log)
	if err != nil {
		return nil, errors.Wrap(err, "paxos: construct acceptor")
	}

	client := rpcnet.NewClient(DefaultPeerTimeout)
	remotes := make([]remotePeer, 0, len(cfg.Peers))
	for _, peer := range cfg.Peers {
		if peer.ID == cfg.NodeID {
			continue
		}
		remotes = append(remotes, remotePeer{addr: peer.Addr, authKey: cfg.AuthKey, client: client})
	}

	proposer := NewProposer(cfg.NodeID, acceptor, remotes, log)
	learner := NewLearner(acceptor)

	return &Node{
		cfg:      cfg,
		acceptor: acceptor,
		learner:  learner,
		proposer: proposer,
		log:      log,
	}, nil
}

// Serve starts the RPC listener and blocks inside the accept loop until
// Close is called (SPEC_FULL §6: "servers run until killed").
func (n *Node) Serve() error {
	server, err := rpcnet.NewServer(n.cfg.Listen, n, n.log)
	if err != nil {
		return errors.Wrap(err, "paxos: start RPC server")
	}
	n.server = server
	n.log.WithField("addr", server.Addr()).Info("paxos: node listening")
	server.Serve()
	return nil
}

// Addr returns the node's bound listen address (useful for tests that
// bind to ":0").
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Close shuts down the RPC listener.
func (n *Node) Close() error {
	if n.server == nil {
		return nil
	}
	return n.server.Close()
}

// Prepare is the RPC-exposed acceptor operation.
func (n *Node) Prepare(args *PrepareArgs, reply *PrepareReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, n.cfg.AuthKey); err != nil {
		return err
	}
	promise, err := n.acceptor.Prepare(args.N)
	if err != nil {
		return err
	}
	reply.Promise = promise
	return nil
}

// Accept is the RPC-exposed acceptor operation.
func (n *Node) Accept(args *AcceptArgs, reply *AcceptReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, n.cfg.AuthKey); err != nil {
		return err
	}
	accepted, err := n.acceptor.Accept(args.N, args.Value)
	if err != nil {
		return err
	}
	reply.Accepted = accepted
	return nil
}

// GetValue is the RPC-exposed learner operation.
func (n *Node) GetValue(args *GetValueArgs, reply *GetValueReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, n.cfg.AuthKey); err != nil {
		return err
	}
	reply.Value = n.learner.GetValue()
	return nil
}

// SubmitValue is the RPC-exposed client entry point that drives a
// proposer round on this node.
func (n *Node) SubmitValue(args *SubmitValueArgs, reply *SubmitValueReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, n.cfg.AuthKey); err != nil {
		return err
	}
	reply.Outcome = n.proposer.SubmitValue(args.Value)
	return nil
}
