package paxos_test

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anandp/concord/internal/config"
	"github.com/anandp/concord/internal/paxos"
	"github.com/anandp/concord/internal/rpcnet"
)

const testAuthKey = "peekaboo"

// freeAddr reserves an ephemeral TCP port and releases it immediately;
// good enough for tests that need to know an address before the real
// listener comes up.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startCluster(t *testing.T, n int) []*paxos.Node {
	t.Helper()
	dir := t.TempDir()

	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = freeAddr(t)
	}

	peers := make([]config.Peer, n)
	for i := range peers {
		peers[i] = config.Peer{ID: i + 1, Addr: addrs[i]}
	}

	nodes := make([]*paxos.Node, n)
	for i := 0; i < n; i++ {
		cfg := &config.PaxosNode{
			NodeID:      i + 1,
			NodeIndex:   i,
			Peers:       peers,
			Listen:      addrs[i],
			AuthKey:     testAuthKey,
			ReplicaFile: filepath.Join(dir, fmt.Sprintf("replica-%d.state", i+1)),
		}
		node, err := paxos.NewNode(cfg)
		require.NoError(t, err)
		nodes[i] = node
	}

	var wg sync.WaitGroup
	for _, node := range nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = node.Serve()
		}()
	}

	t.Cleanup(func() {
		for _, node := range nodes {
			_ = node.Close()
		}
	})

	// give listeners a moment to come up
	time.Sleep(50 * time.Millisecond)
	return nodes
}

func submit(t *testing.T, node *paxos.Node, value string) paxos.SubmitValueReply {
	t.Helper()
	client := rpcnet.NewClient(2 * time.Second)
	var reply paxos.SubmitValueReply
	err := client.Call(node.Addr(), "Node.SubmitValue", &paxos.SubmitValueArgs{
		Envelope: rpcnet.Envelope{AuthKey: testAuthKey},
		Value:    []byte(value),
	}, &reply)
	require.NoError(t, err)
	return reply
}

func getValue(t *testing.T, node *paxos.Node) string {
	t.Helper()
	client := rpcnet.NewClient(2 * time.Second)
	var reply paxos.GetValueReply
	err := client.Call(node.Addr(), "Node.GetValue", &paxos.GetValueArgs{
		Envelope: rpcnet.Envelope{AuthKey: testAuthKey},
	}, &reply)
	require.NoError(t, err)
	return string(reply.Value)
}

// S1: single proposer, all nodes up.
func TestSubmitValueSingleProposer(t *testing.T) {
	nodes := startCluster(t, 3)

	reply := submit(t, nodes[0], "hello")
	require.True(t, reply.Outcome.Success)
	require.Equal(t, "hello", string(reply.Outcome.Value))

	for _, node := range nodes {
		require.Equal(t, "hello", getValue(t, node))
	}
}

// S2: two concurrent proposers on different nodes.
func TestSubmitValueConcurrentProposers(t *testing.T) {
	nodes := startCluster(t, 3)

	var wg sync.WaitGroup
	results := make([]paxos.SubmitValueReply, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = submit(t, nodes[0], "X")
	}()
	go func() {
		defer wg.Done()
		results[1] = submit(t, nodes[1], "Y")
	}()
	wg.Wait()

	require.True(t, results[0].Outcome.Success)
	require.True(t, results[1].Outcome.Success)
	require.Equal(t, string(results[0].Outcome.Value), string(results[1].Outcome.Value))

	chosen := getValue(t, nodes[0])
	require.Contains(t, []string{"X", "Y"}, chosen)
	for _, node := range nodes {
		require.Equal(t, chosen, getValue(t, node))
	}
}

// S3: one peer unreachable; majority still succeeds.
func TestSubmitValueOnePeerDown(t *testing.T) {
	nodes := startCluster(t, 3)
	require.NoError(t, nodes[2].Close())

	reply := submit(t, nodes[0], "hello")
	require.True(t, reply.Outcome.Success)

	require.Equal(t, "hello", getValue(t, nodes[0]))
	require.Equal(t, "hello", getValue(t, nodes[1]))
}

// S8: a peer that accepts the connection but never answers must not
// stall the round past the per-peer timeout.
func TestSubmitValuePeerHangs(t *testing.T) {
	dir := t.TempDir()
	addrs := []string{freeAddr(t), freeAddr(t), freeAddr(t)}
	peers := []config.Peer{
		{ID: 1, Addr: addrs[0]},
		{ID: 2, Addr: addrs[1]},
		{ID: 3, Addr: addrs[2]},
	}

	// node 3 is a listener that accepts but never replies.
	ln, err := net.Listen("tcp", addrs[2])
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn // accepted, never read/write -> caller sees a timeout
		}
	}()

	node1cfg := &config.PaxosNode{NodeID: 1, Peers: peers, Listen: addrs[0], AuthKey: testAuthKey, ReplicaFile: filepath.Join(dir, "r1.state")}
	node2cfg := &config.PaxosNode{NodeID: 2, Peers: peers, Listen: addrs[1], AuthKey: testAuthKey, ReplicaFile: filepath.Join(dir, "r2.state")}

	node1, err := paxos.NewNode(node1cfg)
	require.NoError(t, err)
	node2, err := paxos.NewNode(node2cfg)
	require.NoError(t, err)
	go func() { _ = node1.Serve() }()
	go func() { _ = node2.Serve() }()
	t.Cleanup(func() { _ = node1.Close(); _ = node2.Close() })
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	reply := submit(t, node1, "hello")
	elapsed := time.Since(start)

	require.True(t, reply.Outcome.Success, "2 of 3 is still a majority even though node 3 hangs")
	require.Less(t, elapsed, 3*time.Second, "round must not block on the hanging peer")
}

// Acceptor monotonicity and accept-safety (invariants 3 & 4) directly,
// without going through a full proposer round.
func TestAcceptorRejectsStaleAccept(t *testing.T) {
	dir := t.TempDir()
	storage := paxos.NewStorage(filepath.Join(dir, "r.state"))
	acceptor, err := paxos.NewAcceptor(storage, nil)
	require.NoError(t, err)

	promise, err := acceptor.Prepare(20)
	require.NoError(t, err)
	require.True(t, promise.OK)

	accepted, err := acceptor.Accept(10, []byte("late"))
	require.NoError(t, err)
	require.False(t, accepted.OK, "accept below promised_n must be rejected")

	accepted, err = acceptor.Accept(20, []byte("ontime"))
	require.NoError(t, err)
	require.True(t, accepted.OK, "accept at exactly promised_n must succeed")

	lowerPromise, err := acceptor.Prepare(15)
	require.NoError(t, err)
	require.False(t, lowerPromise.OK, "promised_n must never decrease")
}

func TestAcceptorPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.state")
	storage := paxos.NewStorage(path)
	acceptor, err := paxos.NewAcceptor(storage, nil)
	require.NoError(t, err)

	_, err = acceptor.Prepare(30)
	require.NoError(t, err)
	_, err = acceptor.Accept(30, []byte("durable"))
	require.NoError(t, err)

	reloaded, err := paxos.NewAcceptor(paxos.NewStorage(path), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("durable"), reloaded.CurrentValue())
}
