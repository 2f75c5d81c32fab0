package twophase_test

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anandp/concord/internal/config"
	"github.com/anandp/concord/internal/rpcnet"
	"github.com/anandp/concord/internal/twophase"
)

const testAuthKey = "peekaboo"

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

type harness struct {
	coordinator *twophase.Coordinator
	serverA     *twophase.ParticipantServer
	serverB     *twophase.ParticipantServer
}

func startHarness(t *testing.T, crashBeforeA, crashAfterA bool) *harness {
	t.Helper()
	dir := t.TempDir()

	addrA := freeAddr(t)
	addrB := freeAddr(t)

	cfgA := &config.Participant{
		Listen:          addrA,
		AuthKey:         testAuthKey,
		AccountName:     "A",
		AccountFile:     filepath.Join(dir, "a.balance"),
		PreparedFile:    filepath.Join(dir, "a.prepared"),
		LogFile:         filepath.Join(dir, "a.log"),
		CrashBeforeVote: crashBeforeA,
		CrashAfterVote:  crashAfterA,
	}
	cfgB := &config.Participant{
		Listen:       addrB,
		AuthKey:      testAuthKey,
		AccountName:  "B",
		AccountFile:  filepath.Join(dir, "b.balance"),
		PreparedFile: filepath.Join(dir, "b.prepared"),
		LogFile:      filepath.Join(dir, "b.log"),
	}

	serverA, err := twophase.NewParticipantServer(cfgA)
	require.NoError(t, err)
	serverB, err := twophase.NewParticipantServer(cfgB)
	require.NoError(t, err)

	go func() { _ = serverA.Serve() }()
	go func() { _ = serverB.Serve() }()
	t.Cleanup(func() {
		_ = serverA.Close()
		_ = serverB.Close()
	})
	time.Sleep(50 * time.Millisecond)

	txnLog, err := twophase.OpenTxnLog(filepath.Join(dir, "coordinator.log"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = txnLog.Close() })

	client := rpcnet.NewClient(2 * time.Second)
	coord := twophase.NewCoordinator(addrA, addrB, testAuthKey, client, txnLog)

	return &harness{coordinator: coord, serverA: serverA, serverB: serverB}
}

// S4: happy path transfer.
func TestRunTransfer100HappyPath(t *testing.T) {
	h := startHarness(t, false, false)
	require.NoError(t, h.coordinator.InitializeBalances(500, 200))

	decision, err := h.coordinator.RunTransfer100()
	require.NoError(t, err)
	require.Equal(t, twophase.Commit, decision)

	balances, err := h.coordinator.GetBalances()
	require.NoError(t, err)
	require.Equal(t, int64(400), balances.A)
	require.Equal(t, int64(300), balances.B)
}

// S5: insufficient funds on A aborts the transaction and leaves both
// balances unchanged.
func TestRunTransfer100InsufficientFunds(t *testing.T) {
	h := startHarness(t, false, false)
	require.NoError(t, h.coordinator.InitializeBalances(50, 200))

	decision, err := h.coordinator.RunTransfer100()
	require.NoError(t, err)
	require.Equal(t, twophase.Abort, decision)

	balances, err := h.coordinator.GetBalances()
	require.NoError(t, err)
	require.Equal(t, int64(50), balances.A)
	require.Equal(t, int64(200), balances.B)
}

// T2_BONUS credits both accounts with 20% of A's balance.
func TestRunBonus20Percent(t *testing.T) {
	h := startHarness(t, false, false)
	require.NoError(t, h.coordinator.InitializeBalances(1000, 100))

	decision, err := h.coordinator.RunBonus20Percent()
	require.NoError(t, err)
	require.Equal(t, twophase.Commit, decision)

	balances, err := h.coordinator.GetBalances()
	require.NoError(t, err)
	require.Equal(t, int64(1200), balances.A)
	require.Equal(t, int64(300), balances.B)
}

// S6: a participant that simulates a crash before casting its vote holds
// prepare open; released before the coordinator's 2s call timeout, it
// votes normally and the transaction commits on both accounts.
func TestCrashBeforeVoteBlocksPrepareUntilReleased(t *testing.T) {
	h := startHarness(t, true, false)
	require.NoError(t, h.coordinator.InitializeBalances(500, 200))

	done := make(chan twophase.Decision, 1)
	go func() {
		decision, err := h.coordinator.RunTransfer100()
		require.NoError(t, err)
		done <- decision
	}()

	select {
	case <-done:
		t.Fatal("prepare must block while the participant simulates a pre-vote crash")
	case <-time.After(200 * time.Millisecond):
	}

	h.serverA.Participant().ReleaseCrash()

	select {
	case decision := <-done:
		require.Equal(t, twophase.Commit, decision)
	case <-time.After(3 * time.Second):
		t.Fatal("transaction never completed after releasing the crash gate")
	}

	balances, err := h.coordinator.GetBalances()
	require.NoError(t, err)
	require.Equal(t, int64(400), balances.A)
	require.Equal(t, int64(300), balances.B)
}

// S7: a participant that crashes after casting its vote has already
// durably recorded the prepared balance; once released, commit still
// completes and the prepared entry is gone.
func TestCrashAfterVoteStillCommitsOnceReleased(t *testing.T) {
	h := startHarness(t, false, true)
	require.NoError(t, h.coordinator.InitializeBalances(500, 200))

	done := make(chan twophase.Decision, 1)
	go func() {
		decision, err := h.coordinator.RunTransfer100()
		require.NoError(t, err)
		done <- decision
	}()

	select {
	case <-done:
		t.Fatal("prepare must block while the participant simulates a post-vote crash")
	case <-time.After(200 * time.Millisecond):
	}

	h.serverA.Participant().ReleaseCrash()

	select {
	case decision := <-done:
		require.Equal(t, twophase.Commit, decision)
	case <-time.After(3 * time.Second):
		t.Fatal("transaction never completed after releasing the crash gate")
	}

	balances, err := h.coordinator.GetBalances()
	require.NoError(t, err)
	require.Equal(t, int64(400), balances.A)
	require.Equal(t, int64(300), balances.B)
}
