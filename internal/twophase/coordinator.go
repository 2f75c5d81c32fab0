package twophase

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/anandp/concord/internal/rpcnet"
)

// Coordinator drives the two participants through prepare and decide for
// the two scenario transactions (SPEC_FULL §4.3). It holds no account
// state of its own — everything it knows about a transaction lives in
// its log and on the wire.
type Coordinator struct {
	addrA, addrB string
	authKey      string
	client       *rpcnet.Client
	log          *TxnLog
}

// NewCoordinator builds a Coordinator that talks to the two participants
// at addrA/addrB using authKey; each call is bounded by client's timeout.
func NewCoordinator(addrA, addrB, authKey string, client *rpcnet.Client, log *TxnLog) *Coordinator {
	return &Coordinator{addrA: addrA, addrB: addrB, authKey: authKey, client: client, log: log}
}

// InitializeBalances sets both accounts' starting balances, bypassing
// 2PC entirely — this is scenario setup, not a committed transaction
// (mirrors original_source/Lab3/coordinator.py's initialize_balances).
func (c *Coordinator) InitializeBalances(a, b int64) error {
	_ = c.log.Append("initializing balances: A=%d, B=%d", a, b)

	var replyA SetBalanceReply
	if err := c.client.Call(c.addrA, "Participant.SetBalanceRPC", &SetBalanceArgs{
		Envelope: rpcnet.Envelope{AuthKey: c.authKey},
		Balance:  a,
	}, &replyA); err != nil {
		return errors.Wrap(err, "twophase: set balance on A")
	}

	var replyB SetBalanceReply
	if err := c.client.Call(c.addrB, "Participant.SetBalanceRPC", &SetBalanceArgs{
		Envelope: rpcnet.Envelope{AuthKey: c.authKey},
		Balance:  b,
	}, &replyB); err != nil {
		return errors.Wrap(err, "twophase: set balance on B")
	}

	return nil
}

// GetBalances reads both accounts' current committed balances.
func (c *Coordinator) GetBalances() (Balances, error) {
	var replyA GetBalanceReply
	if err := c.client.Call(c.addrA, "Participant.GetBalanceRPC", &GetBalanceArgs{
		Envelope: rpcnet.Envelope{AuthKey: c.authKey},
	}, &replyA); err != nil {
		return Balances{}, errors.Wrap(err, "twophase: get balance from A")
	}

	var replyB GetBalanceReply
	if err := c.client.Call(c.addrB, "Participant.GetBalanceRPC", &GetBalanceArgs{
		Envelope: rpcnet.Envelope{AuthKey: c.authKey},
	}, &replyB); err != nil {
		return Balances{}, errors.Wrap(err, "twophase: get balance from B")
	}

	return Balances{A: replyA.Balance, B: replyB.Balance}, nil
}

// RunTransfer100 runs the T1_TRANSFER_100 scenario transaction: move 100
// from A to B, if A can afford it.
func (c *Coordinator) RunTransfer100() (Decision, error) {
	return c.twoPhaseCommit(TxTransfer100, TxParams{})
}

// RunBonus20Percent runs the T2_BONUS scenario transaction: credit both
// accounts 20% of A's current balance (mirrors
// original_source/Lab3/coordinator.py's run_bonus_20_percent).
func (c *Coordinator) RunBonus20Percent() (Decision, error) {
	balances, err := c.GetBalances()
	if err != nil {
		return Abort, errors.Wrap(err, "twophase: read balances for bonus calculation")
	}
	bonus := (20 * balances.A) / 100
	return c.twoPhaseCommit(TxBonus20Percent, TxParams{Bonus: bonus})
}

// twoPhaseCommit runs one full prepare/decide round against both
// participants and returns the final decision. Both participants must
// vote yes for the transaction to commit; any no vote, RPC error, or
// timeout during prepare is treated as a no vote (SPEC_FULL §4.3).
// Commit/abort delivery failures are logged but never change the
// decision once it has been made. Delivery is attempted once per
// participant and not retried; a participant that missed its decide
// message keeps its prepared entry for that tid.
func (c *Coordinator) twoPhaseCommit(txType TxType, params TxParams) (Decision, error) {
	tid := uuid.NewString()
	_ = c.log.Append("BEGIN tid=%s type=%s params=%+v", tid, txType, params)

	voteA, errA := c.prepare(c.addrA, tid, txType, params)
	voteB, errB := c.prepare(c.addrB, tid, txType, params)

	if errA != nil {
		_ = c.log.Append("prepare on A failed for tid=%s: %v (treated as NO)", tid, errA)
	}
	if errB != nil {
		_ = c.log.Append("prepare on B failed for tid=%s: %v (treated as NO)", tid, errB)
	}

	decision := Abort
	if errA == nil && errB == nil && voteA && voteB {
		decision = Commit
	}
	_ = c.log.Append("DECISION %s for tid=%s (votes: A=%v, B=%v)", decision, tid, voteA, voteB)

	if err := c.decide(c.addrA, tid, decision); err != nil {
		_ = c.log.Append("delivering decision to A failed for tid=%s: %v", tid, err)
	}
	if err := c.decide(c.addrB, tid, decision); err != nil {
		_ = c.log.Append("delivering decision to B failed for tid=%s: %v", tid, err)
	}

	_ = c.log.Append("END tid=%s decision=%s", tid, decision)
	return decision, nil
}

func (c *Coordinator) prepare(addr, tid string, txType TxType, params TxParams) (bool, error) {
	var reply PrepareReply
	err := c.client.Call(addr, "Participant.PrepareRPC", &PrepareArgs{
		Envelope: rpcnet.Envelope{AuthKey: c.authKey},
		TID:      tid,
		TxType:   txType,
		Params:   params,
	}, &reply)
	if err != nil {
		return false, err
	}
	return reply.Vote, nil
}

func (c *Coordinator) decide(addr, tid string, decision Decision) error {
	if decision == Commit {
		var reply CommitReply
		return c.client.Call(addr, "Participant.CommitRPC", &CommitArgs{
			Envelope: rpcnet.Envelope{AuthKey: c.authKey},
			TID:      tid,
		}, &reply)
	}
	var reply AbortReply
	return c.client.Call(addr, "Participant.AbortRPC", &AbortArgs{
		Envelope: rpcnet.Envelope{AuthKey: c.authKey},
		TID:      tid,
	}, &reply)
}
