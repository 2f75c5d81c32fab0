package twophase

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/anandp/concord/internal/rpcnet"
)

// Participant is one resource manager in the 2PC core: it owns exactly
// one account's balance and votes on, then applies or discards, the
// transactions the coordinator drives it through (SPEC_FULL §4.4).
// Every operation is serialized behind one mutex — one transaction at a
// time per participant (§1 Non-goals, §5).
type Participant struct {
	mu sync.Mutex

	accountName string
	authKey     string

	balance  int64
	prepared map[string]int64

	account  *AccountStorage
	preparedStore *PreparedStorage
	log      *ParticipantLog

	crashBeforeVote bool
	crashAfterVote  bool
	crashGate       chan struct{}
}

// NewParticipant constructs a Participant, reloading its committed
// balance and any durably-prepared-but-uncommitted transactions left
// over from a prior crash.
func NewParticipant(accountName, authKey string, account *AccountStorage, preparedStore *PreparedStorage, log *ParticipantLog, crashBeforeVote, crashAfterVote bool) (*Participant, error) {
	balance, err := account.Load()
	if err != nil {
		return nil, errors.Wrap(err, "twophase: load account balance")
	}
	prepared, err := preparedStore.Load()
	if err != nil {
		return nil, errors.Wrap(err, "twophase: load prepared transactions")
	}
	return &Participant{
		accountName:     accountName,
		authKey:         authKey,
		balance:         balance,
		prepared:        prepared,
		account:         account,
		preparedStore:   preparedStore,
		log:             log,
		crashBeforeVote: crashBeforeVote,
		crashAfterVote:  crashAfterVote,
		crashGate:       make(chan struct{}),
	}, nil
}

// ReleaseCrash unblocks any handler currently waiting on the crash gate.
// Production servers never call this — it exists so tests can observe
// post-crash state without actually hanging the process forever, per
// SPEC_FULL §9's note on replacing "sleep forever" with an explicit gate.
func (p *Participant) ReleaseCrash() {
	select {
	case <-p.crashGate:
	default:
		close(p.crashGate)
	}
}

// Prepare computes the tentative new balance for (tid, txType, params),
// records it durably, and votes YES — or votes NO without recording
// anything. The A/B asymmetry for T1_TRANSFER_100 lives entirely here:
// each participant encodes its own side of the transaction given only
// the type name (SPEC_FULL §4.4).
func (p *Participant) Prepare(tid string, txType TxType, params TxParams) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.log.Append("PREPARE received: tid=%s, type=%s, params=%+v", tid, txType, params)

	if p.crashBeforeVote {
		_ = p.log.Append("simulating crash BEFORE vote (suspended)")
		<-p.crashGate
	}

	tentative, ok := p.computeTentative(txType, params)
	if !ok {
		_ = p.log.Append("VOTE ABORT for tid=%s (type=%s, balance=%d)", tid, txType, p.balance)
		return false, nil
	}

	p.prepared[tid] = tentative
	if err := p.preparedStore.SaveAll(p.prepared); err != nil {
		delete(p.prepared, tid)
		return false, errors.Wrap(err, "twophase: persist prepared entry")
	}

	_ = p.log.Append("VOTE COMMIT, prepared new_balance=%d for tid=%s", tentative, tid)

	if p.crashAfterVote {
		_ = p.log.Append("simulating crash AFTER vote (suspended)")
		<-p.crashGate
	}

	return true, nil
}

// computeTentative implements the per-account, per-type business logic.
// Must be called with p.mu held.
func (p *Participant) computeTentative(txType TxType, params TxParams) (int64, bool) {
	switch txType {
	case TxTransfer100:
		if p.accountName == "A" {
			if p.balance < 100 {
				return 0, false
			}
			return p.balance - 100, true
		}
		return p.balance + 100, true
	case TxBonus20Percent:
		return p.balance + params.Bonus, true
	default:
		return 0, false
	}
}

// Commit finalizes a previously prepared tentative balance. A commit
// for an unknown tid is logged and reported as "ignored" — it indicates
// the coordinator and this participant have drifted out of sync, not a
// crash (SPEC_FULL §4.4).
func (p *Participant) Commit(tid string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.log.Append("COMMIT received for tid=%s", tid)

	tentative, ok := p.prepared[tid]
	if !ok {
		_ = p.log.Append("no prepared state for tid=%s, ignoring", tid)
		return false, nil
	}

	prevBalance := p.balance
	prevPrepared := p.prepared[tid]
	delete(p.prepared, tid)

	if err := p.preparedStore.SaveAll(p.prepared); err != nil {
		p.prepared[tid] = prevPrepared
		return false, errors.Wrap(err, "twophase: persist prepared removal on commit")
	}

	p.balance = tentative
	if err := p.account.Save(p.balance); err != nil {
		p.balance = prevBalance
		p.prepared[tid] = prevPrepared
		_ = p.preparedStore.SaveAll(p.prepared)
		return false, errors.Wrap(err, "twophase: persist committed balance")
	}

	_ = p.log.Append("commit applied, new balance=%d", p.balance)
	return true, nil
}

// Abort discards any prepared state for tid. It always reports ok, even
// if nothing was prepared (SPEC_FULL §4.4).
func (p *Participant) Abort(tid string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.log.Append("ABORT received for tid=%s", tid)

	if _, ok := p.prepared[tid]; !ok {
		_ = p.log.Append("no prepared state to discard for tid=%s", tid)
		return true, nil
	}

	prevPrepared := p.prepared[tid]
	delete(p.prepared, tid)
	if err := p.preparedStore.SaveAll(p.prepared); err != nil {
		p.prepared[tid] = prevPrepared
		return false, errors.Wrap(err, "twophase: persist prepared removal on abort")
	}

	_ = p.log.Append("prepared state discarded for tid=%s", tid)
	return true, nil
}

// GetBalance reads the committed balance.
func (p *Participant) GetBalance() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.log.Append("get_balance -> %d", p.balance)
	return p.balance, nil
}

// SetBalance directly writes the committed balance, for scenario
// initialization (SPEC_FULL §4.3 initialize_balances).
func (p *Participant) SetBalance(v int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.balance
	p.balance = v
	if err := p.account.Save(v); err != nil {
		p.balance = prev
		return errors.Wrap(err, "twophase: persist set_balance")
	}
	_ = p.log.Append("set_balance(%d)", v)
	return nil
}

// --- RPC surface -----------------------------------------------------

type PrepareArgs struct {
	rpcnet.Envelope
	TID    string
	TxType TxType
	Params TxParams
}

type PrepareReply struct {
	Vote bool
}

type CommitArgs struct {
	rpcnet.Envelope
	TID string
}

type CommitReply struct {
	OK bool
}

type AbortArgs struct {
	rpcnet.Envelope
	TID string
}

type AbortReply struct {
	OK bool
}

type GetBalanceArgs struct {
	rpcnet.Envelope
}

type GetBalanceReply struct {
	Balance int64
}

type SetBalanceArgs struct {
	rpcnet.Envelope
	Balance int64
}

type SetBalanceReply struct {
	OK bool
}

// PrepareRPC is the net/rpc-exposed operation backing Prepare.
func (p *Participant) PrepareRPC(args *PrepareArgs, reply *PrepareReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, p.authKey); err != nil {
		return err
	}
	vote, err := p.Prepare(args.TID, args.TxType, args.Params)
	if err != nil {
		return err
	}
	reply.Vote = vote
	return nil
}

// CommitRPC is the net/rpc-exposed operation backing Commit.
func (p *Participant) CommitRPC(args *CommitArgs, reply *CommitReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, p.authKey); err != nil {
		return err
	}
	ok, err := p.Commit(args.TID)
	if err != nil {
		return err
	}
	reply.OK = ok
	return nil
}

// AbortRPC is the net/rpc-exposed operation backing Abort.
func (p *Participant) AbortRPC(args *AbortArgs, reply *AbortReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, p.authKey); err != nil {
		return err
	}
	ok, err := p.Abort(args.TID)
	if err != nil {
		return err
	}
	reply.OK = ok
	return nil
}

// GetBalanceRPC is the net/rpc-exposed operation backing GetBalance.
func (p *Participant) GetBalanceRPC(args *GetBalanceArgs, reply *GetBalanceReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, p.authKey); err != nil {
		return err
	}
	balance, err := p.GetBalance()
	if err != nil {
		return err
	}
	reply.Balance = balance
	return nil
}

// SetBalanceRPC is the net/rpc-exposed operation backing SetBalance.
func (p *Participant) SetBalanceRPC(args *SetBalanceArgs, reply *SetBalanceReply) error {
	if err := rpcnet.CheckAuth(args.AuthKey, p.authKey); err != nil {
		return err
	}
	if err := p.SetBalance(args.Balance); err != nil {
		return err
	}
	reply.OK = true
	return nil
}

var _ = logrus.Fields{} // logrus kept available for callers constructing *ParticipantLog-adjacent fields
