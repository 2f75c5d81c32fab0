// Package twophase implements the Two-Phase Commit atomic-commit core: a
// coordinator driving two resource-manager participants, each owning one
// integer account balance, through prepare/commit/abort.
package twophase

// TxType names the one of two scenario transactions this toolkit runs.
// An empty or unrecognized TxType is always a NO vote (SPEC_FULL §4.4).
type TxType string

const (
	TxTransfer100    TxType = "T1_TRANSFER_100"
	TxBonus20Percent TxType = "T2_BONUS"
)

// TxParams carries the one parameter T2_BONUS needs. T1_TRANSFER_100
// ignores it entirely.
type TxParams struct {
	Bonus int64
}

// Decision is the coordinator's outcome for one transaction.
type Decision string

const (
	Commit Decision = "COMMIT"
	Abort  Decision = "ABORT"
)

// Balances is the read-only view returned by GetBalances.
type Balances struct {
	A int64
	B int64
}
