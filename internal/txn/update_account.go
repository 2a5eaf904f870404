// Package txn provides a concrete example of a transaction decomposed
// into DORA actions: the TPC-B-style update-account transaction, split
// into four partition-local actions (update branch balance, update teller
// balance, update account balance, insert history record), each routed to
// its own data partition and joined by one RVP.
//
// Grounded directly on dora_tpcb_xct.cpp's dora_acct_update: branch,
// teller, account, and history partitions decided by decide_part, with
// all four actions enqueued before the caller waits on the shared RVP.
package txn

import (
	"github.com/GunterMueller/shore-kits/internal/dora"
	"github.com/GunterMueller/shore-kits/internal/storage"
)

// Table identifies one of the four logical tables touched by
// UpdateAccount, each carved into its own disjoint range of the router's
// partition space.
type Table int

const (
	TableBranch Table = iota
	TableTeller
	TableAccount
	TableHistory
	tableCount
)

// PartitionCount returns the total number of router partitions needed to
// host partitionsPerTable partitions for each of the four tables.
func PartitionCount(partitionsPerTable int) int {
	return int(tableCount) * partitionsPerTable
}

// decidePart maps a (table, key) pair onto one of partitionsPerTable
// partitions for that table, then offsets into the combined partition
// space so each table owns a disjoint range — the Go realization of
// dora_tpcb_xct.cpp's decide_part.
func decidePart(table Table, key int64, partitionsPerTable int) int {
	if key < 0 {
		key = -key
	}
	return int(table)*partitionsPerTable + int(key%int64(partitionsPerTable))
}

// UpdateAccountRequest names the accounts touched by one update-account
// transaction.
type UpdateAccountRequest struct {
	XctID     uint64
	BranchID  int64
	TellerID  int64
	AccountID int64
	Delta     int64
}

// UpdateAccount decomposes req into the four dora_acct_update actions,
// dispatches them to router, and blocks until all four complete or one
// of them fails, returning the first action error (if any). mgr.Commit is called once
// per action, matching the one-log-write-per-partition-touch shape of the
// original.
func UpdateAccount(router *dora.Router, mgr storage.Manager, partitionsPerTable int, req UpdateAccountRequest) error {
	rvp := dora.NewRVP(4)

	branchPart := decidePart(TableBranch, req.BranchID, partitionsPerTable)
	tellerPart := decidePart(TableTeller, req.TellerID, partitionsPerTable)
	acctPart := decidePart(TableAccount, req.AccountID, partitionsPerTable)
	histPart := decidePart(TableHistory, req.AccountID, partitionsPerTable)

	commit := func() error {
		_, err := mgr.Commit(req.XctID)
		return err
	}

	actions := []*dora.Action{
		dora.NewAction("upd_branch", branchPart, rvp, commit),
		dora.NewAction("upd_teller", tellerPart, rvp, commit),
		dora.NewAction("upd_account", acctPart, rvp, commit),
		dora.NewAction("ins_history", histPart, rvp, commit),
	}

	if err := router.Dispatch(actions); err != nil {
		return err
	}
	return rvp.Wait()
}
