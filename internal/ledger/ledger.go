// Package ledger implements a tamper-evident, append-only hash chain of
// pharmacy inventory and prescription lifecycle events. Each transaction
// commits to its predecessor's hash, so any retroactive edit to history is
// detectable by VerifyChain. The chain lives purely in memory; durability is
// the caller's concern (see internal/archive for the Postgres mirror).
package ledger

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidKind is returned by Append when the transaction kind is outside
// the closed enumeration. This is a contract violation by the caller.
var ErrInvalidKind = errors.New("ledger: invalid transaction kind")

// Ledger owns the ordered, append-only sequence of transactions. Construct
// exactly one instance per process with New and share it by reference; all
// access is serialized through its internal lock.
type Ledger struct {
	mu    sync.RWMutex
	chain []*Transaction
}

// New creates a Ledger seeded with the genesis transaction. The genesis is a
// sentinel (EntityID "0", PreviousHash "0") whose hash is computed the same
// way as any other transaction; it exists to give the first real transaction
// a non-null predecessor and is excluded from all business-facing queries.
func New() *Ledger {
	l := &Ledger{}
	genesis := &Transaction{
		Index:         0,
		TransactionID: "GENESIS",
		Timestamp:     nowMillis(),
		EntityID:      "0",
		EntityName:    "genesis",
		Type:          KindGenesis,
		PreviousHash:  "0",
	}
	genesis.Hash = genesis.ComputeHash()
	l.chain = append(l.chain, genesis)
	return l
}

// Append records a new transaction chained to the current tail and returns
// the fully populated record, including its final hash, so the caller can
// stamp it onto its own durable rows. The read-tail-then-push sequence runs
// under the write lock: two concurrent appends can never claim the same
// predecessor.
//
// The only validation performed here is the kind check. Business rules
// (sufficient stock, entity existence) are the caller's responsibility and
// must be enforced before calling Append.
func (l *Ledger) Append(kind Kind, entityID, entityName string, quantity, previousQuantity, newQuantity int, performedBy, performedByRole string, extra Extra) (*Transaction, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tail := l.chain[len(l.chain)-1]
	ts := nowMillis()
	tx := &Transaction{
		Index:            len(l.chain),
		TransactionID:    newTransactionID(kind, ts),
		Timestamp:        ts,
		EntityID:         entityID,
		EntityName:       entityName,
		Type:             kind,
		Quantity:         quantity,
		PreviousQuantity: previousQuantity,
		NewQuantity:      newQuantity,
		PerformedBy:      performedBy,
		PerformedByRole:  performedByRole,
		PrescriptionID:   extra.PrescriptionID,
		BatchNumber:      extra.BatchNumber,
		Notes:            extra.Notes,
		PreviousHash:     tail.Hash,
	}
	tx.Hash = tx.ComputeHash()
	l.chain = append(l.chain, tx)
	return tx, nil
}

// RecordStockIn appends a stock_in transaction: newQuantity = previous + qty.
func (l *Ledger) RecordStockIn(entityID, entityName string, qty, previousQty int, performedBy, role, batchNumber string) (*Transaction, error) {
	return l.Append(KindStockIn, entityID, entityName, qty, previousQty, previousQty+qty,
		performedBy, role, Extra{BatchNumber: batchNumber})
}

// RecordDispensing appends a dispensed transaction: newQuantity = previous - qty.
// prescriptionID links the dispense to the prescription it fulfils.
func (l *Ledger) RecordDispensing(entityID, entityName string, qty, previousQty int, performedBy, role, prescriptionID string) (*Transaction, error) {
	return l.Append(KindDispensed, entityID, entityName, qty, previousQty, previousQty-qty,
		performedBy, role, Extra{PrescriptionID: prescriptionID})
}

// RecordExpiry appends an expired transaction: newQuantity = previous - qty.
func (l *Ledger) RecordExpiry(entityID, entityName string, qty, previousQty int, performedBy, role, batchNumber string) (*Transaction, error) {
	return l.Append(KindExpired, entityID, entityName, qty, previousQty, previousQty-qty,
		performedBy, role, Extra{BatchNumber: batchNumber})
}

// RecordDamage appends a damaged transaction: newQuantity = previous - qty.
func (l *Ledger) RecordDamage(entityID, entityName string, qty, previousQty int, performedBy, role, notes string) (*Transaction, error) {
	return l.Append(KindDamaged, entityID, entityName, qty, previousQty, previousQty-qty,
		performedBy, role, Extra{Notes: notes})
}

// RecordReturn appends a returned transaction: newQuantity = previous + qty.
// Returns restock the item.
func (l *Ledger) RecordReturn(entityID, entityName string, qty, previousQty int, performedBy, role, notes string) (*Transaction, error) {
	return l.Append(KindReturned, entityID, entityName, qty, previousQty, previousQty+qty,
		performedBy, role, Extra{Notes: notes})
}

// RecordAdjustment appends an adjustment transaction. newQuantity is the
// explicitly supplied corrected value; no arithmetic is applied. Adjustments
// are how disputed entries are compensated — history is never edited.
func (l *Ledger) RecordAdjustment(entityID, entityName string, qty, previousQty, newQty int, performedBy, role, notes string) (*Transaction, error) {
	return l.Append(KindAdjustment, entityID, entityName, qty, previousQty, newQty,
		performedBy, role, Extra{Notes: notes})
}

// RecordPrescriptionCreated appends a prescription_created transaction.
// Quantity semantics are not tied to stock levels: quantity, previousQuantity
// and newQuantity all carry the prescribed amount. notes is a caller-assembled
// composite string (patient, dosage, diagnosis).
func (l *Ledger) RecordPrescriptionCreated(prescriptionID, entityName string, qty int, performedBy, role, notes string) (*Transaction, error) {
	return l.Append(KindPrescriptionCreated, prescriptionID, entityName, qty, qty, qty,
		performedBy, role, Extra{PrescriptionID: prescriptionID, Notes: notes})
}

// Len returns the chain length including the genesis transaction.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Root returns the hash of the chain tip.
func (l *Ledger) Root() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain[len(l.chain)-1].Hash
}

// Get returns the transaction at the given zero-based index.
func (l *Ledger) Get(index int) (*Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.chain) {
		return nil, fmt.Errorf("ledger: index %d out of range", index)
	}
	return l.chain[index], nil
}

// History returns all non-genesis transactions for the given entity, oldest
// first.
func (l *Ledger) History(entityID string) []*Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Transaction
	for _, tx := range l.chain[1:] {
		if tx.EntityID == entityID {
			out = append(out, tx)
		}
	}
	return out
}

// Recent returns the last limit non-genesis transactions, most recent first.
// A limit larger than the chain returns everything.
func (l *Ledger) Recent(limit int) []*Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.chain) - 1 // exclude genesis
	if limit > n {
		limit = n
	}
	if limit <= 0 {
		return nil
	}
	out := make([]*Transaction, 0, limit)
	for i := len(l.chain) - 1; i > 0 && len(out) < limit; i-- {
		out = append(out, l.chain[i])
	}
	return out
}

// ExportAll returns the full chain including the genesis transaction, in
// append order. Intended for snapshotting and debugging, not for business
// queries. The returned records are shared with the ledger and must be
// treated as read-only.
func (l *Ledger) ExportAll() []*Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Transaction, len(l.chain))
	copy(out, l.chain)
	return out
}

// Restore replaces the chain with a previously exported sequence, validating
// the genesis sentinel shape and full hash linkage first. On any validation
// failure the current chain is left untouched. Used to replay the archive
// mirror at startup.
func (l *Ledger) Restore(chain []*Transaction) error {
	if len(chain) == 0 {
		return errors.New("ledger: restore requires at least the genesis transaction")
	}
	g := chain[0]
	if g.Index != 0 || g.EntityID != "0" || g.PreviousHash != "0" {
		return errors.New("ledger: restore chain does not start with a genesis transaction")
	}
	if g.Hash != g.ComputeHash() {
		return errors.New("ledger: restore genesis hash does not match its content")
	}
	if res := verify(chain); !res.Valid {
		v := res.Violations[0]
		return fmt.Errorf("ledger: restore chain invalid at index %d: %s", v.Index, v.Kind)
	}
	for i, tx := range chain {
		if tx.Index != i {
			return fmt.Errorf("ledger: restore chain has non-contiguous index %d at position %d", tx.Index, i)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.chain = make([]*Transaction, len(chain))
	copy(l.chain, chain)
	return nil
}
