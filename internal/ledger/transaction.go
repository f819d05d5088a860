package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Kind is the closed set of transaction types the ledger accepts.
type Kind string

const (
	KindStockIn             Kind = "stock_in"
	KindDispensed           Kind = "dispensed"
	KindExpired             Kind = "expired"
	KindDamaged             Kind = "damaged"
	KindReturned            Kind = "returned"
	KindAdjustment          Kind = "adjustment"
	KindPrescriptionCreated Kind = "prescription_created"

	// KindGenesis marks the sentinel at index 0. It is never accepted by Append.
	KindGenesis Kind = "genesis"
)

// idPrefixes maps each appendable kind to its transaction-ID prefix.
var idPrefixes = map[Kind]string{
	KindStockIn:             "STOCK",
	KindDispensed:           "DISP",
	KindExpired:             "EXP",
	KindDamaged:             "DMG",
	KindReturned:            "RET",
	KindAdjustment:          "ADJ",
	KindPrescriptionCreated: "PRESC",
}

// Valid reports whether k is one of the appendable transaction kinds.
// The genesis kind is not appendable.
func (k Kind) Valid() bool {
	_, ok := idPrefixes[k]
	return ok
}

// Extra carries the optional contextual fields of a transaction.
type Extra struct {
	PrescriptionID string
	BatchNumber    string
	Notes          string
}

// Transaction is a single record in the hash chain. Fields are set at append
// time and must never be mutated afterward; Index is the authoritative unique
// identifier, TransactionID is a human-readable label whose uniqueness is
// best-effort (millisecond timestamp + random suffix).
type Transaction struct {
	Index            int    `json:"index"`
	TransactionID    string `json:"transactionId"`
	Timestamp        int64  `json:"timestamp"` // unix milliseconds
	EntityID         string `json:"entityId"`
	EntityName       string `json:"entityName"`
	Type             Kind   `json:"transactionType"`
	Quantity         int    `json:"quantity"`
	PreviousQuantity int    `json:"previousQuantity"`
	NewQuantity      int    `json:"newQuantity"`
	PerformedBy      string `json:"performedBy"`
	PerformedByRole  string `json:"performedByRole"`
	PrescriptionID   string `json:"prescriptionId,omitempty"`
	BatchNumber      string `json:"batchNumber,omitempty"`
	Notes            string `json:"notes,omitempty"`
	PreviousHash     string `json:"previousHash"`
	Hash             string `json:"hash"`
}

// ComputeHash returns the hex-encoded SHA-256 digest of the transaction's
// canonical serialization: every field except Hash itself, pipe-delimited,
// in a fixed order. The canonical form is frozen — changing it invalidates
// every previously computed hash.
func (t *Transaction) ComputeHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d|%s|%s|%s|%d|%d|%d|%s|%s|%s|%s|%s|%s",
		t.Index, t.TransactionID, t.Timestamp,
		t.EntityID, t.EntityName, t.Type,
		t.Quantity, t.PreviousQuantity, t.NewQuantity,
		t.PerformedBy, t.PerformedByRole,
		t.PrescriptionID, t.BatchNumber, t.Notes,
		t.PreviousHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newTransactionID builds an ID like "STOCK_1714000000000_x7k2pq".
func newTransactionID(kind Kind, ts int64) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// the timestamp alone rather than aborting the append.
		return fmt.Sprintf("%s_%d", idPrefixes[kind], ts)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return fmt.Sprintf("%s_%d_%s", idPrefixes[kind], ts, buf)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
