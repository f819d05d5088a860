package ledger

import "fmt"

// ViolationKind distinguishes the two ways a chain can fail verification.
type ViolationKind string

const (
	// ViolationHashMismatch: the transaction's stored hash does not match a
	// recomputation over its own fields — the record itself was altered.
	ViolationHashMismatch ViolationKind = "hash_mismatch"

	// ViolationBrokenLink: the transaction's previousHash does not match the
	// stored hash of its predecessor — the linkage was altered.
	ViolationBrokenLink ViolationKind = "broken_link"
)

// Violation names one integrity failure found during verification.
type Violation struct {
	Index         int           `json:"index"`
	TransactionID string        `json:"transactionId"`
	Kind          ViolationKind `json:"kind"`
	Detail        string        `json:"detail"`
}

// VerifyResult reports chain integrity. Violations is omitted when the chain
// is valid.
type VerifyResult struct {
	Valid      bool        `json:"isValid"`
	Violations []Violation `json:"violations,omitempty"`
}

// VerifyChain walks the full chain from index 1 and checks, for every
// transaction, that its stored hash matches a recomputation of its fields and
// that its previousHash matches the predecessor's stored hash. It is a pure
// read-only scan, linear in chain length; it never mutates the chain, and an
// invalid result is data, not an error — the ledger keeps accepting appends.
func (l *Ledger) VerifyChain() VerifyResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verify(l.chain)
}

func verify(chain []*Transaction) VerifyResult {
	var violations []Violation
	for i := 1; i < len(chain); i++ {
		curr, prev := chain[i], chain[i-1]

		if recomputed := curr.ComputeHash(); curr.Hash != recomputed {
			violations = append(violations, Violation{
				Index:         i,
				TransactionID: curr.TransactionID,
				Kind:          ViolationHashMismatch,
				Detail:        fmt.Sprintf("stored hash %s does not match recomputed content hash", curr.Hash),
			})
		}
		if curr.PreviousHash != prev.Hash {
			violations = append(violations, Violation{
				Index:         i,
				TransactionID: curr.TransactionID,
				Kind:          ViolationBrokenLink,
				Detail:        fmt.Sprintf("previousHash %s does not match hash of transaction %d", curr.PreviousHash, i-1),
			})
		}
	}
	return VerifyResult{Valid: len(violations) == 0, Violations: violations}
}

// Statistics is the aggregate view over the chain, recomputed on each call.
type Statistics struct {
	TotalTransactions int          `json:"totalTransactions"`
	ByKind            map[Kind]int `json:"transactionsByType"`
	UniqueEntities    int          `json:"uniqueEntities"`
	ChainIntegrity    VerifyResult `json:"chainIntegrity"`
}

// Statistics returns transaction totals (excluding genesis), a per-kind
// breakdown, the number of distinct entities seen, and the current
// verification result. No incremental counters are kept; the chain is the
// single source of truth.
func (l *Ledger) Statistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Statistics{
		ByKind:         make(map[Kind]int),
		ChainIntegrity: verify(l.chain),
	}
	entities := make(map[string]struct{})
	for _, tx := range l.chain[1:] {
		stats.TotalTransactions++
		stats.ByKind[tx.Type]++
		entities[tx.EntityID] = struct{}{}
	}
	stats.UniqueEntities = len(entities)
	return stats
}
