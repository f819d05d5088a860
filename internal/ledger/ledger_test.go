package ledger_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pharmatrust/pharmaledger/internal/ledger"
)

func TestNew_genesisOnly(t *testing.T) {
	l := ledger.New()

	if got := l.Len(); got != 1 {
		t.Fatalf("expected 1 genesis transaction, got %d", got)
	}

	g, err := l.Get(0)
	if err != nil {
		t.Fatal(err)
	}
	if g.EntityID != "0" {
		t.Errorf("genesis entityId: got %q, want \"0\"", g.EntityID)
	}
	if g.PreviousHash != "0" {
		t.Errorf("genesis previousHash: got %q, want \"0\"", g.PreviousHash)
	}
	if g.Hash != g.ComputeHash() {
		t.Errorf("genesis hash is not a content hash of its own fields")
	}
	if len(g.Hash) != 64 {
		t.Errorf("genesis hash length: got %d, want 64 hex chars", len(g.Hash))
	}

	if res := l.VerifyChain(); !res.Valid {
		t.Errorf("fresh ledger should verify valid, got %+v", res)
	}
	if h := l.History("0"); len(h) != 0 {
		t.Errorf("history must exclude genesis, got %d entries", len(h))
	}
	if r := l.Recent(10); len(r) != 0 {
		t.Errorf("recent must exclude genesis, got %d entries", len(r))
	}
	if s := l.Statistics(); s.TotalTransactions != 0 {
		t.Errorf("statistics must exclude genesis, got total %d", s.TotalTransactions)
	}
}

func TestComputeHash_deterministic(t *testing.T) {
	tx := ledger.Transaction{
		Index:            3,
		TransactionID:    "STOCK_1714000000000_abc123",
		Timestamp:        1714000000000,
		EntityID:         "drug-1",
		EntityName:       "Amoxicillin 500mg",
		Type:             ledger.KindStockIn,
		Quantity:         30,
		PreviousQuantity: 100,
		NewQuantity:      130,
		PerformedBy:      "jdoe",
		PerformedByRole:  "pharmacist",
		BatchNumber:      "B-2024-07",
		PreviousHash:     strings.Repeat("ab", 32),
	}
	other := tx // identical copy

	h1, h2 := tx.ComputeHash(), other.ComputeHash()
	if h1 != h2 {
		t.Fatalf("hash is not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length: got %d, want 64", len(h1))
	}

	other.Quantity = 31
	if other.ComputeHash() == h1 {
		t.Error("changing a field must change the hash")
	}
}

func TestAppend_linkage(t *testing.T) {
	l := ledger.New()

	var prevHash string
	g, _ := l.Get(0)
	prevHash = g.Hash

	for i := 0; i < 5; i++ {
		tx, err := l.RecordStockIn("drug-1", "Ibuprofen 200mg", 10, i*10, "jdoe", "pharmacist", "B-1")
		if err != nil {
			t.Fatal(err)
		}
		if tx.PreviousHash != prevHash {
			t.Fatalf("transaction %d: previousHash %q, want %q", i+1, tx.PreviousHash, prevHash)
		}
		if tx.Index != i+1 {
			t.Errorf("transaction %d: index %d", i+1, tx.Index)
		}
		prevHash = tx.Hash
	}

	if res := l.VerifyChain(); !res.Valid {
		t.Errorf("chain should be valid: %+v", res.Violations)
	}
}

func TestAppend_invalidKind(t *testing.T) {
	l := ledger.New()

	_, err := l.Append(ledger.Kind("bogus"), "drug-1", "X", 1, 0, 1, "jdoe", "pharmacist", ledger.Extra{})
	if !errors.Is(err, ledger.ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}

	// Genesis is not an appendable kind either.
	_, err = l.Append(ledger.KindGenesis, "drug-1", "X", 1, 0, 1, "jdoe", "pharmacist", ledger.Extra{})
	if !errors.Is(err, ledger.ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind for genesis kind, got %v", err)
	}

	if l.Len() != 1 {
		t.Errorf("rejected appends must not grow the chain, len=%d", l.Len())
	}
}

func TestTransactionID_prefixes(t *testing.T) {
	l := ledger.New()

	cases := []struct {
		prefix string
		append func() (*ledger.Transaction, error)
	}{
		{"STOCK_", func() (*ledger.Transaction, error) {
			return l.RecordStockIn("d", "D", 1, 0, "u", "r", "")
		}},
		{"DISP_", func() (*ledger.Transaction, error) {
			return l.RecordDispensing("d", "D", 1, 1, "u", "r", "")
		}},
		{"EXP_", func() (*ledger.Transaction, error) {
			return l.RecordExpiry("d", "D", 1, 1, "u", "r", "")
		}},
		{"DMG_", func() (*ledger.Transaction, error) {
			return l.RecordDamage("d", "D", 1, 1, "u", "r", "")
		}},
		{"RET_", func() (*ledger.Transaction, error) {
			return l.RecordReturn("d", "D", 1, 0, "u", "r", "")
		}},
		{"ADJ_", func() (*ledger.Transaction, error) {
			return l.RecordAdjustment("d", "D", 0, 1, 5, "u", "r", "recount")
		}},
		{"PRESC_", func() (*ledger.Transaction, error) {
			return l.RecordPrescriptionCreated("rx-1", "Rx", 2, "u", "r", "")
		}},
	}
	for _, c := range cases {
		tx, err := c.append()
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(tx.TransactionID, c.prefix) {
			t.Errorf("transactionId %q: want prefix %q", tx.TransactionID, c.prefix)
		}
	}
}

func TestRecordKinds_arithmetic(t *testing.T) {
	l := ledger.New()

	if tx, _ := l.RecordStockIn("d", "D", 30, 100, "u", "r", "B-1"); tx.NewQuantity != 130 {
		t.Errorf("stock_in: newQuantity %d, want 130", tx.NewQuantity)
	}
	if tx, _ := l.RecordDispensing("d", "D", 30, 130, "u", "r", "rx-1"); tx.NewQuantity != 100 {
		t.Errorf("dispensed: newQuantity %d, want 100", tx.NewQuantity)
	}
	if tx, _ := l.RecordExpiry("d", "D", 10, 100, "u", "r", "B-1"); tx.NewQuantity != 90 {
		t.Errorf("expired: newQuantity %d, want 90", tx.NewQuantity)
	}
	if tx, _ := l.RecordDamage("d", "D", 5, 90, "u", "r", "dropped pallet"); tx.NewQuantity != 85 {
		t.Errorf("damaged: newQuantity %d, want 85", tx.NewQuantity)
	}
	if tx, _ := l.RecordReturn("d", "D", 3, 85, "u", "r", "unopened"); tx.NewQuantity != 88 {
		t.Errorf("returned: newQuantity %d, want 88", tx.NewQuantity)
	}
	if tx, _ := l.RecordAdjustment("d", "D", 7, 88, 42, "u", "r", "recount"); tx.NewQuantity != 42 {
		t.Errorf("adjustment: newQuantity %d, want explicit 42", tx.NewQuantity)
	}
	if tx, _ := l.RecordPrescriptionCreated("rx-1", "Rx rx-1", 20, "u", "r", "Patient: A; Dosage: 1x3"); tx.Quantity != 20 || tx.PreviousQuantity != 20 || tx.NewQuantity != 20 {
		t.Errorf("prescription_created: quantities %d/%d/%d, want 20/20/20",
			tx.Quantity, tx.PreviousQuantity, tx.NewQuantity)
	}
}

func TestVerifyChain_detectsFieldTamper(t *testing.T) {
	l := ledger.New()
	for i := 0; i < 4; i++ {
		if _, err := l.RecordStockIn("d", "D", 10, i*10, "u", "r", ""); err != nil {
			t.Fatal(err)
		}
	}

	// Records are shared with the ledger; mutating one simulates in-memory
	// corruption, the only tamper path the ledger has.
	victim, _ := l.Get(2)
	victim.Quantity = 999

	res := l.VerifyChain()
	if res.Valid {
		t.Fatal("tampered chain reported valid")
	}
	found := false
	for _, v := range res.Violations {
		if v.Index == 2 && v.Kind == ledger.ViolationHashMismatch {
			found = true
			if v.TransactionID != victim.TransactionID {
				t.Errorf("violation names %q, want %q", v.TransactionID, victim.TransactionID)
			}
		}
	}
	if !found {
		t.Errorf("expected hash_mismatch at index 2, got %+v", res.Violations)
	}
}

func TestVerifyChain_detectsBrokenLink(t *testing.T) {
	l := ledger.New()
	for i := 0; i < 4; i++ {
		if _, err := l.RecordStockIn("d", "D", 10, i*10, "u", "r", ""); err != nil {
			t.Fatal(err)
		}
	}

	// Rewrite previousHash at index 3 and recompute its own hash so the
	// record is self-consistent; only the link check can catch this.
	victim, _ := l.Get(3)
	victim.PreviousHash = strings.Repeat("00", 32)
	victim.Hash = victim.ComputeHash()

	res := l.VerifyChain()
	if res.Valid {
		t.Fatal("chain with broken link reported valid")
	}
	found := false
	for _, v := range res.Violations {
		if v.Index == 3 && v.Kind == ledger.ViolationBrokenLink {
			found = true
		}
		if v.Index == 3 && v.Kind == ledger.ViolationHashMismatch {
			t.Error("self-consistent record must not be flagged as hash_mismatch")
		}
	}
	if !found {
		t.Errorf("expected broken_link at index 3, got %+v", res.Violations)
	}
}

func TestRecent_ordering(t *testing.T) {
	l := ledger.New()

	var all []*ledger.Transaction
	for i := 0; i < 10; i++ {
		entity := "a"
		if i%2 == 1 {
			entity = "b"
		}
		tx, err := l.RecordStockIn(entity, "Drug "+entity, 1, i, "u", "r", "")
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, tx)
	}

	recent := l.Recent(5)
	if len(recent) != 5 {
		t.Fatalf("recent(5): got %d", len(recent))
	}
	for i := 0; i < 5; i++ {
		want := all[9-i]
		if recent[i].TransactionID != want.TransactionID {
			t.Errorf("recent[%d] = %s, want %s", i, recent[i].TransactionID, want.TransactionID)
		}
	}

	over := l.Recent(100)
	if len(over) != 10 {
		t.Fatalf("recent(100) on 10 transactions: got %d", len(over))
	}
	if over[0].TransactionID != all[9].TransactionID || over[9].TransactionID != all[0].TransactionID {
		t.Error("recent(100) not in most-recent-first order")
	}
}

func TestHistory_filtersByEntity(t *testing.T) {
	l := ledger.New()

	var wantA []*ledger.Transaction
	for i := 0; i < 6; i++ {
		entity, name := "a", "Drug A"
		if i%2 == 1 {
			entity, name = "b", "Drug B"
		}
		tx, err := l.RecordStockIn(entity, name, 1, i, "u", "r", "")
		if err != nil {
			t.Fatal(err)
		}
		if entity == "a" {
			wantA = append(wantA, tx)
		}
	}

	got := l.History("a")
	if len(got) != len(wantA) {
		t.Fatalf("history(a): got %d, want %d", len(got), len(wantA))
	}
	for i := range got {
		if got[i].TransactionID != wantA[i].TransactionID {
			t.Errorf("history(a)[%d] = %s, want %s (append order)", i, got[i].TransactionID, wantA[i].TransactionID)
		}
	}
	if h := l.History("nope"); len(h) != 0 {
		t.Errorf("history of unknown entity: got %d", len(h))
	}
}

func TestStatistics_consistency(t *testing.T) {
	l := ledger.New()
	l.RecordStockIn("a", "A", 10, 0, "u", "r", "")
	l.RecordStockIn("b", "B", 20, 0, "u", "r", "")
	l.RecordDispensing("a", "A", 5, 10, "u", "r", "rx-1")
	l.RecordExpiry("b", "B", 2, 20, "u", "r", "")
	l.RecordAdjustment("a", "A", 0, 5, 7, "u", "r", "recount")

	stats := l.Statistics()
	if stats.TotalTransactions != 5 {
		t.Errorf("total: got %d, want 5", stats.TotalTransactions)
	}

	sum := 0
	for _, n := range stats.ByKind {
		sum += n
	}
	if sum != stats.TotalTransactions {
		t.Errorf("per-kind sum %d != total %d", sum, stats.TotalTransactions)
	}
	if stats.ByKind[ledger.KindStockIn] != 2 {
		t.Errorf("stock_in count: got %d, want 2", stats.ByKind[ledger.KindStockIn])
	}
	if stats.UniqueEntities != 2 {
		t.Errorf("unique entities: got %d, want 2", stats.UniqueEntities)
	}
	if !stats.ChainIntegrity.Valid {
		t.Errorf("embedded integrity result should be valid: %+v", stats.ChainIntegrity)
	}

	if histSum := len(l.History("a")) + len(l.History("b")); histSum != stats.TotalTransactions {
		t.Errorf("history across entities %d != total %d", histSum, stats.TotalTransactions)
	}
	if export := l.ExportAll(); len(export)-1 != stats.TotalTransactions {
		t.Errorf("exportAll length-1 %d != total %d", len(export)-1, stats.TotalTransactions)
	}
}

func TestExportAll_includesGenesisInOrder(t *testing.T) {
	l := ledger.New()
	l.RecordStockIn("a", "A", 1, 0, "u", "r", "")
	l.RecordDispensing("a", "A", 1, 1, "u", "r", "")

	export := l.ExportAll()
	if len(export) != 3 {
		t.Fatalf("export length: got %d, want 3", len(export))
	}
	if export[0].Type != ledger.KindGenesis {
		t.Errorf("export[0] should be genesis, got %s", export[0].Type)
	}
	for i, tx := range export {
		if tx.Index != i {
			t.Errorf("export[%d].Index = %d", i, tx.Index)
		}
	}
}

func TestRestore_roundTrip(t *testing.T) {
	src := ledger.New()
	src.RecordStockIn("a", "A", 10, 0, "u", "r", "B-1")
	src.RecordDispensing("a", "A", 4, 10, "u", "r", "rx-1")
	export := src.ExportAll()

	dst := ledger.New()
	if err := dst.Restore(export); err != nil {
		t.Fatalf("restore valid chain: %v", err)
	}
	if dst.Len() != src.Len() {
		t.Errorf("restored length %d, want %d", dst.Len(), src.Len())
	}
	if dst.Root() != src.Root() {
		t.Errorf("restored root %s, want %s", dst.Root(), src.Root())
	}
	if res := dst.VerifyChain(); !res.Valid {
		t.Errorf("restored chain invalid: %+v", res.Violations)
	}
}

func TestRestore_rejectsInvalidChain(t *testing.T) {
	src := ledger.New()
	src.RecordStockIn("a", "A", 10, 0, "u", "r", "")
	export := src.ExportAll()

	// Corrupt a copy of the middle record.
	bad := *export[1]
	bad.Quantity = 999
	tampered := []*ledger.Transaction{export[0], &bad}

	dst := ledger.New()
	dst.RecordStockIn("keep", "Keep", 1, 0, "u", "r", "")
	if err := dst.Restore(tampered); err == nil {
		t.Fatal("restore of tampered chain should fail")
	}
	if dst.Len() != 2 {
		t.Errorf("failed restore must leave chain untouched, len=%d", dst.Len())
	}

	if err := dst.Restore(nil); err == nil {
		t.Error("restore of empty chain should fail")
	}
}

func TestAppend_concurrent(t *testing.T) {
	l := ledger.New()

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				entity := string(rune('a' + w%4))
				if _, err := l.RecordStockIn(entity, "Drug "+entity, 1, i, "u", "r", ""); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	if got, want := l.Len(), workers*perWorker+1; got != want {
		t.Errorf("chain length %d, want %d (appends + genesis)", got, want)
	}
	if res := l.VerifyChain(); !res.Valid {
		t.Errorf("concurrent appends broke the chain: %+v", res.Violations)
	}
}
