package pharmacy_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pharmatrust/pharmaledger/internal/ledger"
	"github.com/pharmatrust/pharmaledger/internal/pharmacy"
)

var ctx = context.Background()

// fakeRepo is an in-memory drugStore for service tests.
type fakeRepo struct {
	drugs         map[uuid.UUID]*pharmacy.Drug
	prescriptions map[uuid.UUID]*pharmacy.Prescription
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		drugs:         make(map[uuid.UUID]*pharmacy.Drug),
		prescriptions: make(map[uuid.UUID]*pharmacy.Prescription),
	}
}

func (f *fakeRepo) CreateDrug(_ context.Context, d *pharmacy.Drug) error {
	d.ID = uuid.New()
	f.drugs[d.ID] = d
	return nil
}

func (f *fakeRepo) GetDrug(_ context.Context, id uuid.UUID) (*pharmacy.Drug, error) {
	d, ok := f.drugs[id]
	if !ok {
		return nil, pharmacy.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepo) ListDrugs(_ context.Context, _, _ int) ([]*pharmacy.Drug, error) {
	var out []*pharmacy.Drug
	for _, d := range f.drugs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeRepo) UpdateStock(_ context.Context, id uuid.UUID, stock int, ledgerHash string) error {
	d, ok := f.drugs[id]
	if !ok {
		return pharmacy.ErrNotFound
	}
	d.Stock = stock
	d.LedgerHash = ledgerHash
	return nil
}

func (f *fakeRepo) CreatePrescription(_ context.Context, p *pharmacy.Prescription) error {
	p.ID = uuid.New()
	f.prescriptions[p.ID] = p
	return nil
}

func (f *fakeRepo) GetPrescription(_ context.Context, id uuid.UUID) (*pharmacy.Prescription, error) {
	p, ok := f.prescriptions[id]
	if !ok {
		return nil, pharmacy.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) UpdatePrescriptionStatus(_ context.Context, id uuid.UUID, status pharmacy.PrescriptionStatus, ledgerHash string) error {
	p, ok := f.prescriptions[id]
	if !ok {
		return pharmacy.ErrNotFound
	}
	p.Status = status
	p.LedgerHash = ledgerHash
	return nil
}

// failingArchive always errors; mirroring must never fail the operation.
type failingArchive struct{ calls int }

func (a *failingArchive) Record(context.Context, *ledger.Transaction) error {
	a.calls++
	return errors.New("connection refused")
}

var actor = pharmacy.Actor{Name: "jdoe", Role: "pharmacist"}

func setup(t *testing.T) (*pharmacy.Service, *fakeRepo, *ledger.Ledger) {
	t.Helper()
	repo := newFakeRepo()
	chain := ledger.New()
	svc := pharmacy.NewService(repo, chain, nil, zap.NewNop())
	return svc, repo, chain
}

func TestCreateDrug_recordsInitialStock(t *testing.T) {
	svc, _, chain := setup(t)

	d, err := svc.CreateDrug(ctx, "Amoxicillin 500mg", "capsule", "B-77", nil, 120, actor)
	if err != nil {
		t.Fatal(err)
	}
	if d.Stock != 120 {
		t.Errorf("stock: got %d, want 120", d.Stock)
	}
	if d.LedgerHash == "" {
		t.Error("drug row not stamped with ledger hash")
	}

	hist := chain.History(d.ID.String())
	if len(hist) != 1 || hist[0].Type != ledger.KindStockIn {
		t.Fatalf("expected one stock_in transaction, got %+v", hist)
	}
	if hist[0].Hash != d.LedgerHash {
		t.Error("stamped hash does not match ledger transaction hash")
	}
}

func TestCreateDrug_zeroStockSkipsLedger(t *testing.T) {
	svc, _, chain := setup(t)

	d, err := svc.CreateDrug(ctx, "Insulin", "vial", "", nil, 0, actor)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain.History(d.ID.String())) != 0 {
		t.Error("zero initial stock must not append a transaction")
	}
}

func TestDispense_insufficientStock(t *testing.T) {
	svc, _, chain := setup(t)
	d, _ := svc.CreateDrug(ctx, "Ibuprofen 200mg", "tablet", "", nil, 10, actor)

	before := chain.Len()
	_, _, err := svc.Dispense(ctx, d.ID, 11, "", actor)
	if !errors.Is(err, pharmacy.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if chain.Len() != before {
		t.Error("rejected dispense must not append to the chain")
	}
}

func TestDispense_updatesStockAndStampsHash(t *testing.T) {
	svc, repo, chain := setup(t)
	d, _ := svc.CreateDrug(ctx, "Ibuprofen 200mg", "tablet", "", nil, 100, actor)

	updated, tx, err := svc.Dispense(ctx, d.ID, 30, "", actor)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Stock != 70 {
		t.Errorf("stock: got %d, want 70", updated.Stock)
	}
	if tx.Type != ledger.KindDispensed || tx.NewQuantity != 70 {
		t.Errorf("transaction: %+v", tx)
	}
	if stored := repo.drugs[d.ID]; stored.LedgerHash != tx.Hash {
		t.Error("row not stamped with dispense hash")
	}
	if res := chain.VerifyChain(); !res.Valid {
		t.Errorf("chain invalid after dispense: %+v", res.Violations)
	}
}

func TestDispense_withPrescription(t *testing.T) {
	svc, repo, _ := setup(t)
	d, _ := svc.CreateDrug(ctx, "Metformin 850mg", "tablet", "", nil, 50, actor)
	p, _, err := svc.CreatePrescription(ctx, "Ada Osei", d.ID, "1x2 daily", "type 2 diabetes", 20, actor)
	if err != nil {
		t.Fatal(err)
	}

	_, tx, err := svc.Dispense(ctx, d.ID, 20, p.ID.String(), actor)
	if err != nil {
		t.Fatal(err)
	}
	if tx.PrescriptionID != p.ID.String() {
		t.Errorf("transaction prescriptionId: got %q", tx.PrescriptionID)
	}

	stored := repo.prescriptions[p.ID]
	if stored.Status != pharmacy.PrescriptionDispensed {
		t.Errorf("prescription status: got %s, want dispensed", stored.Status)
	}
	if stored.LedgerHash != tx.Hash {
		t.Error("prescription not stamped with dispense hash")
	}

	// A second dispense against the same prescription must be rejected.
	if _, _, err := svc.Dispense(ctx, d.ID, 1, p.ID.String(), actor); err == nil {
		t.Error("dispensing a non-pending prescription should fail")
	}
}

func TestCreatePrescription_composesNotes(t *testing.T) {
	svc, _, chain := setup(t)
	d, _ := svc.CreateDrug(ctx, "Amoxicillin 500mg", "capsule", "", nil, 40, actor)

	p, tx, err := svc.CreatePrescription(ctx, "Kofi Mensah", d.ID, "500mg 3x daily", "otitis media", 15, actor)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != pharmacy.PrescriptionPending {
		t.Errorf("status: got %s", p.Status)
	}
	if tx.Type != ledger.KindPrescriptionCreated {
		t.Errorf("kind: got %s", tx.Type)
	}
	if tx.Quantity != 15 || tx.PreviousQuantity != 15 || tx.NewQuantity != 15 {
		t.Errorf("prescription quantities: %d/%d/%d", tx.Quantity, tx.PreviousQuantity, tx.NewQuantity)
	}
	for _, want := range []string{"Kofi Mensah", "500mg 3x daily", "otitis media", "Amoxicillin 500mg"} {
		if !strings.Contains(tx.Notes, want) {
			t.Errorf("notes %q missing %q", tx.Notes, want)
		}
	}
	if len(chain.History(p.ID.String())) != 1 {
		t.Error("prescription creation not in chain history")
	}
}

func TestAdjust_explicitValue(t *testing.T) {
	svc, _, _ := setup(t)
	d, _ := svc.CreateDrug(ctx, "Paracetamol", "tablet", "", nil, 90, actor)

	updated, tx, err := svc.Adjust(ctx, d.ID, 75, "cycle count correction", actor)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Stock != 75 || tx.NewQuantity != 75 {
		t.Errorf("adjusted stock: drug %d, tx %d, want 75", updated.Stock, tx.NewQuantity)
	}
	if tx.PreviousQuantity != 90 {
		t.Errorf("previousQuantity: got %d, want 90", tx.PreviousQuantity)
	}
}

func TestWriteOffs_gateOnStock(t *testing.T) {
	svc, _, _ := setup(t)
	d, _ := svc.CreateDrug(ctx, "Saline", "bottle", "B-9", nil, 5, actor)

	if _, _, err := svc.MarkExpired(ctx, d.ID, 6, actor); !errors.Is(err, pharmacy.ErrInsufficientStock) {
		t.Errorf("expired over stock: got %v", err)
	}
	if _, tx, err := svc.MarkDamaged(ctx, d.ID, 2, "crushed in transit", actor); err != nil || tx.NewQuantity != 3 {
		t.Errorf("damaged: err=%v tx=%+v", err, tx)
	}
	if _, tx, err := svc.Return(ctx, d.ID, 1, "unopened", actor); err != nil || tx.NewQuantity != 4 {
		t.Errorf("return: err=%v tx=%+v", err, tx)
	}
	if _, _, err := svc.AddStock(ctx, d.ID, 0, "", actor); !errors.Is(err, pharmacy.ErrInvalidQuantity) {
		t.Errorf("zero quantity: got %v", err)
	}
}

func TestMirrorFailure_doesNotFailOperation(t *testing.T) {
	repo := newFakeRepo()
	chain := ledger.New()
	arch := &failingArchive{}
	svc := pharmacy.NewService(repo, chain, arch, zap.NewNop())

	d, err := svc.CreateDrug(ctx, "Ceftriaxone", "vial", "B-3", nil, 10, actor)
	if err != nil {
		t.Fatalf("operation must survive mirror failure: %v", err)
	}
	if arch.calls == 0 {
		t.Error("archive was never called")
	}
	if len(chain.History(d.ID.String())) != 1 {
		t.Error("append must commit even when the mirror fails")
	}
}
