package pharmacy

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pharmatrust/pharmaledger/internal/ledger"
)

var (
	// ErrInvalidQuantity is returned when a quantity is zero or negative.
	ErrInvalidQuantity = errors.New("pharmacy: quantity must be positive")

	// ErrInsufficientStock is returned when an outbound operation exceeds
	// the drug's current stock. Checked here, before the ledger is called —
	// the ledger itself does not enforce business rules.
	ErrInsufficientStock = errors.New("pharmacy: insufficient stock")

	// ErrPrescriptionNotPending is returned when dispensing against a
	// prescription that was already dispensed or cancelled.
	ErrPrescriptionNotPending = errors.New("pharmacy: prescription is not pending")
)

// drugStore is the persistence interface for the service.
// *Repository satisfies this interface.
type drugStore interface {
	CreateDrug(ctx context.Context, d *Drug) error
	GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error)
	ListDrugs(ctx context.Context, limit, offset int) ([]*Drug, error)
	UpdateStock(ctx context.Context, id uuid.UUID, stock int, ledgerHash string) error
	CreatePrescription(ctx context.Context, p *Prescription) error
	GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error)
	UpdatePrescriptionStatus(ctx context.Context, id uuid.UUID, status PrescriptionStatus, ledgerHash string) error
}

// chainArchive mirrors appended transactions to durable storage.
// *archive.Store satisfies this interface.
type chainArchive interface {
	Record(ctx context.Context, tx *ledger.Transaction) error
}

// Service contains the business rules that gate ledger appends: drugs must
// exist, outbound quantities cannot exceed stock, and every successful append
// stamps its hash onto the corresponding database row.
type Service struct {
	repo    drugStore
	ledger  *ledger.Ledger
	archive chainArchive // nil = no mirroring
	logger  *zap.Logger
}

// NewService creates a Service. archive may be nil to disable mirroring.
func NewService(repo drugStore, chain *ledger.Ledger, archive chainArchive, logger *zap.Logger) *Service {
	return &Service{repo: repo, ledger: chain, archive: archive, logger: logger}
}

// CreateDrug registers a new drug. A non-zero initial stock is recorded as a
// stock_in transaction so the chain covers the full stock history.
func (s *Service) CreateDrug(ctx context.Context, name, unit, batchNumber string, expiryDate *time.Time, initialStock int, actor Actor) (*Drug, error) {
	if initialStock < 0 {
		return nil, ErrInvalidQuantity
	}

	d := &Drug{
		Name:        name,
		Unit:        unit,
		Stock:       initialStock,
		BatchNumber: batchNumber,
		ExpiryDate:  expiryDate,
	}
	if err := s.repo.CreateDrug(ctx, d); err != nil {
		return nil, fmt.Errorf("create drug: %w", err)
	}

	if initialStock > 0 {
		tx, err := s.ledger.RecordStockIn(d.ID.String(), d.Name, initialStock, 0, actor.Name, actor.Role, batchNumber)
		if err != nil {
			return nil, err
		}
		s.mirror(ctx, tx)
		if err := s.repo.UpdateStock(ctx, d.ID, initialStock, tx.Hash); err != nil {
			return nil, err
		}
		d.LedgerHash = tx.Hash
	}
	return d, nil
}

// GetDrug returns a drug by ID.
func (s *Service) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	return s.repo.GetDrug(ctx, id)
}

// ListDrugs returns drugs ordered by name.
func (s *Service) ListDrugs(ctx context.Context, limit, offset int) ([]*Drug, error) {
	return s.repo.ListDrugs(ctx, limit, offset)
}

// AddStock records a stock_in transaction and raises the drug's stock level.
func (s *Service) AddStock(ctx context.Context, drugID uuid.UUID, qty int, batchNumber string, actor Actor) (*Drug, *ledger.Transaction, error) {
	if qty <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	d, err := s.repo.GetDrug(ctx, drugID)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.ledger.RecordStockIn(d.ID.String(), d.Name, qty, d.Stock, actor.Name, actor.Role, batchNumber)
	if err != nil {
		return nil, nil, err
	}
	return s.commitStock(ctx, d, tx)
}

// Dispense records a dispensed transaction and lowers stock. When
// prescriptionID is set, the prescription must exist and be pending; it is
// transitioned to dispensed and stamped with the same hash.
func (s *Service) Dispense(ctx context.Context, drugID uuid.UUID, qty int, prescriptionID string, actor Actor) (*Drug, *ledger.Transaction, error) {
	if qty <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	d, err := s.repo.GetDrug(ctx, drugID)
	if err != nil {
		return nil, nil, err
	}
	if qty > d.Stock {
		return nil, nil, fmt.Errorf("%w: have %d, want %d", ErrInsufficientStock, d.Stock, qty)
	}

	var presc *Prescription
	if prescriptionID != "" {
		pid, err := uuid.Parse(prescriptionID)
		if err != nil {
			return nil, nil, fmt.Errorf("parse prescription id: %w", err)
		}
		presc, err = s.repo.GetPrescription(ctx, pid)
		if err != nil {
			return nil, nil, err
		}
		if presc.Status != PrescriptionPending {
			return nil, nil, fmt.Errorf("%w: %s is %s", ErrPrescriptionNotPending, presc.Number, presc.Status)
		}
	}

	tx, err := s.ledger.RecordDispensing(d.ID.String(), d.Name, qty, d.Stock, actor.Name, actor.Role, prescriptionID)
	if err != nil {
		return nil, nil, err
	}

	if presc != nil {
		if err := s.repo.UpdatePrescriptionStatus(ctx, presc.ID, PrescriptionDispensed, tx.Hash); err != nil {
			return nil, nil, err
		}
	}
	return s.commitStock(ctx, d, tx)
}

// MarkExpired records an expired transaction and lowers stock.
func (s *Service) MarkExpired(ctx context.Context, drugID uuid.UUID, qty int, actor Actor) (*Drug, *ledger.Transaction, error) {
	return s.writeOff(ctx, drugID, qty, actor, func(d *Drug) (*ledger.Transaction, error) {
		return s.ledger.RecordExpiry(d.ID.String(), d.Name, qty, d.Stock, actor.Name, actor.Role, d.BatchNumber)
	})
}

// MarkDamaged records a damaged transaction and lowers stock.
func (s *Service) MarkDamaged(ctx context.Context, drugID uuid.UUID, qty int, notes string, actor Actor) (*Drug, *ledger.Transaction, error) {
	return s.writeOff(ctx, drugID, qty, actor, func(d *Drug) (*ledger.Transaction, error) {
		return s.ledger.RecordDamage(d.ID.String(), d.Name, qty, d.Stock, actor.Name, actor.Role, notes)
	})
}

// Return records a returned transaction and raises stock.
func (s *Service) Return(ctx context.Context, drugID uuid.UUID, qty int, notes string, actor Actor) (*Drug, *ledger.Transaction, error) {
	if qty <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	d, err := s.repo.GetDrug(ctx, drugID)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.ledger.RecordReturn(d.ID.String(), d.Name, qty, d.Stock, actor.Name, actor.Role, notes)
	if err != nil {
		return nil, nil, err
	}
	return s.commitStock(ctx, d, tx)
}

// Adjust records an adjustment transaction setting the stock to an explicit
// corrected value. This is the compensation path for disputed entries —
// history is never edited.
func (s *Service) Adjust(ctx context.Context, drugID uuid.UUID, newStock int, reason string, actor Actor) (*Drug, *ledger.Transaction, error) {
	if newStock < 0 {
		return nil, nil, ErrInvalidQuantity
	}
	d, err := s.repo.GetDrug(ctx, drugID)
	if err != nil {
		return nil, nil, err
	}

	delta := newStock - d.Stock
	if delta < 0 {
		delta = -delta
	}
	tx, err := s.ledger.RecordAdjustment(d.ID.String(), d.Name, delta, d.Stock, newStock, actor.Name, actor.Role, reason)
	if err != nil {
		return nil, nil, err
	}
	return s.commitStock(ctx, d, tx)
}

// CreatePrescription stores a prescription and appends a
// prescription_created transaction whose notes carry the composite
// patient/dosage/diagnosis text.
func (s *Service) CreatePrescription(ctx context.Context, patientName string, drugID uuid.UUID, dosage, diagnosis string, qty int, actor Actor) (*Prescription, *ledger.Transaction, error) {
	if qty <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	d, err := s.repo.GetDrug(ctx, drugID)
	if err != nil {
		return nil, nil, err
	}

	p := &Prescription{
		Number:       newPrescriptionNumber(),
		PatientName:  patientName,
		DrugID:       d.ID,
		Dosage:       dosage,
		Diagnosis:    diagnosis,
		Quantity:     qty,
		Status:       PrescriptionPending,
		PrescribedBy: actor.Name,
	}
	if err := s.repo.CreatePrescription(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("create prescription: %w", err)
	}

	notes := fmt.Sprintf("Patient: %s | Drug: %s | Dosage: %s | Diagnosis: %s", patientName, d.Name, dosage, diagnosis)
	tx, err := s.ledger.RecordPrescriptionCreated(p.ID.String(), p.Number, qty, actor.Name, actor.Role, notes)
	if err != nil {
		return nil, nil, err
	}
	s.mirror(ctx, tx)

	if err := s.repo.UpdatePrescriptionStatus(ctx, p.ID, PrescriptionPending, tx.Hash); err != nil {
		return nil, nil, err
	}
	p.LedgerHash = tx.Hash
	return p, tx, nil
}

// GetPrescription returns a prescription by ID.
func (s *Service) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetPrescription(ctx, id)
}

// writeOff is the shared gate for expired/damaged stock removals.
func (s *Service) writeOff(ctx context.Context, drugID uuid.UUID, qty int, _ Actor, record func(*Drug) (*ledger.Transaction, error)) (*Drug, *ledger.Transaction, error) {
	if qty <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	d, err := s.repo.GetDrug(ctx, drugID)
	if err != nil {
		return nil, nil, err
	}
	if qty > d.Stock {
		return nil, nil, fmt.Errorf("%w: have %d, want %d", ErrInsufficientStock, d.Stock, qty)
	}
	tx, err := record(d)
	if err != nil {
		return nil, nil, err
	}
	return s.commitStock(ctx, d, tx)
}

// commitStock mirrors the transaction and stamps the new stock level and
// ledger hash onto the drug row. The append itself is already committed in
// the chain and cannot be rolled back; a failed row update is reported to the
// caller but leaves the chain authoritative.
func (s *Service) commitStock(ctx context.Context, d *Drug, tx *ledger.Transaction) (*Drug, *ledger.Transaction, error) {
	s.mirror(ctx, tx)
	if err := s.repo.UpdateStock(ctx, d.ID, tx.NewQuantity, tx.Hash); err != nil {
		return nil, nil, err
	}
	d.Stock = tx.NewQuantity
	d.LedgerHash = tx.Hash
	return d, tx, nil
}

func (s *Service) mirror(ctx context.Context, tx *ledger.Transaction) {
	if s.archive == nil {
		return
	}
	if err := s.archive.Record(ctx, tx); err != nil {
		s.logger.Warn("archive mirror write failed",
			zap.Int("idx", tx.Index),
			zap.String("transaction_id", tx.TransactionID),
			zap.Error(err),
		)
	}
}

// newPrescriptionNumber builds a human-readable number like RX-20260828-ab12cd.
func newPrescriptionNumber() string {
	buf := make([]byte, 5)
	_, _ = rand.Read(buf)
	suffix := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
	return fmt.Sprintf("RX-%s-%s", time.Now().UTC().Format("20060102"), suffix)
}
