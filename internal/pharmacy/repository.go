package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a drug or prescription does not exist.
var ErrNotFound = errors.New("pharmacy: not found")

// Repository provides CRUD operations for drugs and prescriptions against
// PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateDrug inserts a new drug row.
func (r *Repository) CreateDrug(ctx context.Context, d *Drug) error {
	d.ID = uuid.New()
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO drugs (id, name, unit, stock, batch_number, expiry_date, ledger_hash, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.Name, d.Unit, d.Stock, d.BatchNumber, d.ExpiryDate, d.LedgerHash, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

// GetDrug retrieves a drug by ID.
func (r *Repository) GetDrug(ctx context.Context, id uuid.UUID) (*Drug, error) {
	d := &Drug{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, unit, stock, batch_number, expiry_date, ledger_hash, created_at, updated_at
		 FROM drugs WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Unit, &d.Stock, &d.BatchNumber, &d.ExpiryDate, &d.LedgerHash, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get drug: %w", err)
	}
	return d, nil
}

// ListDrugs returns drugs ordered by name.
func (r *Repository) ListDrugs(ctx context.Context, limit, offset int) ([]*Drug, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, name, unit, stock, batch_number, expiry_date, ledger_hash, created_at, updated_at
		 FROM drugs ORDER BY name ASC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drugs []*Drug
	for rows.Next() {
		d := &Drug{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Unit, &d.Stock, &d.BatchNumber, &d.ExpiryDate, &d.LedgerHash, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		drugs = append(drugs, d)
	}
	return drugs, rows.Err()
}

// UpdateStock sets a drug's stock level and stamps the ledger hash that
// authorized the change.
func (r *Repository) UpdateStock(ctx context.Context, id uuid.UUID, stock int, ledgerHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE drugs SET stock = $2, ledger_hash = $3, updated_at = $4 WHERE id = $1`,
		id, stock, ledgerHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePrescription inserts a new prescription row.
func (r *Repository) CreatePrescription(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = PrescriptionPending
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO prescriptions (id, number, patient_name, drug_id, dosage, diagnosis, quantity, status, prescribed_by, ledger_hash, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.Number, p.PatientName, p.DrugID, p.Dosage, p.Diagnosis, p.Quantity, p.Status, p.PrescribedBy, p.LedgerHash, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetPrescription retrieves a prescription by ID.
func (r *Repository) GetPrescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p := &Prescription{}
	err := r.db.QueryRow(ctx,
		`SELECT id, number, patient_name, drug_id, dosage, diagnosis, quantity, status, prescribed_by, ledger_hash, created_at, updated_at
		 FROM prescriptions WHERE id = $1`, id,
	).Scan(&p.ID, &p.Number, &p.PatientName, &p.DrugID, &p.Dosage, &p.Diagnosis, &p.Quantity, &p.Status, &p.PrescribedBy, &p.LedgerHash, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	return p, nil
}

// UpdatePrescriptionStatus transitions a prescription and stamps the ledger
// hash of the transaction that drove the transition.
func (r *Repository) UpdatePrescriptionStatus(ctx context.Context, id uuid.UUID, status PrescriptionStatus, ledgerHash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE prescriptions SET status = $2, ledger_hash = $3, updated_at = $4 WHERE id = $1`,
		id, status, ledgerHash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update prescription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
