package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

// Drug is one inventoried medication. LedgerHash is the hash of the most
// recent ledger transaction that touched this row, stamped after every
// mutation so the durable record stays correlated with the in-memory chain.
type Drug struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Unit        string     `json:"unit"` // tablet, vial, bottle, ...
	Stock       int        `json:"stock"`
	BatchNumber string     `json:"batchNumber,omitempty"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	LedgerHash  string     `json:"ledgerHash,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PrescriptionStatus is the lifecycle state of a prescription.
type PrescriptionStatus string

const (
	PrescriptionPending   PrescriptionStatus = "pending"
	PrescriptionDispensed PrescriptionStatus = "dispensed"
	PrescriptionCancelled PrescriptionStatus = "cancelled"
)

// Prescription records one prescription issued against a drug.
type Prescription struct {
	ID           uuid.UUID          `json:"id"`
	Number       string             `json:"number"` // human-readable, e.g. RX-20260828-ab12cd
	PatientName  string             `json:"patientName"`
	DrugID       uuid.UUID          `json:"drugId"`
	Dosage       string             `json:"dosage"`
	Diagnosis    string             `json:"diagnosis,omitempty"`
	Quantity     int                `json:"quantity"`
	Status       PrescriptionStatus `json:"status"`
	PrescribedBy string             `json:"prescribedBy"`
	LedgerHash   string             `json:"ledgerHash,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// Actor identifies who performed an operation. The strings are supplied by
// the caller and recorded as-is; the ledger does not authenticate them.
type Actor struct {
	Name string `json:"name"`
	Role string `json:"role"`
}
