// Package archive mirrors appended ledger transactions to PostgreSQL so the
// in-memory chain can be replayed after a restart. The archive is a mirror,
// not the source of truth: a failed mirror write never rolls back an append.
package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pharmatrust/pharmaledger/internal/ledger"
)

// Store persists ledger transactions to the ledger_transactions table.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Record inserts one appended transaction. idx is the primary key, so a
// replayed duplicate fails loudly instead of silently forking the mirror.
func (s *Store) Record(ctx context.Context, tx *ledger.Transaction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_transactions (
			idx, transaction_id, ts_millis, entity_id, entity_name, kind,
			quantity, previous_quantity, new_quantity,
			performed_by, performed_by_role,
			prescription_id, batch_number, notes,
			previous_hash, hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		tx.Index, tx.TransactionID, tx.Timestamp, tx.EntityID, tx.EntityName, tx.Type,
		tx.Quantity, tx.PreviousQuantity, tx.NewQuantity,
		tx.PerformedBy, tx.PerformedByRole,
		tx.PrescriptionID, tx.BatchNumber, tx.Notes,
		tx.PreviousHash, tx.Hash,
	)
	if err != nil {
		return fmt.Errorf("archive transaction %d: %w", tx.Index, err)
	}

	s.logger.Debug("ledger transaction archived",
		zap.Int("idx", tx.Index),
		zap.String("transaction_id", tx.TransactionID),
		zap.String("kind", string(tx.Type)),
	)
	return nil
}

// Replay streams all archived transactions ordered by idx. The result is fed
// to ledger.Restore at startup; an empty archive returns a nil slice and the
// caller seeds a fresh genesis instead.
func (s *Store) Replay(ctx context.Context) ([]*ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idx, transaction_id, ts_millis, entity_id, entity_name, kind,
			quantity, previous_quantity, new_quantity,
			performed_by, performed_by_role,
			prescription_id, batch_number, notes,
			previous_hash, hash
		 FROM ledger_transactions ORDER BY idx ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var chain []*ledger.Transaction
	for rows.Next() {
		tx := &ledger.Transaction{}
		if err := rows.Scan(
			&tx.Index, &tx.TransactionID, &tx.Timestamp, &tx.EntityID, &tx.EntityName, &tx.Type,
			&tx.Quantity, &tx.PreviousQuantity, &tx.NewQuantity,
			&tx.PerformedBy, &tx.PerformedByRole,
			&tx.PrescriptionID, &tx.BatchNumber, &tx.Notes,
			&tx.PreviousHash, &tx.Hash,
		); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		chain = append(chain, tx)
	}
	return chain, rows.Err()
}

// Count returns the number of archived transactions including genesis.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_transactions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count archive: %w", err)
	}
	return n, nil
}
