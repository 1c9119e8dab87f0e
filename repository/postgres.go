// ABOUTME: Postgres implementation of the resource repository
// ABOUTME: Tables come from the embedded migrations in db/migrations

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/markalston/portal-gateway/models"
)

const (
	upsertUnitSQL = `INSERT INTO consumption_units (owner_key, number, address, status, generator, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (owner_key, number) DO UPDATE SET
	address = EXCLUDED.address,
	status = EXCLUDED.status,
	generator = EXCLUDED.generator,
	metadata = COALESCE(EXCLUDED.metadata, consumption_units.metadata),
	updated_at = EXCLUDED.updated_at`

	// A nil document never clears one already downloaded
	upsertInvoiceSQL = `INSERT INTO invoices (owner_key, unit_number, id, reference_month, due_date, amount_cents, status, barcode, document, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (owner_key, unit_number, id) DO UPDATE SET
	reference_month = EXCLUDED.reference_month,
	due_date = EXCLUDED.due_date,
	amount_cents = EXCLUDED.amount_cents,
	status = EXCLUDED.status,
	barcode = EXCLUDED.barcode,
	document = COALESCE(EXCLUDED.document, invoices.document),
	updated_at = EXCLUDED.updated_at`

	invoiceHasDocumentSQL = `SELECT document IS NOT NULL FROM invoices WHERE owner_key = $1 AND unit_number = $2 AND id = $3`

	upsertCreditSQL = `INSERT INTO credit_balances (owner_key, unit_number, month, generated_kwh, consumed_kwh, received_kwh, balance_kwh, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (owner_key, unit_number, month) DO UPDATE SET
	generated_kwh = EXCLUDED.generated_kwh,
	consumed_kwh = EXCLUDED.consumed_kwh,
	received_kwh = EXCLUDED.received_kwh,
	balance_kwh = EXCLUDED.balance_kwh,
	updated_at = EXCLUDED.updated_at`

	listUnitsSQL = `SELECT owner_key, number, address, status, generator, updated_at
FROM consumption_units WHERE owner_key = $1 ORDER BY number`

	listInvoicesSQL = `SELECT owner_key, unit_number, id, reference_month, due_date, amount_cents, status, barcode,
	document IS NOT NULL, CASE WHEN $3 THEN document ELSE NULL END
FROM invoices WHERE owner_key = $1 AND ($2 = '' OR unit_number = $2)
ORDER BY unit_number, reference_month DESC`
)

// PostgresRepository implements Repository over *sql.DB
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) UpsertUnit(ctx context.Context, unit models.ConsumptionUnit, meta *models.UnitMetadata) error {
	var metaJSON any
	if meta != nil {
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode unit metadata: %w", err)
		}
		metaJSON = string(data)
	}
	_, err := r.db.ExecContext(ctx, upsertUnitSQL,
		unit.OwnerKey, unit.Number, unit.Address, unit.Status, unit.Generator, metaJSON, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert unit %s: %w", unit.Number, err)
	}
	return nil
}

func (r *PostgresRepository) UpsertInvoice(ctx context.Context, inv models.Invoice) error {
	var doc any
	if len(inv.Document) > 0 {
		doc = inv.Document
	}
	_, err := r.db.ExecContext(ctx, upsertInvoiceSQL,
		inv.OwnerKey, inv.UnitNumber, inv.ID, inv.ReferenceMonth, inv.DueDate,
		inv.AmountCents, inv.Status, inv.Barcode, doc, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert invoice %s: %w", inv.ID, err)
	}
	return nil
}

func (r *PostgresRepository) InvoiceHasDocument(ctx context.Context, owner, unit, id string) (bool, error) {
	var has bool
	err := r.db.QueryRowContext(ctx, invoiceHasDocumentSQL, owner, unit, id).Scan(&has)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check invoice document: %w", err)
	}
	return has, nil
}

func (r *PostgresRepository) UpsertCredits(ctx context.Context, balances []models.CreditBalance) error {
	if len(balances) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin credit upsert: %w", err)
	}
	defer tx.Rollback()

	now := r.now().UTC()
	for _, b := range balances {
		if _, err := tx.ExecContext(ctx, upsertCreditSQL,
			b.OwnerKey, b.UnitNumber, b.Month, b.GeneratedKWh, b.ConsumedKWh, b.ReceivedKWh, b.BalanceKWh, now); err != nil {
			return fmt.Errorf("failed to upsert credit %s/%s: %w", b.UnitNumber, b.Month, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepository) ListUnits(ctx context.Context, owner string) ([]models.ConsumptionUnit, error) {
	rows, err := r.db.QueryContext(ctx, listUnitsSQL, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	units := []models.ConsumptionUnit{}
	for rows.Next() {
		var u models.ConsumptionUnit
		if err := rows.Scan(&u.OwnerKey, &u.Number, &u.Address, &u.Status, &u.Generator, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *PostgresRepository) ListInvoices(ctx context.Context, owner, unit string, withDocuments bool) ([]models.Invoice, error) {
	rows, err := r.db.QueryContext(ctx, listInvoicesSQL, owner, unit, withDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	invoices := []models.Invoice{}
	for rows.Next() {
		var (
			inv models.Invoice
			due sql.NullTime
		)
		if err := rows.Scan(&inv.OwnerKey, &inv.UnitNumber, &inv.ID, &inv.ReferenceMonth, &due,
			&inv.AmountCents, &inv.Status, &inv.Barcode, &inv.HasDocument, &inv.Document); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		if due.Valid {
			d := due.Time
			inv.DueDate = &d
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}
