// ABOUTME: Downstream persistence for resources pulled from the portal
// ABOUTME: Upsert-only writes so each scheduler cycle converges on the portal's view

package repository

import (
	"context"
	"database/sql"

	"github.com/markalston/portal-gateway/models"
)

// Repository stores synced portal resources. Every write is an upsert keyed
// on the natural identifiers so rewriting a resource is idempotent.
type Repository interface {
	UpsertUnit(ctx context.Context, unit models.ConsumptionUnit, meta *models.UnitMetadata) error
	UpsertInvoice(ctx context.Context, inv models.Invoice) error
	InvoiceHasDocument(ctx context.Context, owner, unit, id string) (bool, error)
	UpsertCredits(ctx context.Context, balances []models.CreditBalance) error
	ListUnits(ctx context.Context, owner string) ([]models.ConsumptionUnit, error)
	ListInvoices(ctx context.Context, owner, unit string, withDocuments bool) ([]models.Invoice, error)
}

// New returns a Postgres repository when db is set, otherwise an in-memory one
func New(db *sql.DB) Repository {
	if db == nil {
		return NewMemoryRepository()
	}
	return NewPostgresRepository(db)
}
