// ABOUTME: In-memory resource repository for development and tests
// ABOUTME: Mirrors the Postgres upsert semantics including document retention

package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/markalston/portal-gateway/models"
)

type unitKey struct{ owner, number string }
type invoiceKey struct{ owner, unit, id string }
type creditKey struct{ owner, unit, month string }

// MemoryRepository implements Repository with maps guarded by a mutex
type MemoryRepository struct {
	mu       sync.RWMutex
	units    map[unitKey]models.ConsumptionUnit
	meta     map[unitKey]models.UnitMetadata
	invoices map[invoiceKey]models.Invoice
	credits  map[creditKey]models.CreditBalance
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		units:    make(map[unitKey]models.ConsumptionUnit),
		meta:     make(map[unitKey]models.UnitMetadata),
		invoices: make(map[invoiceKey]models.Invoice),
		credits:  make(map[creditKey]models.CreditBalance),
		now:      time.Now,
	}
}

func (r *MemoryRepository) UpsertUnit(ctx context.Context, unit models.ConsumptionUnit, meta *models.UnitMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := unitKey{unit.OwnerKey, unit.Number}
	unit.UpdatedAt = r.now().UTC()
	r.units[k] = unit
	if meta != nil {
		r.meta[k] = *meta
	}
	return nil
}

func (r *MemoryRepository) UpsertInvoice(ctx context.Context, inv models.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := invoiceKey{inv.OwnerKey, inv.UnitNumber, inv.ID}
	if len(inv.Document) == 0 {
		if prev, ok := r.invoices[k]; ok {
			inv.Document = prev.Document
		}
	} else {
		inv.Document = append([]byte(nil), inv.Document...)
	}
	inv.HasDocument = len(inv.Document) > 0
	r.invoices[k] = inv
	return nil
}

func (r *MemoryRepository) InvoiceHasDocument(ctx context.Context, owner, unit, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invoices[invoiceKey{owner, unit, id}]
	return ok && inv.HasDocument, nil
}

func (r *MemoryRepository) UpsertCredits(ctx context.Context, balances []models.CreditBalance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range balances {
		r.credits[creditKey{b.OwnerKey, b.UnitNumber, b.Month}] = b
	}
	return nil
}

func (r *MemoryRepository) ListUnits(ctx context.Context, owner string) ([]models.ConsumptionUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	units := []models.ConsumptionUnit{}
	for k, u := range r.units {
		if k.owner == owner {
			units = append(units, u)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Number < units[j].Number })
	return units, nil
}

func (r *MemoryRepository) ListInvoices(ctx context.Context, owner, unit string, withDocuments bool) ([]models.Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	invoices := []models.Invoice{}
	for k, inv := range r.invoices {
		if k.owner != owner || (unit != "" && k.unit != unit) {
			continue
		}
		if !withDocuments {
			inv.Document = nil
		}
		invoices = append(invoices, inv)
	}
	sort.Slice(invoices, func(i, j int) bool {
		if invoices[i].UnitNumber != invoices[j].UnitNumber {
			return invoices[i].UnitNumber < invoices[j].UnitNumber
		}
		return invoices[i].ReferenceMonth > invoices[j].ReferenceMonth
	})
	return invoices, nil
}

// Credits returns the stored balances for a unit, newest month first
func (r *MemoryRepository) Credits(owner, unit string) []models.CreditBalance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.CreditBalance
	for k, b := range r.credits {
		if k.owner == owner && k.unit == unit {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month > out[j].Month })
	return out
}
