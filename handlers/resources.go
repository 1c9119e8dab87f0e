// ABOUTME: HTTP handlers for an owner's portal resources
// ABOUTME: Lists consumption units and invoices through the token-aware portal client

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/markalston/portal-gateway/logger"
	"github.com/markalston/portal-gateway/models"
)

// dataSourceHeader tells callers whether a listing came live or from the repository
const dataSourceHeader = "X-Data-Source"

// ListResources returns the owner's consumption units. Live portal data is
// mirrored into the repository; when the portal is unreachable the last
// mirrored copy is served instead.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	if h.Portal == nil || h.Store == nil {
		h.writeError(w, "Portal not configured", http.StatusServiceUnavailable)
		return
	}

	owner, err := h.ownerWithSession(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	units, err := h.Portal.ListUnits(r.Context(), owner)
	source := "live"
	switch {
	case err == nil:
		for _, u := range units {
			if err := h.repoUpsertUnit(r.Context(), u); err != nil {
				slog.Warn("Failed to mirror unit", "owner", logger.MaskOwner(owner), "unit", u.Number, "error", err)
			}
		}
	case errors.Is(err, models.ErrTransientNetwork) && h.Repo != nil:
		slog.Warn("Portal unreachable, serving mirrored units", "owner", logger.MaskOwner(owner), "error", err)
		units, err = h.Repo.ListUnits(r.Context(), owner)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		source = "cache"
	default:
		h.writeErr(w, r, err)
		return
	}

	if units == nil {
		units = []models.ConsumptionUnit{}
	}
	w.Header().Set(dataSourceHeader, source)
	h.writeJSON(w, http.StatusOK, models.ResourcesResponse{Owner: owner, Units: units})
}

// ListInvoices returns a unit's invoices. With documents=true every invoice
// carries its raw document, downloaded once and then served from the repository.
// An unreachable portal falls back to the mirrored invoices.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	if h.Portal == nil || h.Store == nil {
		h.writeError(w, "Portal not configured", http.StatusServiceUnavailable)
		return
	}

	unit := r.PathValue("unit")
	if err := models.ValidateUnit(unit); err != nil {
		h.writeErr(w, r, err)
		return
	}
	withDocs, _ := strconv.ParseBool(r.URL.Query().Get("documents"))

	owner, err := h.ownerWithSession(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	invoices, err := h.Portal.ListInvoices(r.Context(), owner, unit)
	source := "live"
	switch {
	case err == nil:
		var cached map[string][]byte
		if withDocs {
			cached = h.cachedDocuments(r.Context(), owner, unit)
		}
		for i := range invoices {
			inv := &invoices[i]
			inv.OwnerKey = owner
			inv.UnitNumber = unit
			if withDocs {
				h.attachDocument(r.Context(), inv, cached)
			}
			if h.Repo != nil {
				if err := h.Repo.UpsertInvoice(r.Context(), *inv); err != nil {
					slog.Warn("Failed to mirror invoice", "unit", unit, "invoice", inv.ID, "error", err)
				}
			}
			if !withDocs {
				inv.Document = nil
			}
		}
	case errors.Is(err, models.ErrTransientNetwork) && h.Repo != nil:
		slog.Warn("Portal unreachable, serving mirrored invoices", "owner", logger.MaskOwner(owner), "unit", unit, "error", err)
		invoices, err = h.Repo.ListInvoices(r.Context(), owner, unit, withDocs)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		source = "cache"
	default:
		h.writeErr(w, r, err)
		return
	}

	if invoices == nil {
		invoices = []models.Invoice{}
	}
	w.Header().Set(dataSourceHeader, source)
	h.writeJSON(w, http.StatusOK, models.InvoicesResponse{Owner: owner, Unit: unit, Invoices: invoices})
}

// cachedDocuments loads the unit's stored documents once per request, keyed by invoice id
func (h *Handler) cachedDocuments(ctx context.Context, owner, unit string) map[string][]byte {
	docs := make(map[string][]byte)
	if h.Repo == nil {
		return docs
	}
	cached, err := h.Repo.ListInvoices(ctx, owner, unit, true)
	if err != nil {
		slog.Warn("Failed to read mirrored invoices", "unit", unit, "error", err)
		return docs
	}
	for _, c := range cached {
		if len(c.Document) > 0 {
			docs[c.ID] = c.Document
		}
	}
	return docs
}

// attachDocument fills inv.Document from cached or the portal.
// A failed download leaves the invoice without a document.
func (h *Handler) attachDocument(ctx context.Context, inv *models.Invoice, cached map[string][]byte) {
	if doc, ok := cached[inv.ID]; ok {
		inv.Document = doc
		inv.HasDocument = true
		return
	}

	doc, err := h.Portal.DownloadInvoice(ctx, inv.OwnerKey, inv.UnitNumber, inv.ID)
	if err != nil {
		slog.Warn("Invoice document download failed", "unit", inv.UnitNumber, "invoice", inv.ID, "error", err)
		return
	}
	inv.Document = doc
	inv.HasDocument = true
}

func (h *Handler) repoUpsertUnit(ctx context.Context, u models.ConsumptionUnit) error {
	if h.Repo == nil {
		return nil
	}
	return h.Repo.UpsertUnit(ctx, u, nil)
}

// ownerWithSession normalizes the owner and checks a live session exists
func (h *Handler) ownerWithSession(ctx context.Context, raw string) (string, error) {
	owner, err := models.NormalizeOwner(raw)
	if err != nil {
		return "", err
	}
	if _, err := h.Store.Load(ctx, owner); err != nil {
		return "", err
	}
	return owner, nil
}
