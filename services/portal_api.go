// ABOUTME: Typed helpers over the portal's internal resource endpoints
// ABOUTME: Decodes loosely shaped portal JSON into validated models

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/markalston/portal-gateway/models"
)

// Wire shapes. The portal omits fields freely, so everything is optional and
// checked by validate before it becomes a model.

type wireUnit struct {
	Number    *string `json:"number"`
	Address   *string `json:"address"`
	Status    *string `json:"status"`
	Generator *bool   `json:"generator"`
}

type wireUnitList struct {
	Units []wireUnit `json:"units"`
}

type wireUnitMetadata struct {
	wireUnit
	Class         *string `json:"class"`
	Voltage       *string `json:"voltage"`
	Beneficiaries []struct {
		Number *string `json:"number"`
	} `json:"beneficiaries"`
}

type wireInvoice struct {
	ID             *string  `json:"id"`
	ReferenceMonth *string  `json:"reference_month"`
	DueDate        *string  `json:"due_date"`
	Amount         *float64 `json:"amount"`
	Status         *string  `json:"status"`
	Barcode        *string  `json:"barcode"`
}

type wireInvoiceList struct {
	Invoices []wireInvoice `json:"invoices"`
}

type wireCredit struct {
	Month     *string  `json:"month"`
	Generated *float64 `json:"generated"`
	Consumed  *float64 `json:"consumed"`
	Received  *float64 `json:"received"`
	Balance   *float64 `json:"balance"`
}

type wireCreditHistory struct {
	History []wireCredit `json:"history"`
}

func (w wireUnit) validate() error {
	if w.Number == nil || strings.TrimSpace(*w.Number) == "" {
		return fmt.Errorf("unit without number")
	}
	return nil
}

func (w wireInvoice) validate() error {
	if w.ID == nil || *w.ID == "" {
		return fmt.Errorf("invoice without id")
	}
	if w.ReferenceMonth == nil || *w.ReferenceMonth == "" {
		return fmt.Errorf("invoice %s without reference month", *w.ID)
	}
	return nil
}

func (w wireCredit) validate() error {
	if w.Month == nil || *w.Month == "" {
		return fmt.Errorf("credit entry without month")
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func num(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// ListUnits returns the owner's consumption units
func (c *PortalClient) ListUnits(ctx context.Context, owner string) ([]models.ConsumptionUnit, error) {
	var body wireUnitList
	if err := c.getJSON(ctx, owner, "list_units", "/units", nil, &body); err != nil {
		return nil, err
	}

	units := make([]models.ConsumptionUnit, 0, len(body.Units))
	for _, w := range body.Units {
		if err := w.validate(); err != nil {
			slog.Warn("Skipping malformed portal unit", "error", err)
			continue
		}
		units = append(units, models.ConsumptionUnit{
			OwnerKey:  owner,
			Number:    str(w.Number),
			Address:   str(w.Address),
			Status:    str(w.Status),
			Generator: w.Generator != nil && *w.Generator,
		})
	}
	return units, nil
}

// UnitMetadata returns the detail record of one unit
func (c *PortalClient) UnitMetadata(ctx context.Context, owner, unit string) (*models.UnitMetadata, error) {
	var body wireUnitMetadata
	if err := c.getJSON(ctx, owner, "unit_metadata", "/units/"+url.PathEscape(unit), nil, &body); err != nil {
		return nil, err
	}
	if err := body.validate(); err != nil {
		return nil, &models.PortalError{Op: "unit_metadata", Err: err}
	}

	meta := &models.UnitMetadata{
		Number:    str(body.Number),
		Address:   str(body.Address),
		Status:    str(body.Status),
		Class:     str(body.Class),
		Voltage:   str(body.Voltage),
		Generator: body.Generator != nil && *body.Generator,
	}
	for _, b := range body.Beneficiaries {
		if str(b.Number) != "" {
			meta.Beneficiaries++
		}
	}
	return meta, nil
}

// ListInvoices returns the unit's invoices without document bytes
func (c *PortalClient) ListInvoices(ctx context.Context, owner, unit string) ([]models.Invoice, error) {
	var body wireInvoiceList
	path := "/units/" + url.PathEscape(unit) + "/invoices"
	if err := c.getJSON(ctx, owner, "list_invoices", path, nil, &body); err != nil {
		return nil, err
	}

	invoices := make([]models.Invoice, 0, len(body.Invoices))
	for _, w := range body.Invoices {
		if err := w.validate(); err != nil {
			slog.Warn("Skipping malformed portal invoice", "unit", unit, "error", err)
			continue
		}
		inv := models.Invoice{
			OwnerKey:       owner,
			UnitNumber:     unit,
			ID:             str(w.ID),
			ReferenceMonth: str(w.ReferenceMonth),
			AmountCents:    int64(math.Round(num(w.Amount) * 100)),
			Status:         str(w.Status),
			Barcode:        str(w.Barcode),
		}
		if due := str(w.DueDate); due != "" {
			if t, err := time.Parse("2006-01-02", due); err == nil {
				inv.DueDate = &t
			}
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// DownloadInvoice returns the raw invoice document
func (c *PortalClient) DownloadInvoice(ctx context.Context, owner, unit, invoiceID string) ([]byte, error) {
	resp, err := c.Call(ctx, owner, PortalRequest{
		Op:     "download_invoice",
		Method: http.MethodGet,
		Path:   "/units/" + url.PathEscape(unit) + "/invoices/" + url.PathEscape(invoiceID) + "/pdf",
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, &models.PortalError{Op: "download_invoice", Status: resp.Status, Err: fmt.Errorf("empty document")}
	}
	return resp.Body, nil
}

// CreditHistory returns the unit's monthly distributed-generation balances
func (c *PortalClient) CreditHistory(ctx context.Context, owner, unit string) ([]models.CreditBalance, error) {
	var body wireCreditHistory
	path := "/units/" + url.PathEscape(unit) + "/credits"
	if err := c.getJSON(ctx, owner, "credit_history", path, nil, &body); err != nil {
		return nil, err
	}

	out := make([]models.CreditBalance, 0, len(body.History))
	for _, w := range body.History {
		if err := w.validate(); err != nil {
			slog.Warn("Skipping malformed credit entry", "unit", unit, "error", err)
			continue
		}
		out = append(out, models.CreditBalance{
			OwnerKey:     owner,
			UnitNumber:   unit,
			Month:        str(w.Month),
			GeneratedKWh: num(w.Generated),
			ConsumedKWh:  num(w.Consumed),
			ReceivedKWh:  num(w.Received),
			BalanceKWh:   num(w.Balance),
		})
	}
	return out, nil
}

func (c *PortalClient) getJSON(ctx context.Context, owner, op, path string, query url.Values, out any) error {
	resp, err := c.Call(ctx, owner, PortalRequest{Op: op, Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &models.PortalError{Op: op, Status: resp.Status, Err: fmt.Errorf("invalid response body: %w", err)}
	}
	return nil
}
