// ABOUTME: Downstream portal resource models
// ABOUTME: Consumption units, invoices, and distributed-generation credit balances

package models

import "time"

// ConsumptionUnit is a customer's metered connection point with the utility
type ConsumptionUnit struct {
	OwnerKey  string    `json:"owner_key"`
	Number    string    `json:"number"`
	Address   string    `json:"address,omitempty"`
	Status    string    `json:"status,omitempty"`
	Generator bool      `json:"generator"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UnitMetadata is the detail record of a unit
type UnitMetadata struct {
	Number        string `json:"number"`
	Address       string `json:"address,omitempty"`
	Status        string `json:"status,omitempty"`
	Class         string `json:"class,omitempty"`
	Voltage       string `json:"voltage,omitempty"`
	Generator     bool   `json:"generator"`
	Beneficiaries int    `json:"beneficiaries"`
}

// Invoice is one monthly bill for a unit
type Invoice struct {
	OwnerKey       string     `json:"owner_key"`
	UnitNumber     string     `json:"unit"`
	ID             string     `json:"id"`
	ReferenceMonth string     `json:"reference_month"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	AmountCents    int64      `json:"amount_cents"`
	Status         string     `json:"status,omitempty"`
	Barcode        string     `json:"barcode,omitempty"`
	Document       []byte     `json:"document,omitempty"`
	HasDocument    bool       `json:"has_document"`
}

// CreditBalance is the monthly distributed-generation credit position of a unit
type CreditBalance struct {
	OwnerKey     string  `json:"owner_key"`
	UnitNumber   string  `json:"unit"`
	Month        string  `json:"month"`
	GeneratedKWh float64 `json:"generated_kwh"`
	ConsumedKWh  float64 `json:"consumed_kwh"`
	ReceivedKWh  float64 `json:"received_kwh"`
	BalanceKWh   float64 `json:"balance_kwh"`
}

// ResourcesResponse lists an owner's units
type ResourcesResponse struct {
	Owner string            `json:"owner"`
	Units []ConsumptionUnit `json:"units"`
}

// InvoicesResponse lists a unit's invoices
type InvoicesResponse struct {
	Owner    string    `json:"owner"`
	Unit     string    `json:"unit"`
	Invoices []Invoice `json:"invoices"`
}
