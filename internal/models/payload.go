// Package models provides data model definitions for the ledgersync core.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType tags the remote collection a change targets.
type EntityType string

const (
	EntityInvoice         EntityType = "invoice"
	EntityCustomer        EntityType = "customer"
	EntityProduct         EntityType = "product"
	EntityPurchaseInvoice EntityType = "purchase_invoice"
	EntityCashTransaction EntityType = "cash_transaction"
	EntitySupplier        EntityType = "supplier"
	EntityEmployee        EntityType = "employee"
)

// EntityTypes lists every supported entity type.
var EntityTypes = []EntityType{
	EntityInvoice,
	EntityCustomer,
	EntityProduct,
	EntityPurchaseInvoice,
	EntityCashTransaction,
	EntitySupplier,
	EntityEmployee,
}

// Valid reports whether e has a payload variant.
func (e EntityType) Valid() bool {
	for _, t := range EntityTypes {
		if t == e {
			return true
		}
	}
	return false
}

// Payload is the record body carried by a queued change. It is a closed set:
// one variant per supported collection.
type Payload interface {
	// EntityType returns the tag of the variant.
	EntityType() EntityType

	// Columns returns the remote column values of the record.
	Columns() map[string]interface{}

	// Modified returns the local last-modification time used for
	// last-write-wins comparison.
	Modified() time.Time

	sealed()
}

// DecodePayload decodes data into the variant registered for t.
func DecodePayload(t EntityType, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)

	switch t {
	case EntityInvoice:
		var v Invoice
		err = json.Unmarshal(data, &v)
		p = v
	case EntityCustomer:
		var v Customer
		err = json.Unmarshal(data, &v)
		p = v
	case EntityProduct:
		var v Product
		err = json.Unmarshal(data, &v)
		p = v
	case EntityPurchaseInvoice:
		var v PurchaseInvoice
		err = json.Unmarshal(data, &v)
		p = v
	case EntityCashTransaction:
		var v CashTransaction
		err = json.Unmarshal(data, &v)
		p = v
	case EntitySupplier:
		var v Supplier
		err = json.Unmarshal(data, &v)
		p = v
	case EntityEmployee:
		var v Employee
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// Invoice is a sales invoice.
type Invoice struct {
	ID            string    `json:"id"`
	InvoiceNumber string    `json:"invoice_number"`
	CustomerID    string    `json:"customer_id,omitempty"`
	InvoiceDate   time.Time `json:"invoice_date"`
	DueDate       time.Time `json:"due_date,omitempty"`
	Subtotal      float64   `json:"subtotal"`
	Discount      float64   `json:"discount"`
	Tax           float64   `json:"tax"`
	Total         float64   `json:"total"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Invoice) EntityType() EntityType { return EntityInvoice }
func (v Invoice) Modified() time.Time  { return v.UpdatedAt }
func (Invoice) sealed()                {}

func (v Invoice) Columns() map[string]interface{} {
	return map[string]interface{}{
		"id":             v.ID,
		"invoice_number": v.InvoiceNumber,
		"customer_id":    nullString(v.CustomerID),
		"invoice_date":   v.InvoiceDate,
		"due_date":       nullTime(v.DueDate),
		"subtotal":       v.Subtotal,
		"discount":       v.Discount,
		"tax":            v.Tax,
		"total":          v.Total,
		"status":         v.Status,
		"notes":          v.Notes,
		"updated_at":     v.UpdatedAt,
	}
}

// Customer is a customer account.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	TaxNumber string    `json:"tax_number,omitempty"`
	Balance   float64   `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Customer) EntityType() EntityType { return EntityCustomer }
func (v Customer) Modified() time.Time  { return v.UpdatedAt }
func (Customer) sealed()                {}

func (v Customer) Columns() map[string]interface{} {
	return map[string]interface{}{
		"id":         v.ID,
		"name":       v.Name,
		"phone":      v.Phone,
		"email":      v.Email,
		"address":    v.Address,
		"tax_number": v.TaxNumber,
		"balance":    v.Balance,
		"updated_at": v.UpdatedAt,
	}
}

// Product is an inventory item.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	SKU         string    `json:"sku,omitempty"`
	Barcode     string    `json:"barcode,omitempty"`
	Category    string    `json:"category,omitempty"`
	UnitPrice   float64   `json:"unit_price"`
	CostPrice   float64   `json:"cost_price"`
	Quantity    float64   `json:"quantity"`
	MinQuantity float64   `json:"min_quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Product) EntityType() EntityType { return EntityProduct }
func (v Product) Modified() time.Time  { return v.UpdatedAt }
func (Product) sealed()                {}

func (v Product) Columns() map[string]interface{} {
	return map[string]interface{}{
		"id":           v.ID,
		"name":         v.Name,
		"sku":          v.SKU,
		"barcode":      v.Barcode,
		"category":     v.Category,
		"unit_price":   v.UnitPrice,
		"cost_price":   v.CostPrice,
		"quantity":     v.Quantity,
		"min_quantity": v.MinQuantity,
		"updated_at":   v.UpdatedAt,
	}
}

// PurchaseInvoice is an invoice received from a supplier.
type PurchaseInvoice struct {
	ID            string    `json:"id"`
	InvoiceNumber string    `json:"invoice_number"`
	SupplierID    string    `json:"supplier_id,omitempty"`
	InvoiceDate   time.Time `json:"invoice_date"`
	Total         float64   `json:"total"`
	Paid          float64   `json:"paid"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (PurchaseInvoice) EntityType() EntityType { return EntityPurchaseInvoice }
func (v PurchaseInvoice) Modified() time.Time  { return v.UpdatedAt }
func (PurchaseInvoice) sealed()                {}

func (v PurchaseInvoice) Columns() map[string]interface{} {
	return map[string]interface{}{
		"id":             v.ID,
		"invoice_number": v.InvoiceNumber,
		"supplier_id":    nullString(v.SupplierID),
		"invoice_date":   v.InvoiceDate,
		"total":          v.Total,
		"paid":           v.Paid,
		"status":         v.Status,
		"notes":          v.Notes,
		"updated_at":     v.UpdatedAt,
	}
}

// CashTransaction is a cash-box movement.
type CashTransaction struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"` // income, expense
	Amount          float64   `json:"amount"`
	Description     string    `json:"description,omitempty"`
	Reference       string    `json:"reference,omitempty"`
	TransactionDate time.Time `json:"transaction_date"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (CashTransaction) EntityType() EntityType { return EntityCashTransaction }
func (v CashTransaction) Modified() time.Time  { return v.UpdatedAt }
func (CashTransaction) sealed()                {}

func (v CashTransaction) Columns() map[string]interface{} {
	return map[string]interface{}{
		"id":               v.ID,
		"type":             v.Type,
		"amount":           v.Amount,
		"description":      v.Description,
		"reference":        v.Reference,
		"transaction_date": v.TransactionDate,
		"updated_at":       v.UpdatedAt,
	}
}

// Supplier is a supplier account.
type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	Balance   float64   `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Supplier) EntityType() EntityType { return EntitySupplier }
func (v Supplier) Modified() time.Time  { return v.UpdatedAt }
func (Supplier) sealed()                {}

func (v Supplier) Columns() map[string]interface{} {
	return map[string]interface{}{
		"id":         v.ID,
		"name":       v.Name,
		"phone":      v.Phone,
		"email":      v.Email,
		"address":    v.Address,
		"balance":    v.Balance,
		"updated_at": v.UpdatedAt,
	}
}

// Employee is a staff member.
type Employee struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Position  string    `json:"position,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Salary    float64   `json:"salary"`
	HireDate  time.Time `json:"hire_date,omitempty"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Employee) EntityType() EntityType { return EntityEmployee }
func (v Employee) Modified() time.Time  { return v.UpdatedAt }
func (Employee) sealed()                {}

func (v Employee) Columns() map[string]interface{} {
	return map[string]interface{}{
		"id":         v.ID,
		"name":       v.Name,
		"position":   v.Position,
		"phone":      v.Phone,
		"salary":     v.Salary,
		"hire_date":  nullTime(v.HireDate),
		"active":     v.Active,
		"updated_at": v.UpdatedAt,
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
