// Package remote applies queued changes to the hosted Postgres database.
package remote

import "github.com/kimhsiao/ledgersync/internal/models"

// collections maps each entity type to its remote table.
var collections = map[models.EntityType]string{
	models.EntityInvoice:         "invoices",
	models.EntityCustomer:        "customers",
	models.EntityProduct:         "products",
	models.EntityPurchaseInvoice: "purchase_invoices",
	models.EntityCashTransaction: "cash_transactions",
	models.EntitySupplier:        "suppliers",
	models.EntityEmployee:        "employees",
}

// CollectionFor returns the remote table for t.
func CollectionFor(t models.EntityType) (string, bool) {
	c, ok := collections[t]
	return c, ok
}
