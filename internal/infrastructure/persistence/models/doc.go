// Package models holds the gorm row types backing the repositories.
// Domain entities stay free of ORM tags; each model here carries the
// table mapping and converts to and from its domain counterpart.
//
// base.go has the identity fields shared by all tables,
// fulfillment_record.go the ledger rows (one per order line item), and
// product_mapping.go the catalog rows linking local products to
// supplier SKUs.
package models
