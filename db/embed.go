// Package db embeds the order database schema.
package db

import _ "embed"

// Schema creates buyers, products, orders and order line items.
//
//go:embed migrations/001_schema.sql
var Schema string
