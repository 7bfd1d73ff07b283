// Package migrations holds the schema for the OLTP store (MySQL) and the
// reporting store (ClickHouse).
package migrations

import _ "embed"

//go:embed 001_init.sql
var MySQL string

//go:embed clickhouse_001_events.sql
var ClickHouse string
