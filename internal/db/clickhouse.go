package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the reporting store, e.g.
// clickhouse://default:@localhost:9000/recall?dial_timeout=5s&compress=true
func NewClickHouseConnection(dsn string, opts PoolOpts) (*sqlx.DB, error) {
	db, err := sqlx.Open("clickhouse", dsn)
	if err != nil {
		return nil, err
	}
	opts.apply(db)

	if err := ping(db, opts.PingTimeout, 3*time.Second); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
