// Package migrations holds the goose-managed schema for PostgresStore,
// registered by import side effect.
package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE dhcp_leases (
			identifier              BYTEA,
			hardware_address        TEXT NOT NULL,
			hostname                TEXT NOT NULL DEFAULT '',
			state                   TEXT NOT NULL,
			ip_address              TEXT NOT NULL,
			offered_time            TIMESTAMPTZ NOT NULL,
			lease_start             TIMESTAMPTZ NOT NULL,
			lease_duration_seconds  BIGINT NOT NULL,
			last_seen               TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (hardware_address)
		)
	`)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `CREATE INDEX dhcp_leases_ip_address_idx ON dhcp_leases (ip_address)`)
	return err
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE dhcp_leases`)
	return err
}
