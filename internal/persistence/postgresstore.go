package persistence

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	_ "dhcpd/internal/persistence/migrations"

	"dhcpd/internal/lease"
)

// defaultQueryTimeout bounds every pool operation this store issues.
const defaultQueryTimeout = 5 * time.Second

// OpenPool creates a pgx connection pool for dsn (simple protocol,
// ping-on-open).
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Migrate runs the goose migrations registered by the migrations package
// against pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return fmt.Errorf("nil pool")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	connString := pool.Config().ConnConfig.ConnString()
	sqlDB, err := goose.OpenDBWithDriver("pgx", connString)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return goose.UpContext(ctx, sqlDB, "migrations")
}

// PostgresStore persists the lease table snapshot to a dhcp_leases table.
// path is ignored: the table itself is the addressable resource, kept as a
// parameter only to satisfy ClientStore's shape shared with FileStore/S3Store.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

type leaseRow struct {
	Identifier      []byte    `db:"identifier"`
	HardwareAddress string    `db:"hardware_address"`
	Hostname        string    `db:"hostname"`
	State           string    `db:"state"`
	IPAddress       string    `db:"ip_address"`
	OfferedTime     time.Time `db:"offered_time"`
	LeaseStart      time.Time `db:"lease_start"`
	LeaseDuration   int64     `db:"lease_duration_seconds"`
	LastSeen        time.Time `db:"last_seen"`
}

// Write replaces the contents of dhcp_leases with records, inside one
// transaction so a concurrent reader never observes a partial snapshot.
func (s *PostgresStore) Write(ctx context.Context, _ string, records []*lease.Record) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM dhcp_leases`); err != nil {
		return fmt.Errorf("clear dhcp_leases: %w", err)
	}

	for _, r := range records {
		row := leaseRowFromRecord(r)
		_, err := tx.Exec(ctx, `
			INSERT INTO dhcp_leases
				(identifier, hardware_address, hostname, state, ip_address,
				 offered_time, lease_start, lease_duration_seconds, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, row.Identifier, row.HardwareAddress, row.Hostname, row.State, row.IPAddress,
			row.OfferedTime, row.LeaseStart, row.LeaseDuration, row.LastSeen)
		if err != nil {
			return fmt.Errorf("insert lease row: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Read loads every row from dhcp_leases, applying FilterForLoad with no pool
// ranges: Offered rows are dropped, but addresses are not range-checked.
func (s *PostgresStore) Read(ctx context.Context, _ string) ([]*lease.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var rows []leaseRow
	if err := pgxscan.Select(ctx, s.Pool, &rows, `
		SELECT identifier, hardware_address, hostname, state, ip_address,
		       offered_time, lease_start, lease_duration_seconds, last_seen
		FROM dhcp_leases
	`); err != nil {
		return nil, fmt.Errorf("select dhcp_leases: %w", err)
	}

	records := make([]*lease.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromLeaseRow(row))
	}
	return FilterForLoad(records, nil), nil
}

func leaseRowFromRecord(r *lease.Record) leaseRow {
	row := leaseRow{
		Identifier:    r.Identifier,
		Hostname:      r.Hostname,
		State:         r.State.String(),
		IPAddress:     ipString(r.IPAddress),
		OfferedTime:   r.OfferedTime,
		LeaseStart:    r.LeaseStart,
		LeaseDuration: int64(r.LeaseDuration / time.Second),
		LastSeen:      r.LastSeen,
	}
	if r.LeaseDuration == lease.Infinite {
		row.LeaseDuration = -1
	}
	if r.HardwareAddress != nil {
		row.HardwareAddress = r.HardwareAddress.String()
	}
	return row
}

func recordFromLeaseRow(row leaseRow) *lease.Record {
	rec := &lease.Record{
		Identifier:    row.Identifier,
		Hostname:      row.Hostname,
		State:         stateFromString(row.State),
		IPAddress:     net.ParseIP(row.IPAddress).To4(),
		OfferedTime:   row.OfferedTime,
		LeaseStart:    row.LeaseStart,
		LeaseDuration: time.Duration(row.LeaseDuration) * time.Second,
		LastSeen:      row.LastSeen,
	}
	if row.LeaseDuration < 0 {
		rec.LeaseDuration = lease.Infinite
	}
	if row.HardwareAddress != "" {
		if mac, err := net.ParseMAC(row.HardwareAddress); err == nil {
			rec.HardwareAddress = mac
		}
	}
	return rec
}
