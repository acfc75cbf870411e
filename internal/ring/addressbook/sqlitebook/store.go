// Package sqlitebook is a shared AddressBook provider backed by a
// SQLite database, for deployments that already run a shared disk but
// have no multicast or JDBC provider available.
package sqlitebook

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists candidate ring endpoints in a single table, shared by
// every node that points its provider at the same file (e.g. an NFS or
// shared-volume mount).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the address-book database at path.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("addressbook: open db: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS ring_addresses (
	address TEXT PRIMARY KEY,
	updated_at TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("addressbook: initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Addresses implements addressbook.Provider.
func (s *Store) Addresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM ring_addresses ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("addressbook: list addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("addressbook: scan address row: %w", err)
		}
		out = append(out, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("addressbook: iterate address rows: %w", err)
	}
	return out, nil
}

// Register upserts addr with the current timestamp, used by a node to
// publish its own endpoint.
func (s *Store) Register(ctx context.Context, addr string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ring_addresses (address, updated_at) VALUES (?, ?)
		 ON CONFLICT(address) DO UPDATE SET updated_at = excluded.updated_at`,
		addr, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("addressbook: register address %q: %w", addr, err)
	}
	return nil
}

// Prune deletes every row whose address is absent from live, the
// coordinator-only periodic cleanup driven by the
// ipFinderCleanFrequency configuration option.
func (s *Store) Prune(ctx context.Context, live []string) error {
	liveSet := make(map[string]struct{}, len(live))
	for _, a := range live {
		liveSet[a] = struct{}{}
	}

	current, err := s.Addresses(ctx)
	if err != nil {
		return err
	}
	for _, a := range current {
		if _, ok := liveSet[a]; ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM ring_addresses WHERE address = ?`, a); err != nil {
			return fmt.Errorf("addressbook: prune address %q: %w", a, err)
		}
	}
	return nil
}

// CleanStale implements addressbook.Cleaner over Prune with a
// background context, the shape the coordinator's periodic prune loop
// consumes.
func (s *Store) CleanStale(live []string) error {
	return s.Prune(context.Background(), live)
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}
