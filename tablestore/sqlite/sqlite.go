// Package sqlite provides a tablestore.Store backed by one SQLite file.
//
// Every collection is a table with the schema
//
//	CREATE TABLE "<name>" (id TEXT PRIMARY KEY, vector TEXT)
//
// which is the layout other engines reading the same files use. Dimensions
// are recorded in a side table, _tinyvec_tables; tables without an entry
// there are still readable.
//
// Writes run in one transaction that is begun lazily and committed by Commit.
// The pool is limited to a single connection so reads made while that
// transaction is open observe its writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/hupe1980/tinyvec/tablestore"
)

const metaTable = "_tinyvec_tables"

// Store is a SQLite table store.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	closed bool
}

var (
	_ tablestore.Store     = (*Store)(nil)
	_ tablestore.Describer = (*Store)(nil)
)

// Open opens (creating if needed) the SQLite file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	s, err := OpenDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an open database handle. The store owns db from now on and
// closes it on Close.
func OpenDB(db *sql.DB) (*Store, error) {
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	schema := `CREATE TABLE IF NOT EXISTS ` + metaTable + ` (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create metadata table: %w", err)
	}

	return &Store{db: db}, nil
}

// quote returns name as a quoted SQL identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// begin locks the store and returns the open transaction, starting one if
// needed. The caller must unlock s.mu.
func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, tablestore.ErrClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}

	// The transaction spans many calls; it must not die with the context of
	// the call that happened to open it.
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

func tableExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func requireTable(ctx context.Context, tx *sql.Tx, name string) error {
	ok, err := tableExists(ctx, tx, name)
	if err != nil {
		return err
	}
	if !ok || strings.HasPrefix(name, "_tinyvec_") || strings.HasPrefix(name, "sqlite_") {
		return fmt.Errorf("%w: %q", tablestore.ErrTableNotFound, name)
	}
	return nil
}

// TouchTable implements tablestore.Store.
func (s *Store) TouchTable(ctx context.Context, name string, dimension int) error {
	if err := tablestore.ValidateTableName(name); err != nil {
		return err
	}
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	stmt := `CREATE TABLE IF NOT EXISTS ` + quote(name) + ` (id TEXT PRIMARY KEY, vector TEXT)`
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table %q: %w", name, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+metaTable+` (name, dimension) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, dimension)
	if err != nil {
		return fmt.Errorf("record table %q: %w", name, err)
	}
	return nil
}

// DeleteTable implements tablestore.Store.
func (s *Store) DeleteTable(ctx context.Context, name string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := requireTable(ctx, tx, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE `+quote(name)); err != nil {
		return fmt.Errorf("drop table %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+metaTable+` WHERE name = ?`, name); err != nil {
		return fmt.Errorf("forget table %q: %w", name, err)
	}
	return nil
}

// TableNames implements tablestore.Store.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	rows, err := tx.QueryContext(ctx, `SELECT name FROM sqlite_master
		WHERE type = 'table'
		  AND substr(name, 1, 9) != '_tinyvec_'
		  AND substr(name, 1, 7) != 'sqlite_'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableDimension implements tablestore.Describer.
func (s *Store) TableDimension(ctx context.Context, name string) (int, bool, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer s.mu.Unlock()

	if err := requireTable(ctx, tx, name); err != nil {
		return 0, false, err
	}

	var dim int
	err = tx.QueryRowContext(ctx, `SELECT dimension FROM `+metaTable+` WHERE name = ?`, name).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return dim, true, nil
}

// TableData implements tablestore.Store. Rows come back in insertion order.
func (s *Store) TableData(ctx context.Context, name string) ([]string, []string, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()

	if err := requireTable(ctx, tx, name); err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, vector FROM `+quote(name)+` ORDER BY rowid`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	ids, encoded := []string{}, []string{}
	for rows.Next() {
		var id, enc string
		if err := rows.Scan(&id, &enc); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		encoded = append(encoded, enc)
	}
	return ids, encoded, rows.Err()
}

// InsertRow implements tablestore.Store.
func (s *Store) InsertRow(ctx context.Context, table, id, encoded string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := requireTable(ctx, tx, table); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO `+quote(table)+` (id, vector) VALUES (?, ?)`, id, encoded)
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %q in %q", tablestore.ErrRowExists, id, table)
	}
	return err
}

// UpdateRow implements tablestore.Store.
func (s *Store) UpdateRow(ctx context.Context, table, id, encoded string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := requireTable(ctx, tx, table); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `UPDATE `+quote(table)+` SET vector = ? WHERE id = ?`, encoded, id)
	return affected(res, err, table, id)
}

// DeleteRow implements tablestore.Store.
func (s *Store) DeleteRow(ctx context.Context, table, id string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := requireTable(ctx, tx, table); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM `+quote(table)+` WHERE id = ?`, id)
	return affected(res, err, table, id)
}

func affected(res sql.Result, err error, table, id string) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q in %q", tablestore.ErrRowNotFound, id, table)
	}
	return nil
}

// Commit commits the open transaction, if any.
func (s *Store) Commit(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return tablestore.ErrClosed
	}
	if s.tx == nil {
		return nil
	}

	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close rolls back uncommitted writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	return s.db.Close()
}
