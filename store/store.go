package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/xerrors"
	_ "modernc.org/sqlite"

	"github.com/aquasecurity/vuln-list-ingest/types"
)

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)"

// TxError reports a batch transaction that was rolled back or never started.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

type Options struct {
	Driver string
	DSN    string
	// UniqueRecordIDs makes the sink reject a second record with the same source id.
	UniqueRecordIDs bool
	// MaxOpenConns caps the session pool. SQLite always uses a single connection.
	MaxOpenConns int
}

// Store is the transactional sink. Every Commit runs in its own transaction on a
// connection taken from the pool, so concurrent batches never share a session.
type Store struct {
	db      *sql.DB
	dialect dialect
	unique  bool
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	d, ok := dialects[opts.Driver]
	if !ok {
		return nil, xerrors.Errorf("unsupported database driver: %q", opts.Driver)
	}

	dsn := opts.DSN
	if d.driver == DriverSQLite && !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn = dsn + sep + sqlitePragmas
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", d.driver, err)
	}

	switch {
	case d.driver == DriverSQLite:
		// SQLite allows one writer. A single pooled connection turns lock contention
		// between batches into ordered waits for the session.
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
		db.SetMaxIdleConns(opts.MaxOpenConns)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("connect %s: %w", d.driver, err)
	}

	return &Store{
		db:      db,
		dialect: d,
		unique:  opts.UniqueRecordIDs,
	}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s.dialect.driver == DriverSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			return xerrors.Errorf("set journal mode: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.schema(s.unique)); err != nil {
		return xerrors.Errorf("create schema: %w", err)
	}
	return nil
}

// Commit writes g in a single transaction, parents before children. Either every row
// becomes visible or none does.
func (s *Store) Commit(ctx context.Context, g *types.Graph) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &TxError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = insert(ctx, tx, s.dialect.rebind(insertRecord), g.Records, func(r types.VulnerabilityRecord) []any {
		return []any{r.RowID, r.ID, null(r.AssignerOrgID), null(r.State), null(r.AssignerShortName),
			nullTime(r.DateReserved), nullTime(r.DatePublished), nullTime(r.DateUpdated),
			null(r.Title), null(r.Description)}
	}); err != nil {
		return &TxError{Op: "insert cve_records", Err: err}
	}
	if err = insert(ctx, tx, s.dialect.rebind(insertProblemType), g.ProblemTypes, func(p types.ProblemType) []any {
		return []any{p.ID, p.RecordRowID, null(p.Description), null(p.CWEID), null(p.Lang)}
	}); err != nil {
		return &TxError{Op: "insert problem_types", Err: err}
	}
	if err = insert(ctx, tx, s.dialect.rebind(insertAffectedProduct), g.AffectedProducts, func(p types.AffectedProduct) []any {
		return []any{p.ID, p.RecordRowID, null(p.Vendor), null(p.Product), null(p.DefaultStatus)}
	}); err != nil {
		return &TxError{Op: "insert affected_products", Err: err}
	}
	if err = insert(ctx, tx, s.dialect.rebind(insertProductVersion), g.ProductVersions, func(v types.ProductVersion) []any {
		return []any{v.ID, v.AffectedProductID, null(v.Version), null(v.LessThan), null(v.Status), null(v.VersionType)}
	}); err != nil {
		return &TxError{Op: "insert product_versions", Err: err}
	}
	if err = insert(ctx, tx, s.dialect.rebind(insertReference), g.References, func(r types.Reference) []any {
		return []any{r.ID, null(r.URL), null(r.Tags)}
	}); err != nil {
		return &TxError{Op: "insert references", Err: err}
	}
	if err = insert(ctx, tx, s.dialect.rebind(insertRecordReference), g.RecordReferences, func(r types.RecordReference) []any {
		return []any{r.RecordRowID, r.ReferenceID}
	}); err != nil {
		return &TxError{Op: "insert cve_references", Err: err}
	}

	if err = tx.Commit(); err != nil {
		return &TxError{Op: "commit", Err: err}
	}
	return nil
}

func insert[T any](ctx context.Context, tx *sql.Tx, query string, rows []T, args func(T) []any) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return xerrors.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err = stmt.ExecContext(ctx, args(row)...); err != nil {
			return err
		}
	}
	return nil
}

// Counts maps each table name to its row count.
type Counts map[string]int

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	counts := Counts{}
	for _, table := range tables {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, xerrors.Errorf("count %s: %w", table, err)
		}
		counts[strings.Trim(table, `"`)] = n
	}
	return counts, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func null(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
