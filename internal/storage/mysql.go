package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/maneesh/studyfolders/internal/models"
	"github.com/maneesh/studyfolders/internal/naming"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// MySQLStore persists folder references and answers code counts. It is safe
// for concurrent use.
type MySQLStore struct {
	db *sql.DB
}

// OpenMySQL opens and pings a MySQL (or TiDB) connection pool.
func OpenMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// NewMySQLStore wraps an open pool.
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction bound to ctx by InTx, or the pool.
func (s *MySQLStore) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn inside one transaction. Store calls made with the context passed
// to fn join it. A nested InTx reuses the outer transaction.
func (s *MySQLStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	ctx, span := tracer.Start(ctx, "mysql.tx")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			span.RecordError(rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const folderColumns = `id, location_id, owner_kind, owner_id, path, folder_id, url, name, active, created_at, updated_at`

// FindByOwner returns the reference record of an entity, or ErrNotFound.
func (s *MySQLStore) FindByOwner(ctx context.Context, kind models.OwnerKind, ownerID int64) (*models.FileStoreFolder, error) {
	ctx, span := tracer.Start(ctx, "mysql.find_folder",
		trace.WithAttributes(
			attribute.String("owner_kind", string(kind)),
			attribute.Int64("owner_id", ownerID),
		),
	)
	defer span.End()

	query := `SELECT ` + folderColumns + ` FROM file_store_folders WHERE owner_kind = ? AND owner_id = ?`

	var f models.FileStoreFolder
	var folderID, url sql.NullString
	err := s.conn(ctx).QueryRowContext(ctx, query, string(kind), ownerID).Scan(
		&f.ID, &f.LocationID, &f.OwnerKind, &f.OwnerID, &f.Path,
		&folderID, &url, &f.Name, &f.Active, &f.CreatedAt, &f.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, fmt.Errorf("folder for %s %d: %w", kind, ownerID, ErrNotFound)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query folder: %w", err)
	}
	f.FolderID = folderID.String
	f.URL = url.String
	span.SetAttributes(attribute.Bool("found", true))
	return &f, nil
}

// Insert persists a new reference record, assigning its id and timestamps.
func (s *MySQLStore) Insert(ctx context.Context, f *models.FileStoreFolder) error {
	ctx, span := tracer.Start(ctx, "mysql.insert_folder",
		trace.WithAttributes(
			attribute.String("owner_kind", string(f.OwnerKind)),
			attribute.Int64("owner_id", f.OwnerID),
			attribute.String("path", f.Path),
		),
	)
	defer span.End()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now

	query := `INSERT INTO file_store_folders (` + folderColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		f.ID, f.LocationID, string(f.OwnerKind), f.OwnerID, f.Path,
		nullString(f.FolderID), nullString(f.URL), f.Name, f.Active, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert folder: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a reference record.
func (s *MySQLStore) Update(ctx context.Context, f *models.FileStoreFolder) error {
	ctx, span := tracer.Start(ctx, "mysql.update_folder",
		trace.WithAttributes(
			attribute.String("folder_ref_id", f.ID),
			attribute.String("path", f.Path),
		),
	)
	defer span.End()

	f.UpdatedAt = time.Now().UTC()
	query := `UPDATE file_store_folders
			  SET location_id = ?, path = ?, folder_id = ?, url = ?, name = ?, active = ?, updated_at = ?
			  WHERE id = ?`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		f.LocationID, f.Path, nullString(f.FolderID), nullString(f.URL), f.Name, f.Active, f.UpdatedAt, f.ID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update folder: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("folder %s: %w", f.ID, ErrNotFound)
	}
	return nil
}

// Deactivate marks an entity's reference record inactive. Records are never deleted.
func (s *MySQLStore) Deactivate(ctx context.Context, kind models.OwnerKind, ownerID int64) error {
	ctx, span := tracer.Start(ctx, "mysql.deactivate_folder",
		trace.WithAttributes(
			attribute.String("owner_kind", string(kind)),
			attribute.Int64("owner_id", ownerID),
		),
	)
	defer span.End()

	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE file_store_folders SET active = FALSE, updated_at = ? WHERE owner_kind = ? AND owner_id = ?`,
		time.Now().UTC(), string(kind), ownerID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to deactivate folder: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("folder for %s %d: %w", kind, ownerID, ErrNotFound)
	}
	return nil
}

// CountActiveStudies counts active studies across every program carrying programCode.
func (s *MySQLStore) CountActiveStudies(ctx context.Context, programCode string) (int, error) {
	return s.count(ctx, "mysql.count_studies",
		`SELECT COUNT(*) FROM studies s JOIN programs p ON p.id = s.program_id
		 WHERE p.code = ? AND s.active = TRUE`, programCode)
}

// CountExternalCodes counts studies whose external code starts with prefix.
func (s *MySQLStore) CountExternalCodes(ctx context.Context, prefix string) (int, error) {
	return s.count(ctx, "mysql.count_external_codes",
		`SELECT COUNT(*) FROM studies WHERE external_code LIKE ?`, likePrefix(prefix))
}

// CountAssays counts assays whose code starts with prefix.
func (s *MySQLStore) CountAssays(ctx context.Context, prefix string) (int, error) {
	return s.count(ctx, "mysql.count_assays",
		`SELECT COUNT(*) FROM assays WHERE code LIKE ?`, likePrefix(prefix))
}

func (s *MySQLStore) count(ctx context.Context, name, query string, arg string) (int, error) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("scope", arg)))
	defer span.End()

	var n int
	if err := s.conn(ctx).QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	span.SetAttributes(attribute.Int("count", n))
	return n, nil
}

// likePrefix escapes LIKE wildcards in prefix and appends "%".
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// IsDuplicateCode reports whether err is a unique-key violation.
func IsDuplicateCode(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// TranslateDuplicate maps a unique-key violation to naming.ErrDuplicateCode so
// naming.Service retries the creation with a fresh code.
func TranslateDuplicate(err error) error {
	if IsDuplicateCode(err) {
		return fmt.Errorf("%w: %v", naming.ErrDuplicateCode, err)
	}
	return err
}
