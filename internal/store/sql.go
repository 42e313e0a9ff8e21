package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/skao/dataproduct-api/internal/metadata"
	"github.com/skao/dataproduct-api/pkg/types"
)

// Dialect selects the SQL flavor of a relational store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore is the relational MetadataStore. One table holds the record
// identity columns next to the full document (jsonb on PostgreSQL).
// Partial unique indexes enforce the identity rule at the database
// level: one row per volume path, one pathless row per content hash.
// A second table holds annotations.
type SQLStore struct {
	db        *sql.DB
	dialect   Dialect
	storeType string

	mu           sync.Mutex
	running      bool
	generation   int64
	lastModified time.Time
}

// NewSQLStore opens the database, applies migrations and verifies
// connectivity once. driverName is "pgx" for PostgreSQL or the
// build-selected SQLite driver.
func NewSQLStore(driverName, dsn string, dialect Dialect) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// SQLite benefits from a single writer connection
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	if err := ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	storeType := "embedded SQLite metadata store"
	if dialect == DialectPostgres {
		storeType = "persistent PostgreSQL metadata store"
	}
	return &SQLStore{db: db, dialect: dialect, storeType: storeType, running: true}, nil
}

// q rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ready gates every operation: when a previous call marked the store
// down, one ping decides between recovery and ErrStoreUnavailable. No
// unbounded retry loops.
func (s *SQLStore) ready(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return nil
	}

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

// classify maps driver errors onto the store taxonomy, flipping the
// running flag on connection failures.
func (s *SQLStore) classify(err error) error {
	if err == nil {
		return nil
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", types.ErrConstraintViolation, err)
	}
	if isConnectionFailure(err) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}
	return err
}

func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

func (s *SQLStore) currentGeneration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *SQLStore) touch() {
	s.mu.Lock()
	s.lastModified = time.Now()
	s.mu.Unlock()
}

func (s *SQLStore) UpsertProduct(ctx context.Context, rec *types.DataProductMetadata) (uuid.UUID, types.IngestOutcome, error) {
	if err := rec.Validate(); err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := s.ready(ctx); err != nil {
		return uuid.Nil, "", err
	}

	data, err := json.Marshal(rec.Document)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("%w: encoding document: %v", types.ErrValidation, err)
	}

	var (
		storedUID  string
		storedHash string
	)
	// Path-born records match on their volume path; pathless document
	// ingests match on content hash among pathless rows only, so a
	// copied directory never collides with a posted document.
	query := "SELECT uid, json_hash FROM data_products WHERE dataproduct_file = ?"
	key := rec.DataProductFile
	if key == "" {
		query = "SELECT uid, json_hash FROM data_products WHERE json_hash = ? AND dataproduct_file = ''"
		key = rec.ContentHash
	}
	err = s.db.QueryRowContext(ctx, s.q(query), key).Scan(&storedUID, &storedHash)
	gen := s.currentGeneration()

	switch {
	case err == sql.ErrNoRows:
		insert := `
			INSERT INTO data_products
				(uid, execution_block, data, json_hash, dataproduct_file, metadata_file, date_created, data_store, generation, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		`
		if _, err := s.db.ExecContext(ctx, s.q(insert),
			rec.UID.String(), rec.ExecutionBlock, string(data), rec.ContentHash,
			rec.DataProductFile, rec.MetadataFile, rec.DateCreated, rec.DataStore, gen); err != nil {
			return uuid.Nil, "", s.classify(err)
		}
		s.touch()
		return rec.UID, types.OutcomeCreated, nil

	case err != nil:
		return uuid.Nil, "", s.classify(err)
	}

	uid, err := uuid.Parse(storedUID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("corrupt uid in store: %w", err)
	}

	if storedHash == rec.ContentHash {
		mark := "UPDATE data_products SET generation = ? WHERE uid = ?"
		if _, err := s.db.ExecContext(ctx, s.q(mark), gen, storedUID); err != nil {
			return uuid.Nil, "", s.classify(err)
		}
		return uid, types.OutcomeUnchanged, nil
	}

	update := `
		UPDATE data_products
		SET execution_block = ?, data = ?, json_hash = ?, metadata_file = ?,
		    date_created = ?, data_store = ?, generation = ?, updated_at = CURRENT_TIMESTAMP
		WHERE uid = ?
	`
	if _, err := s.db.ExecContext(ctx, s.q(update),
		rec.ExecutionBlock, string(data), rec.ContentHash, rec.MetadataFile,
		rec.DateCreated, rec.DataStore, gen, storedUID); err != nil {
		return uuid.Nil, "", s.classify(err)
	}
	s.touch()
	return uid, types.OutcomeUpdated, nil
}

const productColumns = "uid, execution_block, data, json_hash, dataproduct_file, metadata_file, date_created, data_store"

func scanProduct(scan func(dest ...any) error) (*types.DataProductMetadata, error) {
	var (
		rec     types.DataProductMetadata
		uidStr  string
		rawData string
	)
	if err := scan(&uidStr, &rec.ExecutionBlock, &rawData, &rec.ContentHash,
		&rec.DataProductFile, &rec.MetadataFile, &rec.DateCreated, &rec.DataStore); err != nil {
		return nil, err
	}

	uid, err := uuid.Parse(uidStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt uid in store: %w", err)
	}
	rec.UID = uid
	rec.ContentHash = strings.TrimSpace(rec.ContentHash) // CHAR(64) pads on PostgreSQL

	if err := json.Unmarshal([]byte(rawData), &rec.Document); err != nil {
		return nil, fmt.Errorf("corrupt document in store: %w", err)
	}
	rec.FlattenedFields = metadata.FlattenedRecord(&rec)
	return &rec, nil
}

func (s *SQLStore) GetProduct(ctx context.Context, uid uuid.UUID) (*types.DataProductMetadata, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		s.q("SELECT "+productColumns+" FROM data_products WHERE uid = ?"), uid.String())
	rec, err := scanProduct(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: data product %s", types.ErrNotFound, uid)
	}
	if err != nil {
		return nil, s.classify(err)
	}
	return rec, nil
}

func (s *SQLStore) ListProducts(ctx context.Context) ([]*types.DataProductMetadata, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+productColumns+" FROM data_products ORDER BY date_created DESC, uid")
	if err != nil {
		return nil, s.classify(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*types.DataProductMetadata, 0)
	for rows.Next() {
		rec, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM data_products").Scan(&n); err != nil {
		return 0, s.classify(err)
	}
	return n, nil
}

func (s *SQLStore) BeginReindex(ctx context.Context) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.generation++
	s.mu.Unlock()
	return nil
}

func (s *SQLStore) CompleteReindex(ctx context.Context) ([]uuid.UUID, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	gen := s.currentGeneration()

	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT uid FROM data_products WHERE generation < ?"), gen)
	if err != nil {
		return nil, s.classify(err)
	}
	var swept []uuid.UUID
	for rows.Next() {
		var uidStr string
		if err := rows.Scan(&uidStr); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if uid, err := uuid.Parse(uidStr); err == nil {
			swept = append(swept, uid)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}

	if len(swept) > 0 {
		if _, err := s.db.ExecContext(ctx,
			s.q("DELETE FROM data_products WHERE generation < ?"), gen); err != nil {
			return nil, s.classify(err)
		}
		s.touch()
	}
	return swept, nil
}

func (s *SQLStore) UpsertAnnotation(ctx context.Context, a *types.Annotation) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if err := s.ready(ctx); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	if a.AnnotationID == 0 {
		insert := `
			INSERT INTO annotations (data_product_uid, annotation_text, user_principal_name, timestamp_created, timestamp_modified)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`
		var id int64
		if err := s.db.QueryRowContext(ctx, s.q(insert),
			a.DataProductUID, a.AnnotationText, a.UserPrincipalName, now, now).Scan(&id); err != nil {
			return 0, s.classify(err)
		}
		a.AnnotationID = id
		a.TimestampCreated = now
		a.TimestampModified = now
		return id, nil
	}

	update := `
		UPDATE annotations
		SET annotation_text = ?, user_principal_name = ?, timestamp_modified = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, s.q(update),
		a.AnnotationText, a.UserPrincipalName, now, a.AnnotationID)
	if err != nil {
		return 0, s.classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, fmt.Errorf("%w: annotation %d", types.ErrNotFound, a.AnnotationID)
	}
	a.TimestampModified = now
	return a.AnnotationID, nil
}

const annotationColumns = "id, data_product_uid, annotation_text, user_principal_name, timestamp_created, timestamp_modified"

func (s *SQLStore) GetAnnotation(ctx context.Context, annotationID int64) (*types.Annotation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	var a types.Annotation
	err := s.db.QueryRowContext(ctx,
		s.q("SELECT "+annotationColumns+" FROM annotations WHERE id = ?"), annotationID).
		Scan(&a.AnnotationID, &a.DataProductUID, &a.AnnotationText,
			&a.UserPrincipalName, &a.TimestampCreated, &a.TimestampModified)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: annotation %d", types.ErrNotFound, annotationID)
	}
	if err != nil {
		return nil, s.classify(err)
	}
	return &a, nil
}

func (s *SQLStore) GetAnnotations(ctx context.Context, dataProductUID string) ([]*types.Annotation, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		s.q("SELECT "+annotationColumns+" FROM annotations WHERE data_product_uid = ? ORDER BY id"), dataProductUID)
	if err != nil {
		return nil, s.classify(err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*types.Annotation, 0)
	for rows.Next() {
		var a types.Annotation
		if err := rows.Scan(&a.AnnotationID, &a.DataProductUID, &a.AnnotationText,
			&a.UserPrincipalName, &a.TimestampCreated, &a.TimestampModified); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLStore) Status(ctx context.Context) types.StoreStatus {
	s.mu.Lock()
	running := s.running
	last := s.lastModified
	s.mu.Unlock()

	status := types.StoreStatus{
		StoreType:           s.storeType,
		Running:             running,
		SupportsAnnotations: true,
		LastModified:        last,
	}
	if running {
		if n, err := s.Count(ctx); err == nil {
			status.ProductCount = n
		} else {
			status.Running = false
		}
	}
	return status
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
