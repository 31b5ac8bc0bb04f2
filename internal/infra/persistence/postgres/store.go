// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics for fresh stores. Text is stored in the server
// encoding (UTF-8), the documented equivalent of the legacy UTF-16le files.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/tracecore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS annotation_key (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		parent_id BIGINT REFERENCES annotation_key(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS location (
		id BIGINT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS location_annotation (
		id BIGINT PRIMARY KEY,
		location_id BIGINT NOT NULL REFERENCES location(id) ON DELETE CASCADE,
		key_id BIGINT NOT NULL REFERENCES annotation_key(id) ON DELETE CASCADE,
		value TEXT NOT NULL,
		UNIQUE(location_id, key_id)
	)`,
	`CREATE TABLE IF NOT EXISTS analysis (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		doc_uri TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS storage_type (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		format TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data (
		id BIGINT PRIMARY KEY,
		location_id BIGINT NOT NULL REFERENCES location(id) ON DELETE CASCADE,
		type_id BIGINT NOT NULL REFERENCES storage_type(id) ON DELETE CASCADE,
		analysis_id BIGINT REFERENCES analysis(id) ON DELETE CASCADE,
		metadata_uri TEXT,
		uri TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_annotation (
		id BIGINT PRIMARY KEY,
		data_id BIGINT NOT NULL REFERENCES data(id) ON DELETE CASCADE,
		key_id BIGINT NOT NULL REFERENCES annotation_key(id) ON DELETE CASCADE,
		value TEXT NOT NULL
	)`,
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), applies the schema, seeds the storage-type catalog, and
// hydrates the in-memory store from existing rows.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies fn within a transaction, then snapshots to
// Postgres. If the snapshot write fails, the in-memory commit is rolled
// back so memory and the database never diverge.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx memory.Transaction) error) (memory.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		s.ImportState(before)
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, ddl := range schemaDDL {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	for _, st := range []domain.StorageType{
		{ID: 1, Name: domain.StorageArray, Format: domain.StorageArray},
		{ID: 2, Name: domain.StorageTable, Format: domain.StorageTable},
		{ID: 3, Name: domain.StorageValue, Format: domain.StorageValue},
		{ID: 4, Name: domain.StorageLabel, Format: domain.StorageLabel},
	} {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO storage_type (id, name, format) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			st.ID, st.Name, st.Format,
		); err != nil {
			return fmt.Errorf("seed storage_type: %w", err)
		}
	}
	return nil
}

//nolint:gocyclo // row scanning over seven tables is repetitive but flat.
func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		AnnotationKeys:      map[int64]domain.AnnotationKey{},
		Locations:           map[int64]domain.Location{},
		LocationAnnotations: map[int64]domain.LocationAnnotation{},
		Analyses:            map[int64]domain.Analysis{},
		StorageTypes:        map[int64]domain.StorageType{},
		DataRecords:         map[int64]domain.DataRecord{},
		DataAnnotations:     map[int64]domain.DataAnnotation{},
	}

	if err := scanRows(ctx, db, `SELECT id, name, parent_id FROM annotation_key`, func(rows *sql.Rows) error {
		var key domain.AnnotationKey
		var parent sql.NullInt64
		if err := rows.Scan(&key.ID, &key.Name, &parent); err != nil {
			return err
		}
		if parent.Valid {
			key.ParentID = &parent.Int64
		}
		snapshot.AnnotationKeys[key.ID] = key
		return nil
	}); err != nil {
		return memory.Snapshot{}, fmt.Errorf("load annotation_key: %w", err)
	}
	if err := scanRows(ctx, db, `SELECT id FROM location`, func(rows *sql.Rows) error {
		var location domain.Location
		if err := rows.Scan(&location.ID); err != nil {
			return err
		}
		snapshot.Locations[location.ID] = location
		return nil
	}); err != nil {
		return memory.Snapshot{}, fmt.Errorf("load location: %w", err)
	}
	if err := scanRows(ctx, db, `SELECT id, location_id, key_id, value FROM location_annotation`, func(rows *sql.Rows) error {
		var ann domain.LocationAnnotation
		if err := rows.Scan(&ann.ID, &ann.LocationID, &ann.KeyID, &ann.Value); err != nil {
			return err
		}
		snapshot.LocationAnnotations[ann.ID] = ann
		return nil
	}); err != nil {
		return memory.Snapshot{}, fmt.Errorf("load location_annotation: %w", err)
	}
	if err := scanRows(ctx, db, `SELECT id, name, doc_uri FROM analysis`, func(rows *sql.Rows) error {
		var analysis domain.Analysis
		if err := rows.Scan(&analysis.ID, &analysis.Name, &analysis.DocURI); err != nil {
			return err
		}
		snapshot.Analyses[analysis.ID] = analysis
		return nil
	}); err != nil {
		return memory.Snapshot{}, fmt.Errorf("load analysis: %w", err)
	}
	if err := scanRows(ctx, db, `SELECT id, name, format FROM storage_type`, func(rows *sql.Rows) error {
		var st domain.StorageType
		if err := rows.Scan(&st.ID, &st.Name, &st.Format); err != nil {
			return err
		}
		snapshot.StorageTypes[st.ID] = st
		return nil
	}); err != nil {
		return memory.Snapshot{}, fmt.Errorf("load storage_type: %w", err)
	}
	if err := scanRows(ctx, db, `SELECT id, location_id, type_id, analysis_id, metadata_uri, uri FROM data`, func(rows *sql.Rows) error {
		var record domain.DataRecord
		var analysis sql.NullInt64
		var metadata sql.NullString
		if err := rows.Scan(&record.ID, &record.LocationID, &record.TypeID, &analysis, &metadata, &record.URI); err != nil {
			return err
		}
		if analysis.Valid {
			record.AnalysisID = &analysis.Int64
		}
		if metadata.Valid {
			record.MetadataURI = metadata.String
		}
		snapshot.DataRecords[record.ID] = record
		return nil
	}); err != nil {
		return memory.Snapshot{}, fmt.Errorf("load data: %w", err)
	}
	if err := scanRows(ctx, db, `SELECT id, data_id, key_id, value FROM data_annotation`, func(rows *sql.Rows) error {
		var ann domain.DataAnnotation
		if err := rows.Scan(&ann.ID, &ann.DataID, &ann.KeyID, &ann.Value); err != nil {
			return err
		}
		snapshot.DataAnnotations[ann.ID] = ann
		return nil
	}); err != nil {
		return memory.Snapshot{}, fmt.Errorf("load data_annotation: %w", err)
	}

	return snapshot, nil
}

func scanRows(ctx context.Context, db *sql.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// persist runs with s.mu held by RunInTransaction.
func (s *Store) persist(ctx context.Context) (retErr error) {
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"data_annotation", "location_annotation", "data", "annotation_key", "location", "analysis", "storage_type"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			retErr = fmt.Errorf("clear %s: %w", table, err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.StorageTypes) {
		st := snapshot.StorageTypes[id]
		if _, err := tx.ExecContext(ctx, `INSERT INTO storage_type (id, name, format) VALUES ($1, $2, $3)`, st.ID, st.Name, st.Format); err != nil {
			retErr = fmt.Errorf("insert storage_type: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.Locations) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO location (id) VALUES ($1)`, id); err != nil {
			retErr = fmt.Errorf("insert location: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.Analyses) {
		analysis := snapshot.Analyses[id]
		if _, err := tx.ExecContext(ctx, `INSERT INTO analysis (id, name, doc_uri) VALUES ($1, $2, $3)`, analysis.ID, analysis.Name, analysis.DocURI); err != nil {
			retErr = fmt.Errorf("insert analysis: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.AnnotationKeys) {
		key := snapshot.AnnotationKeys[id]
		if _, err := tx.ExecContext(ctx, `INSERT INTO annotation_key (id, name, parent_id) VALUES ($1, $2, $3)`, key.ID, key.Name, nullableID(key.ParentID)); err != nil {
			retErr = fmt.Errorf("insert annotation_key: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.DataRecords) {
		record := snapshot.DataRecords[id]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data (id, location_id, type_id, analysis_id, metadata_uri, uri) VALUES ($1, $2, $3, $4, $5, $6)`,
			record.ID, record.LocationID, record.TypeID, nullableID(record.AnalysisID), nullableString(record.MetadataURI), record.URI,
		); err != nil {
			retErr = fmt.Errorf("insert data: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.LocationAnnotations) {
		ann := snapshot.LocationAnnotations[id]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO location_annotation (id, location_id, key_id, value) VALUES ($1, $2, $3, $4)`,
			ann.ID, ann.LocationID, ann.KeyID, ann.Value,
		); err != nil {
			retErr = fmt.Errorf("insert location_annotation: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.DataAnnotations) {
		ann := snapshot.DataAnnotations[id]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_annotation (id, data_id, key_id, value) VALUES ($1, $2, $3, $4)`,
			ann.ID, ann.DataID, ann.KeyID, ann.Value,
		); err != nil {
			retErr = fmt.Errorf("insert data_annotation: %w", err)
			return retErr
		}
	}
	return tx.Commit()
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

// nullableString keeps an absent metadata_uri as NULL rather than ''.
func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
