// Package sqlite persists the in-memory state into the legacy relational
// index schema. It snapshots the full state after every successful
// transaction, so an index file written here is readable by existing stores.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"tracecore/internal/infra/persistence/memory"
	"tracecore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store layers snapshot persistence over the in-memory store. Legacy index
// files are UTF-16le at rest; fresh files get the encoding pragma before any
// DDL runs, and every connection enforces foreign keys.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Table creation order satisfies the foreign keys; storage_type rows are
// seeded exactly once.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS annotation_key (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		parent_id INTEGER REFERENCES annotation_key(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS location (
		id INTEGER PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS location_annotation (
		id INTEGER PRIMARY KEY,
		location_id INTEGER NOT NULL REFERENCES location(id) ON DELETE CASCADE,
		key_id INTEGER NOT NULL REFERENCES annotation_key(id) ON DELETE CASCADE,
		value TEXT NOT NULL,
		UNIQUE(location_id, key_id)
	)`,
	`CREATE TABLE IF NOT EXISTS analysis (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		doc_uri TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS storage_type (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		format TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data (
		id INTEGER PRIMARY KEY,
		location_id INTEGER NOT NULL REFERENCES location(id) ON DELETE CASCADE,
		type_id INTEGER NOT NULL REFERENCES storage_type(id) ON DELETE CASCADE,
		analysis_id INTEGER REFERENCES analysis(id) ON DELETE CASCADE,
		metadata_uri TEXT,
		uri TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS data_annotation (
		id INTEGER PRIMARY KEY,
		data_id INTEGER NOT NULL REFERENCES data(id) ON DELETE CASCADE,
		key_id INTEGER NOT NULL REFERENCES annotation_key(id) ON DELETE CASCADE,
		value TEXT NOT NULL
	)`,
}

// NewStore opens (or creates) an index database at path and hydrates the
// in-memory store from it.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "index.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	// The pragma in the DSN makes the driver enable foreign keys on every
	// connection the pool opens, not just the one used during init.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := initSchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	ms := memory.NewStore(engine)
	s := &Store{Store: ms, db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	// The encoding pragma only takes effect on a database that has no
	// content yet, so it must run before the first CREATE TABLE, on the
	// same connection. Pin one so the pool cannot interleave.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("pin connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.ExecContext(ctx, `PRAGMA encoding = 'UTF-16le'`); err != nil {
		return fmt.Errorf("set encoding: %w", err)
	}
	for _, ddl := range schemaDDL {
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	for _, st := range []domain.StorageType{
		{ID: 1, Name: domain.StorageArray, Format: domain.StorageArray},
		{ID: 2, Name: domain.StorageTable, Format: domain.StorageTable},
		{ID: 3, Name: domain.StorageValue, Format: domain.StorageValue},
		{ID: 4, Name: domain.StorageLabel, Format: domain.StorageLabel},
	} {
		if _, err := conn.ExecContext(ctx,
			`INSERT INTO storage_type (id, name, format) SELECT ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM storage_type WHERE id = ?)`,
			st.ID, st.Name, st.Format, st.ID,
		); err != nil {
			return fmt.Errorf("seed storage_type: %w", err)
		}
	}
	return nil
}

//nolint:gocyclo // row scanning over seven tables is repetitive but flat.
func (s *Store) load() error {
	snapshot := memory.Snapshot{
		AnnotationKeys:      map[int64]domain.AnnotationKey{},
		Locations:           map[int64]domain.Location{},
		LocationAnnotations: map[int64]domain.LocationAnnotation{},
		Analyses:            map[int64]domain.Analysis{},
		StorageTypes:        map[int64]domain.StorageType{},
		DataRecords:         map[int64]domain.DataRecord{},
		DataAnnotations:     map[int64]domain.DataAnnotation{},
	}

	if err := s.scanRows(`SELECT id, name, parent_id FROM annotation_key`, func(rows *sql.Rows) error {
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
		return fmt.Errorf("load annotation_key: %w", err)
	}
	if err := s.scanRows(`SELECT id FROM location`, func(rows *sql.Rows) error {
		var location domain.Location
		if err := rows.Scan(&location.ID); err != nil {
			return err
		}
		snapshot.Locations[location.ID] = location
		return nil
	}); err != nil {
		return fmt.Errorf("load location: %w", err)
	}
	if err := s.scanRows(`SELECT id, location_id, key_id, value FROM location_annotation`, func(rows *sql.Rows) error {
		var ann domain.LocationAnnotation
		if err := rows.Scan(&ann.ID, &ann.LocationID, &ann.KeyID, &ann.Value); err != nil {
			return err
		}
		snapshot.LocationAnnotations[ann.ID] = ann
		return nil
	}); err != nil {
		return fmt.Errorf("load location_annotation: %w", err)
	}
	if err := s.scanRows(`SELECT id, name, doc_uri FROM analysis`, func(rows *sql.Rows) error {
		var analysis domain.Analysis
		if err := rows.Scan(&analysis.ID, &analysis.Name, &analysis.DocURI); err != nil {
			return err
		}
		snapshot.Analyses[analysis.ID] = analysis
		return nil
	}); err != nil {
		return fmt.Errorf("load analysis: %w", err)
	}
	if err := s.scanRows(`SELECT id, name, format FROM storage_type`, func(rows *sql.Rows) error {
		var st domain.StorageType
		if err := rows.Scan(&st.ID, &st.Name, &st.Format); err != nil {
			return err
		}
		snapshot.StorageTypes[st.ID] = st
		return nil
	}); err != nil {
		return fmt.Errorf("load storage_type: %w", err)
	}
	if err := s.scanRows(`SELECT id, location_id, type_id, analysis_id, metadata_uri, uri FROM data`, func(rows *sql.Rows) error {
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
		return fmt.Errorf("load data: %w", err)
	}
	if err := s.scanRows(`SELECT id, data_id, key_id, value FROM data_annotation`, func(rows *sql.Rows) error {
		var ann domain.DataAnnotation
		if err := rows.Scan(&ann.ID, &ann.DataID, &ann.KeyID, &ann.Value); err != nil {
			return err
		}
		snapshot.DataAnnotations[ann.ID] = ann
		return nil
	}); err != nil {
		return fmt.Errorf("load data_annotation: %w", err)
	}

	s.ImportState(snapshot)
	return nil
}

func (s *Store) scanRows(query string, scan func(*sql.Rows) error) error {
	rows, err := s.db.Query(query)
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
func (s *Store) persist() (retErr error) {
	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	// Children before parents so the immediate foreign keys hold row by row.
	for _, table := range []string{"data_annotation", "location_annotation", "data", "annotation_key", "location", "analysis", "storage_type"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			retErr = fmt.Errorf("clear %s: %w", table, err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.StorageTypes) {
		st := snapshot.StorageTypes[id]
		if _, err := tx.Exec(`INSERT INTO storage_type (id, name, format) VALUES (?, ?, ?)`, st.ID, st.Name, st.Format); err != nil {
			retErr = fmt.Errorf("insert storage_type: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.Locations) {
		if _, err := tx.Exec(`INSERT INTO location (id) VALUES (?)`, id); err != nil {
			retErr = fmt.Errorf("insert location: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.Analyses) {
		analysis := snapshot.Analyses[id]
		if _, err := tx.Exec(`INSERT INTO analysis (id, name, doc_uri) VALUES (?, ?, ?)`, analysis.ID, analysis.Name, analysis.DocURI); err != nil {
			retErr = fmt.Errorf("insert analysis: %w", err)
			return retErr
		}
	}
	// Ascending id order inserts parents before children.
	for _, id := range sortedIDs(snapshot.AnnotationKeys) {
		key := snapshot.AnnotationKeys[id]
		if _, err := tx.Exec(`INSERT INTO annotation_key (id, name, parent_id) VALUES (?, ?, ?)`, key.ID, key.Name, nullableID(key.ParentID)); err != nil {
			retErr = fmt.Errorf("insert annotation_key: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.DataRecords) {
		record := snapshot.DataRecords[id]
		if _, err := tx.Exec(
			`INSERT INTO data (id, location_id, type_id, analysis_id, metadata_uri, uri) VALUES (?, ?, ?, ?, ?, ?)`,
			record.ID, record.LocationID, record.TypeID, nullableID(record.AnalysisID), nullableString(record.MetadataURI), record.URI,
		); err != nil {
			retErr = fmt.Errorf("insert data: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.LocationAnnotations) {
		ann := snapshot.LocationAnnotations[id]
		if _, err := tx.Exec(
			`INSERT INTO location_annotation (id, location_id, key_id, value) VALUES (?, ?, ?, ?)`,
			ann.ID, ann.LocationID, ann.KeyID, ann.Value,
		); err != nil {
			retErr = fmt.Errorf("insert location_annotation: %w", err)
			return retErr
		}
	}
	for _, id := range sortedIDs(snapshot.DataAnnotations) {
		ann := snapshot.DataAnnotations[id]
		if _, err := tx.Exec(
			`INSERT INTO data_annotation (id, data_id, key_id, value) VALUES (?, ?, ?, ?)`,
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

// RunInTransaction applies fn within a transaction, then snapshots state to
// the index database. If the snapshot write fails, the in-memory commit is
// rolled back so memory and the index file never diverge.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx memory.Transaction) error) (memory.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		s.ImportState(before)
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
