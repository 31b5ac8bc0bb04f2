// Package memory provides the in-memory implementation of the core
// persistence store. Durable backends embed it and snapshot its state.
package memory

import (
	"context"
	"sort"
	"sync"

	"tracecore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// AnnotationKey aliases domain.AnnotationKey for in-memory persistence operations.
	AnnotationKey = domain.AnnotationKey
	// Location aliases domain.Location.
	Location = domain.Location
	// LocationAnnotation aliases domain.LocationAnnotation.
	LocationAnnotation = domain.LocationAnnotation
	// Analysis aliases domain.Analysis.
	Analysis = domain.Analysis
	// StorageType aliases domain.StorageType.
	StorageType = domain.StorageType
	// DataRecord aliases domain.DataRecord.
	DataRecord = domain.DataRecord
	// DataAnnotation aliases domain.DataAnnotation.
	DataAnnotation = domain.DataAnnotation
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Sequences tracks the last id handed out per entity type. Ids are never
// reused within a process lifetime, deletions included.
type Sequences struct {
	AnnotationKeys      int64 `json:"annotation_keys"`
	Locations           int64 `json:"locations"`
	LocationAnnotations int64 `json:"location_annotations"`
	Analyses            int64 `json:"analyses"`
	StorageTypes        int64 `json:"storage_types"`
	DataRecords         int64 `json:"data_records"`
	DataAnnotations     int64 `json:"data_annotations"`
}

type annPair struct {
	owner int64
	key   int64
}

type memoryState struct {
	keys                map[int64]AnnotationKey
	keyChildren         map[int64][]int64
	locations           map[int64]Location
	locationAnnotations map[int64]LocationAnnotation
	locationAnnByPair   map[annPair]int64
	analyses            map[int64]Analysis
	storageTypes        map[int64]StorageType
	storageTypeIDs      map[string]int64
	data                map[int64]DataRecord
	dataAnnotations     map[int64]DataAnnotation
	seq                 Sequences
}

// Snapshot captures a point-in-time clone of the store state. Derived indexes
// are rebuilt on import and not part of the snapshot.
type Snapshot struct {
	AnnotationKeys      map[int64]AnnotationKey      `json:"annotation_keys"`
	Locations           map[int64]Location           `json:"locations"`
	LocationAnnotations map[int64]LocationAnnotation `json:"location_annotations"`
	Analyses            map[int64]Analysis           `json:"analyses"`
	StorageTypes        map[int64]StorageType        `json:"storage_types"`
	DataRecords         map[int64]DataRecord         `json:"data_records"`
	DataAnnotations     map[int64]DataAnnotation     `json:"data_annotations"`
	Sequences           Sequences                    `json:"sequences"`
}

// seededStorageTypes returns the fixed catalog rows created at store boot.
func seededStorageTypes() []StorageType {
	return []StorageType{
		{ID: 1, Name: domain.StorageArray, Format: domain.StorageArray},
		{ID: 2, Name: domain.StorageTable, Format: domain.StorageTable},
		{ID: 3, Name: domain.StorageValue, Format: domain.StorageValue},
		{ID: 4, Name: domain.StorageLabel, Format: domain.StorageLabel},
	}
}

func newMemoryState() memoryState {
	state := memoryState{
		keys:                make(map[int64]AnnotationKey),
		keyChildren:         make(map[int64][]int64),
		locations:           make(map[int64]Location),
		locationAnnotations: make(map[int64]LocationAnnotation),
		locationAnnByPair:   make(map[annPair]int64),
		analyses:            make(map[int64]Analysis),
		storageTypes:        make(map[int64]StorageType),
		storageTypeIDs:      make(map[string]int64),
		data:                make(map[int64]DataRecord),
		dataAnnotations:     make(map[int64]DataAnnotation),
	}
	for _, st := range seededStorageTypes() {
		state.storageTypes[st.ID] = st
		state.storageTypeIDs[st.Name] = st.ID
		if st.ID > state.seq.StorageTypes {
			state.seq.StorageTypes = st.ID
		}
	}
	return state
}

func cloneAnnotationKey(k AnnotationKey) AnnotationKey {
	cp := k
	if k.ParentID != nil {
		parent := *k.ParentID
		cp.ParentID = &parent
	}
	return cp
}

func cloneDataRecord(d DataRecord) DataRecord {
	cp := d
	if d.AnalysisID != nil {
		analysis := *d.AnalysisID
		cp.AnalysisID = &analysis
	}
	return cp
}

func cloneLocation(l Location) Location                         { return l }
func cloneLocationAnnotation(a LocationAnnotation) LocationAnnotation { return a }
func cloneAnalysis(a Analysis) Analysis                         { return a }
func cloneStorageType(st StorageType) StorageType               { return st }
func cloneDataAnnotation(a DataAnnotation) DataAnnotation       { return a }

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		keys:                make(map[int64]AnnotationKey, len(s.keys)),
		keyChildren:         make(map[int64][]int64, len(s.keyChildren)),
		locations:           make(map[int64]Location, len(s.locations)),
		locationAnnotations: make(map[int64]LocationAnnotation, len(s.locationAnnotations)),
		locationAnnByPair:   make(map[annPair]int64, len(s.locationAnnByPair)),
		analyses:            make(map[int64]Analysis, len(s.analyses)),
		storageTypes:        make(map[int64]StorageType, len(s.storageTypes)),
		storageTypeIDs:      make(map[string]int64, len(s.storageTypeIDs)),
		data:                make(map[int64]DataRecord, len(s.data)),
		dataAnnotations:     make(map[int64]DataAnnotation, len(s.dataAnnotations)),
		seq:                 s.seq,
	}
	for id, k := range s.keys {
		cloned.keys[id] = cloneAnnotationKey(k)
	}
	for parent, children := range s.keyChildren {
		cloned.keyChildren[parent] = append([]int64(nil), children...)
	}
	for id, l := range s.locations {
		cloned.locations[id] = cloneLocation(l)
	}
	for id, a := range s.locationAnnotations {
		cloned.locationAnnotations[id] = cloneLocationAnnotation(a)
	}
	for pair, id := range s.locationAnnByPair {
		cloned.locationAnnByPair[pair] = id
	}
	for id, a := range s.analyses {
		cloned.analyses[id] = cloneAnalysis(a)
	}
	for id, st := range s.storageTypes {
		cloned.storageTypes[id] = cloneStorageType(st)
	}
	for name, id := range s.storageTypeIDs {
		cloned.storageTypeIDs[name] = id
	}
	for id, d := range s.data {
		cloned.data[id] = cloneDataRecord(d)
	}
	for id, a := range s.dataAnnotations {
		cloned.dataAnnotations[id] = cloneDataAnnotation(a)
	}
	return cloned
}

// Store provides an in-memory transactional store for the core schema.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
	}
}

// RulesEngine exposes the engine evaluated on every transaction commit.
func (s *Store) RulesEngine() *RulesEngine { return s.engine }

// ExportState returns a deep copy of the committed state for snapshotting.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// ImportState replaces the committed state with the provided snapshot,
// rebuilding derived indexes. Sequences advance to at least the highest
// imported id per entity so imported ids are never handed out again.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateFromSnapshot(snapshot)
}

func snapshotFromState(state memoryState) Snapshot {
	snapshot := Snapshot{
		AnnotationKeys:      make(map[int64]AnnotationKey, len(state.keys)),
		Locations:           make(map[int64]Location, len(state.locations)),
		LocationAnnotations: make(map[int64]LocationAnnotation, len(state.locationAnnotations)),
		Analyses:            make(map[int64]Analysis, len(state.analyses)),
		StorageTypes:        make(map[int64]StorageType, len(state.storageTypes)),
		DataRecords:         make(map[int64]DataRecord, len(state.data)),
		DataAnnotations:     make(map[int64]DataAnnotation, len(state.dataAnnotations)),
		Sequences:           state.seq,
	}
	for id, k := range state.keys {
		snapshot.AnnotationKeys[id] = cloneAnnotationKey(k)
	}
	for id, l := range state.locations {
		snapshot.Locations[id] = cloneLocation(l)
	}
	for id, a := range state.locationAnnotations {
		snapshot.LocationAnnotations[id] = cloneLocationAnnotation(a)
	}
	for id, a := range state.analyses {
		snapshot.Analyses[id] = cloneAnalysis(a)
	}
	for id, st := range state.storageTypes {
		snapshot.StorageTypes[id] = cloneStorageType(st)
	}
	for id, d := range state.data {
		snapshot.DataRecords[id] = cloneDataRecord(d)
	}
	for id, a := range state.dataAnnotations {
		snapshot.DataAnnotations[id] = cloneDataAnnotation(a)
	}
	return snapshot
}

func stateFromSnapshot(snapshot Snapshot) memoryState {
	state := newMemoryState()
	for id, st := range snapshot.StorageTypes {
		state.storageTypes[id] = cloneStorageType(st)
		state.storageTypeIDs[st.Name] = id
		if id > state.seq.StorageTypes {
			state.seq.StorageTypes = id
		}
	}
	for id, k := range snapshot.AnnotationKeys {
		state.keys[id] = cloneAnnotationKey(k)
	}
	for _, id := range sortedIDs(state.keys) {
		k := state.keys[id]
		if k.ParentID != nil {
			state.keyChildren[*k.ParentID] = append(state.keyChildren[*k.ParentID], id)
		}
	}
	for id, l := range snapshot.Locations {
		state.locations[id] = cloneLocation(l)
	}
	for id, a := range snapshot.LocationAnnotations {
		state.locationAnnotations[id] = cloneLocationAnnotation(a)
		state.locationAnnByPair[annPair{owner: a.LocationID, key: a.KeyID}] = id
	}
	for id, a := range snapshot.Analyses {
		state.analyses[id] = cloneAnalysis(a)
	}
	for id, d := range snapshot.DataRecords {
		state.data[id] = cloneDataRecord(d)
	}
	for id, a := range snapshot.DataAnnotations {
		state.dataAnnotations[id] = cloneDataAnnotation(a)
	}
	state.seq = maxSequences(snapshot.Sequences, observedSequences(state))
	return state
}

func observedSequences(state memoryState) Sequences {
	var seq Sequences
	for id := range state.keys {
		seq.AnnotationKeys = max(seq.AnnotationKeys, id)
	}
	for id := range state.locations {
		seq.Locations = max(seq.Locations, id)
	}
	for id := range state.locationAnnotations {
		seq.LocationAnnotations = max(seq.LocationAnnotations, id)
	}
	for id := range state.analyses {
		seq.Analyses = max(seq.Analyses, id)
	}
	for id := range state.storageTypes {
		seq.StorageTypes = max(seq.StorageTypes, id)
	}
	for id := range state.data {
		seq.DataRecords = max(seq.DataRecords, id)
	}
	for id := range state.dataAnnotations {
		seq.DataAnnotations = max(seq.DataAnnotations, id)
	}
	return seq
}

func maxSequences(a, b Sequences) Sequences {
	return Sequences{
		AnnotationKeys:      max(a.AnnotationKeys, b.AnnotationKeys),
		Locations:           max(a.Locations, b.Locations),
		LocationAnnotations: max(a.LocationAnnotations, b.LocationAnnotations),
		Analyses:            max(a.Analyses, b.Analyses),
		StorageTypes:        max(a.StorageTypes, b.StorageTypes),
		DataRecords:         max(a.DataRecords, b.DataRecords),
		DataAnnotations:     max(a.DataAnnotations, b.DataAnnotations),
	}
}

func sortedIDs[V any](m map[int64]V) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The copy is committed only if fn and the rules engine both succeed,
// so a failed cascade never leaves partial state behind.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the committed state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}
