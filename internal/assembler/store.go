package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opStoreSaveGraph      = "assembler.store.save_graph"
	opStoreLoadGraph      = "assembler.store.load_graph"
	opStoreAppendJourneys = "assembler.store.append_journeys"
	opStoreListJourneys   = "assembler.store.list_journeys"
	opStoreCountJourneys  = "assembler.store.count_journeys"
	opStoreSaveState      = "assembler.store.save_state"
	opStoreLoadState      = "assembler.store.load_state"

	columnCustomerID    = "customer_id"
	columnJourneyID     = "journey_id"
	columnKey           = "key"
	queryCustomerType   = "customer_type = ?"
	queryMinConfidence  = "confidence_score >= ?"
	orderNewestJourneys = "assembly_seq DESC"
	queryMaxSequence    = "COALESCE(MAX(assembly_seq), 0)"
	writeBatchSize      = 200

	// StateKeyLastBackup records when the graph was last persisted.
	StateKeyLastBackup = "last_backup_time"
	// StateKeyLastProcessing records when the last batch was assembled.
	StateKeyLastProcessing = "last_processing_time"
)

var errMissingDatabase = errors.New("database handle is required")

// JourneyFilter narrows journey listings.
type JourneyFilter struct {
	Limit         int
	CustomerType  touchpoint.CustomerType
	MinConfidence float64
}

// Store persists identity graph snapshots, assembled journeys and operational state in SQL.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore wraps a migrated gorm handle.
func NewStore(db *gorm.DB, clock func() time.Time) (*Store, error) {
	if db == nil {
		return nil, newServiceError(opStoreSaveGraph, reasonMissingDatabase, errMissingDatabase)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, now: clock}, nil
}

// SaveGraph upserts every entry of a graph snapshot.
func (s *Store) SaveGraph(ctx context.Context, entries []identity.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]GraphRecord, 0, len(entries))
	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			return newServiceError(opStoreSaveGraph, reasonEncodeFailed, err)
		}
		records = append(records, GraphRecord{
			CustomerID:       entry.CustomerID,
			CustomerData:     string(payload),
			TouchpointCount:  entry.TouchpointCount,
			UpdatedAtSeconds: entry.UpdatedAt.Unix(),
		})
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnCustomerID}},
			UpdateAll: true,
		}).
		CreateInBatches(&records, writeBatchSize).Error
	if err != nil {
		return newServiceError(opStoreSaveGraph, reasonQueryFailed, err)
	}
	return nil
}

// LoadGraph returns every persisted entry ordered by customer id.
func (s *Store) LoadGraph(ctx context.Context) ([]identity.Entry, error) {
	var records []GraphRecord
	if err := s.db.WithContext(ctx).Order(columnCustomerID).Find(&records).Error; err != nil {
		return nil, newServiceError(opStoreLoadGraph, reasonQueryFailed, err)
	}
	entries := make([]identity.Entry, 0, len(records))
	for _, record := range records {
		var entry identity.Entry
		if err := json.Unmarshal([]byte(record.CustomerData), &entry); err != nil {
			return nil, newServiceError(opStoreLoadGraph, reasonDecodeFailed, err)
		}
		if entry.CustomerID == "" {
			entry.CustomerID = record.CustomerID
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AppendJourneys stores newly assembled journeys. Re-appending a journey id replaces it
// and moves it to the end of the store-wide assembly sequence.
func (s *Store) AppendJourneys(ctx context.Context, assembled []journeys.Journey) error {
	if len(assembled) == 0 {
		return nil
	}
	assembledAt := s.now().UTC().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lastSequence int64
		if err := tx.Model(&JourneyRecord{}).Select(queryMaxSequence).Scan(&lastSequence).Error; err != nil {
			return newServiceError(opStoreAppendJourneys, reasonQueryFailed, err)
		}
		return appendJourneyRecords(tx, assembled, assembledAt, lastSequence)
	})
}

func appendJourneyRecords(tx *gorm.DB, assembled []journeys.Journey, assembledAt, lastSequence int64) error {
	records := make([]JourneyRecord, 0, len(assembled))
	for index, journey := range assembled {
		payload, err := json.Marshal(journey)
		if err != nil {
			return newServiceError(opStoreAppendJourneys, reasonEncodeFailed, err)
		}
		records = append(records, JourneyRecord{
			JourneyID:           journey.JourneyID,
			JourneyData:         string(payload),
			CustomerID:          journey.CustomerID,
			CustomerType:        string(journey.CustomerType),
			ConfidenceScore:     journey.ConfidenceScore,
			StartAtSeconds:      journey.StartTimestamp.Unix(),
			AssembledAtSeconds:  assembledAt,
			AssemblySequenceNum: lastSequence + int64(index) + 1,
		})
	}
	err := tx.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnJourneyID}},
			UpdateAll: true,
		}).
		CreateInBatches(&records, writeBatchSize).Error
	if err != nil {
		return newServiceError(opStoreAppendJourneys, reasonQueryFailed, err)
	}
	return nil
}

// ListJourneys returns the most recent journeys matching the filter, oldest first.
func (s *Store) ListJourneys(ctx context.Context, filter JourneyFilter) ([]journeys.Journey, error) {
	query := s.db.WithContext(ctx).Model(&JourneyRecord{})
	if filter.CustomerType != "" {
		query = query.Where(queryCustomerType, string(filter.CustomerType))
	}
	if filter.MinConfidence > 0 {
		query = query.Where(queryMinConfidence, filter.MinConfidence)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []JourneyRecord
	if err := query.Order(orderNewestJourneys).Find(&records).Error; err != nil {
		return nil, newServiceError(opStoreListJourneys, reasonQueryFailed, err)
	}
	slices.Reverse(records)

	listed := make([]journeys.Journey, 0, len(records))
	for _, record := range records {
		var journey journeys.Journey
		if err := json.Unmarshal([]byte(record.JourneyData), &journey); err != nil {
			return nil, newServiceError(opStoreListJourneys, reasonDecodeFailed, err)
		}
		listed = append(listed, journey)
	}
	return listed, nil
}

// CountJourneys returns the number of stored journeys.
func (s *Store) CountJourneys(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&JourneyRecord{}).Count(&count).Error; err != nil {
		return 0, newServiceError(opStoreCountJourneys, reasonQueryFailed, err)
	}
	return count, nil
}

// SaveState upserts an operational key/value pair.
func (s *Store) SaveState(ctx context.Context, key, value string) error {
	record := StateRecord{Key: key, Value: value, UpdatedAtSeconds: s.now().UTC().Unix()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: columnKey}},
			UpdateAll: true,
		}).
		Create(&record).Error
	if err != nil {
		return newServiceError(opStoreSaveState, reasonQueryFailed, err)
	}
	return nil
}

// LoadState returns the stored value for key and whether it exists.
func (s *Store) LoadState(ctx context.Context, key string) (string, bool, error) {
	var record StateRecord
	err := s.db.WithContext(ctx).Where(columnKey+" = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, newServiceError(opStoreLoadState, reasonQueryFailed, err)
	}
	return record.Value, true, nil
}
