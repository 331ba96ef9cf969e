package assembler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/MarcoPoloResearchLab/journeys/internal/touchpoint"
	"go.uber.org/zap"
)

const (
	opServiceNew          = "assembler.service.new"
	opRestore             = "assembler.restore"
	opResolveAndRegister  = "assembler.resolve_and_register"
	opAssembleBatch       = "assembler.assemble_batch"
	opListJourneys        = "assembler.list_journeys"
	opStatus              = "assembler.status"
	opBackup              = "assembler.backup"
	defaultBackupInterval = 100
)

var (
	errMissingResolver  = errors.New("identity engine is required")
	errMissingAssembler = errors.New("journey engine is required")
	errMissingStore     = errors.New("store is required")
	noOpLogger          = zap.NewNop()
)

// Persistence is the storage surface the service needs.
type Persistence interface {
	SaveGraph(ctx context.Context, entries []identity.Entry) error
	LoadGraph(ctx context.Context) ([]identity.Entry, error)
	AppendJourneys(ctx context.Context, assembled []journeys.Journey) error
	ListJourneys(ctx context.Context, filter JourneyFilter) ([]journeys.Journey, error)
	CountJourneys(ctx context.Context) (int64, error)
	SaveState(ctx context.Context, key, value string) error
	LoadState(ctx context.Context, key string) (string, bool, error)
}

// BatchPublisher is notified after every assembled batch.
type BatchPublisher interface {
	PublishBatch(event BatchEvent)
}

// BatchEvent summarizes one assembled batch.
type BatchEvent struct {
	JourneyIDs  []string
	CustomerIDs []string
	Touchpoints int
	AssembledAt time.Time
}

// ServiceConfig describes the dependencies of the assembler service.
type ServiceConfig struct {
	Resolver       *identity.Engine
	Assembler      *journeys.Engine
	Store          Persistence
	Publisher      BatchPublisher
	Clock          func() time.Time
	Logger         *zap.Logger
	BackupInterval int
}

// Service owns one identity graph and one touchpoint buffer.
// Resolution and graph mutation run under a single lock, one touchpoint at a time.
type Service struct {
	resolver       *identity.Engine
	assembler      *journeys.Engine
	store          Persistence
	publisher      BatchPublisher
	clock          func() time.Time
	logger         *zap.Logger
	backupInterval int64

	mu                 sync.Mutex
	graph              *identity.Graph
	buffer             []touchpoint.Touchpoint
	processingEnabled  bool
	registered         int64
	levelCounts        map[identity.ConfidenceLevel]int64
	methodCounts       map[identity.Method]int64
	lastProcessingTime time.Time
	lastBackupTime     time.Time
	snapshotGeneration uint64

	// backupMu orders snapshot writes; savedGeneration is the newest snapshot persisted.
	backupMu        sync.Mutex
	savedGeneration uint64
}

// NewService constructs the service with an empty graph; call Restore to load persisted state.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Resolver == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDependency, errMissingResolver)
	}
	if cfg.Assembler == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDependency, errMissingAssembler)
	}
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDependency, errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	backupInterval := cfg.BackupInterval
	if backupInterval <= 0 {
		backupInterval = defaultBackupInterval
	}
	return &Service{
		resolver:          cfg.Resolver,
		assembler:         cfg.Assembler,
		store:             cfg.Store,
		publisher:         cfg.Publisher,
		clock:             clock,
		logger:            logger,
		backupInterval:    int64(backupInterval),
		graph:             identity.NewGraph(),
		processingEnabled: true,
		levelCounts:       make(map[identity.ConfidenceLevel]int64),
		methodCounts:      make(map[identity.Method]int64),
	}, nil
}

// Restore replaces the in-memory graph with the persisted snapshot.
func (s *Service) Restore(ctx context.Context) (int, error) {
	entries, err := s.store.LoadGraph(ctx)
	if err != nil {
		s.logError(opRestore, reasonQueryFailed, err)
		return 0, err
	}
	var lastBackup time.Time
	if value, ok, err := s.store.LoadState(ctx, StateKeyLastBackup); err == nil && ok {
		if parsed, parseErr := time.Parse(time.RFC3339Nano, value); parseErr == nil {
			lastBackup = parsed
		}
	}

	s.mu.Lock()
	s.graph = identity.NewGraphFromEntries(entries)
	s.lastBackupTime = lastBackup
	restored := s.graph.Len()
	s.mu.Unlock()

	s.logger.Info("identity graph restored", zap.Int("customers", restored))
	return restored, nil
}

// ResolveAndRegister validates a touchpoint, resolves its customer, records it in the graph and
// buffers it for the next batch. The touchpoint is stamped with the resolved customer id.
func (s *Service) ResolveAndRegister(ctx context.Context, tp touchpoint.Touchpoint) (identity.Match, error) {
	if err := tp.Validate(); err != nil {
		return identity.Match{}, newServiceError(opResolveAndRegister, reasonInvalidTouchpoint, err)
	}

	s.mu.Lock()
	if !s.processingEnabled {
		s.mu.Unlock()
		return identity.Match{}, newServiceError(opResolveAndRegister, reasonProcessingDisabled, ErrProcessingDisabled)
	}
	match, err := s.resolver.Resolve(tp, s.graph)
	if err != nil {
		s.mu.Unlock()
		s.logError(opResolveAndRegister, reasonResolveFailed, err, zap.String("touchpoint_id", tp.TouchpointID))
		return identity.Match{}, newServiceError(opResolveAndRegister, reasonResolveFailed, err)
	}
	tp.CustomerID = match.CustomerID
	tp.ResolutionConfidence = match.ConfidenceScore
	s.graph.Update(tp, match, s.clock().UTC())
	s.buffer = append(s.buffer, tp)
	s.registered++
	s.levelCounts[match.ConfidenceLevel]++
	for _, method := range match.MatchingIdentifiers {
		s.methodCounts[method]++
	}
	var snapshot []identity.Entry
	var generation uint64
	if s.registered%s.backupInterval == 0 {
		snapshot, generation = s.snapshotLocked()
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.backup(ctx, generation, snapshot)
	}
	return match, nil
}

// AssembleBatch drains the buffer and assembles it into journeys. When assembly fails the drained
// touchpoints are put back in front of anything buffered meanwhile, so the caller may retry.
func (s *Service) AssembleBatch(ctx context.Context) ([]journeys.Journey, error) {
	s.mu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return []journeys.Journey{}, nil
	}
	s.logger.Info("processing touchpoint batch", zap.Int("touchpoints", len(batch)))

	assembled, err := s.assembler.Assemble(ctx, batch)
	if err != nil {
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		s.mu.Unlock()
		s.logError(opAssembleBatch, reasonAssemblyFailed, err, zap.Int("touchpoints", len(batch)))
		return nil, newServiceError(opAssembleBatch, reasonAssemblyFailed, err)
	}

	now := s.clock().UTC()
	s.mu.Lock()
	for _, journey := range assembled {
		s.graph.SetCustomerType(journey.CustomerID, journey.CustomerType)
	}
	s.lastProcessingTime = now
	snapshot, generation := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.AppendJourneys(ctx, assembled); err != nil {
		s.logError(opAssembleBatch, reasonPersistFailed, err, zap.Int("journeys", len(assembled)))
	}
	if err := s.store.SaveState(ctx, StateKeyLastProcessing, now.Format(time.RFC3339Nano)); err != nil {
		s.logError(opAssembleBatch, reasonPersistFailed, err)
	}
	s.backup(ctx, generation, snapshot)

	if s.publisher != nil {
		s.publisher.PublishBatch(newBatchEvent(assembled, len(batch), now))
	}
	s.logger.Info("assembled journeys", zap.Int("journeys", len(assembled)))
	return assembled, nil
}

// ListJourneys returns stored journeys matching the filter.
func (s *Service) ListJourneys(ctx context.Context, filter JourneyFilter) ([]journeys.Journey, error) {
	listed, err := s.store.ListJourneys(ctx, filter)
	if err != nil {
		s.logError(opListJourneys, reasonQueryFailed, err)
		return nil, err
	}
	return listed, nil
}

// SetProcessingEnabled toggles ingestion.
func (s *Service) SetProcessingEnabled(enabled bool) {
	s.mu.Lock()
	s.processingEnabled = enabled
	s.mu.Unlock()
	s.logger.Info("processing toggled", zap.Bool("enabled", enabled))
}

// ProcessingEnabled reports whether ingestion is accepted.
func (s *Service) ProcessingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processingEnabled
}

// Status describes the service for operators.
type Status struct {
	ProcessingEnabled   bool
	TotalCustomers      int
	TotalTouchpoints    int64
	TotalJourneys       int64
	BufferedTouchpoints int
	LastProcessingTime  time.Time
	LastBackupTime      time.Time
}

// Status reports graph, buffer and store totals.
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	status := Status{
		ProcessingEnabled:   s.processingEnabled,
		TotalCustomers:      s.graph.Len(),
		BufferedTouchpoints: len(s.buffer),
		LastProcessingTime:  s.lastProcessingTime,
		LastBackupTime:      s.lastBackupTime,
	}
	for _, entry := range s.graph.Snapshot() {
		status.TotalTouchpoints += entry.TouchpointCount
	}
	s.mu.Unlock()

	count, err := s.store.CountJourneys(ctx)
	if err != nil {
		s.logError(opStatus, reasonQueryFailed, err)
		return Status{}, err
	}
	status.TotalJourneys = count
	return status, nil
}

// snapshotLocked copies the graph and stamps it with a generation. Callers hold s.mu.
func (s *Service) snapshotLocked() ([]identity.Entry, uint64) {
	s.snapshotGeneration++
	return s.graph.Snapshot(), s.snapshotGeneration
}

// backup persists a snapshot unless a newer one was already written.
func (s *Service) backup(ctx context.Context, generation uint64, snapshot []identity.Entry) {
	s.backupMu.Lock()
	defer s.backupMu.Unlock()
	if generation <= s.savedGeneration {
		s.logger.Debug("skipping stale identity graph snapshot", zap.Uint64("generation", generation))
		return
	}
	if err := s.store.SaveGraph(ctx, snapshot); err != nil {
		s.logError(opBackup, reasonPersistFailed, err, zap.Int("customers", len(snapshot)))
		return
	}
	s.savedGeneration = generation
	backedUpAt := s.clock().UTC()
	if err := s.store.SaveState(ctx, StateKeyLastBackup, backedUpAt.Format(time.RFC3339Nano)); err != nil {
		s.logError(opBackup, reasonPersistFailed, err)
	}
	s.mu.Lock()
	s.lastBackupTime = backedUpAt
	s.mu.Unlock()
	s.logger.Debug("identity graph backed up", zap.Int("customers", len(snapshot)))
}

func newBatchEvent(assembled []journeys.Journey, touchpoints int, at time.Time) BatchEvent {
	event := BatchEvent{
		JourneyIDs:  make([]string, 0, len(assembled)),
		CustomerIDs: make([]string, 0, len(assembled)),
		Touchpoints: touchpoints,
		AssembledAt: at,
	}
	seen := make(map[string]bool, len(assembled))
	for _, journey := range assembled {
		event.JourneyIDs = append(event.JourneyIDs, journey.JourneyID)
		if !seen[journey.CustomerID] {
			seen[journey.CustomerID] = true
			event.CustomerIDs = append(event.CustomerIDs, journey.CustomerID)
		}
	}
	return event
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("assembler service error", attrs...)
}
