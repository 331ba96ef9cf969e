package assembler

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequentialIDProvider struct {
	mu     sync.Mutex
	prefix string
	next   int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("%s_%03d", p.prefix, p.next), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []BatchEvent
}

func (p *recordingPublisher) PublishBatch(event BatchEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []BatchEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]BatchEvent(nil), p.events...)
}

func fixedClock() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "assembler.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&GraphRecord{}, &JourneyRecord{}, &StateRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func mustStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()
	store, err := NewStore(db, fixedClock)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func mustService(t *testing.T, store Persistence, publisher BatchPublisher, backupInterval int) *Service {
	t.Helper()
	resolver, err := identity.NewEngine(identity.Config{IDProvider: &sequentialIDProvider{prefix: "customer"}})
	if err != nil {
		t.Fatalf("failed to build identity engine: %v", err)
	}
	assembler, err := journeys.NewEngine(journeys.Config{IDProvider: &sequentialIDProvider{prefix: "journey"}})
	if err != nil {
		t.Fatalf("failed to build journey engine: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Resolver:       resolver,
		Assembler:      assembler,
		Store:          store,
		Publisher:      publisher,
		Clock:          fixedClock,
		Logger:         zap.NewNop(),
		BackupInterval: backupInterval,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}
