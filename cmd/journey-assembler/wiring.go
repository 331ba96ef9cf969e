package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/journeys/internal/assembler"
	"github.com/MarcoPoloResearchLab/journeys/internal/config"
	"github.com/MarcoPoloResearchLab/journeys/internal/identity"
	"github.com/MarcoPoloResearchLab/journeys/internal/journeys"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// acquireDatabaseLock keeps a second process from mutating the same identity graph.
func acquireDatabaseLock(databasePath string) (*flock.Flock, error) {
	lock := flock.New(databasePath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("database %s is in use by another journey-assembler process", databasePath)
	}
	return lock, nil
}

func newAssemblerService(appConfig config.AppConfig, db *gorm.DB, publisher assembler.BatchPublisher, logger *zap.Logger) (*assembler.Service, error) {
	store, err := assembler.NewStore(db, nil)
	if err != nil {
		return nil, err
	}
	resolver, err := identity.NewEngine(identity.Config{
		MinConfidence:           appConfig.MinConfidence,
		BehavioralAgreement:     appConfig.BehavioralAgreement,
		ProbabilisticMinSignals: appConfig.ProbabilisticMinSignals,
		BusinessLocation:        appConfig.BusinessLocation,
		IDProvider:              identity.NewUUIDProvider(),
	})
	if err != nil {
		return nil, err
	}
	journeyEngine, err := journeys.NewEngine(journeys.Config{
		B2CBoundary:      appConfig.B2CBoundary,
		B2BBoundary:      appConfig.B2BBoundary,
		Patterns:         appConfig.Patterns,
		BusinessLocation: appConfig.BusinessLocation,
		Workers:          appConfig.Workers,
		IDProvider:       journeys.NewUUIDProvider(),
	})
	if err != nil {
		return nil, err
	}
	return assembler.NewService(assembler.ServiceConfig{
		Resolver:       resolver,
		Assembler:      journeyEngine,
		Store:          store,
		Publisher:      publisher,
		Logger:         logger,
		BackupInterval: appConfig.BackupEveryTouchpoints,
	})
}
