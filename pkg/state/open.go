package state

import (
	"context"
	"fmt"

	"github.com/ncolesummers/request-decomposition/pkg/config"
	"github.com/ncolesummers/request-decomposition/pkg/domain"
	"github.com/ncolesummers/request-decomposition/pkg/observability"
)

// Open creates the GraphStore selected by cfg.Type
func Open(cfg config.StorageConfig, logger *observability.StructuredLogger) (domain.GraphStore, error) {
	ctx := context.Background()

	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "file", "":
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Debug(ctx, "Opened file store", map[string]interface{}{"path": cfg.Path})
		}
		return store, nil
	case "badger":
		bcfg := BadgerConfig{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
			GCInterval: cfg.GCIntervalDuration(),
		}
		if logger != nil {
			bcfg.Logger = logger.WithComponent("badger").Zap()
		}
		store, err := NewBadgerStore(bcfg)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			logger.Debug(ctx, "Opened badger store", map[string]interface{}{
				"path":        cfg.Path,
				"sync_writes": cfg.SyncWrites,
			})
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
