package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/ncolesummers/request-decomposition/pkg/domain"
)

// BadgerConfig holds configuration for a BadgerDB-backed store
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM, for tests.
	InMemory bool

	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *zap.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	GCDiscardRatio float64
}

// InMemoryBadgerConfig returns configuration for an ephemeral database
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts zap to BadgerDB's Logger interface
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// BadgerStore is a GraphStore on an embedded BadgerDB. Graphs live under
// "graph/<id>" and the vocabulary under "vocabulary".
type BadgerStore struct {
	db     *badger.DB
	logger *zap.Logger

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

// NewBadgerStore opens the database and starts value log GC when configured
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{logger: logger.Sugar()})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}

	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing to collect
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log GC error", zap.Error(err))
			}
		}
	}
}

// Save saves the graph
func (s *BadgerStore) Save(ctx context.Context, graph *domain.RequestGraph) error {
	if err := requireID("save", graph); err != nil {
		return err
	}

	data, err := domain.EncodeGraph(graph)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(graphKey(graph.ID)), data)
	})
}

// Load loads a graph by ID
func (s *BadgerStore) Load(ctx context.Context, graphID string) (*domain.RequestGraph, error) {
	var graph *domain.RequestGraph
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(graphKey(graphID)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			g, err := domain.DecodeGraph(val)
			graph = g
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.NewNotFound("load", graphID, "graph not found")
	}
	if err != nil {
		return nil, err
	}
	return graph, nil
}

// Delete removes a graph
func (s *BadgerStore) Delete(ctx context.Context, graphID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(graphKey(graphID))
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.NewNotFound("delete", graphID, "graph not found")
	}
	return err
}

// List scans the graph prefix and filters the results
func (s *BadgerStore) List(ctx context.Context, filter domain.GraphFilter) ([]*domain.RequestGraph, error) {
	var graphs []*domain.RequestGraph
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(graphKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				g, err := domain.DecodeGraph(val)
				if err != nil {
					return fmt.Errorf("corrupt graph at %s: %w", item.Key(), err)
				}
				graphs = append(graphs, g)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applyFilter(graphs, filter), nil
}

// SaveVocabulary stores the encoded vocabulary
func (s *BadgerStore) SaveVocabulary(ctx context.Context, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(vocabularyKey), data)
	})
}

// LoadVocabulary returns the encoded vocabulary or nil
func (s *BadgerStore) LoadVocabulary(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(vocabularyKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	return data, err
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}
