package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vrpsolver/internal/config"
	"vrpsolver/internal/matrix"
	"vrpsolver/internal/solver"
	"vrpsolver/internal/store"
)

type Server struct {
	Store  store.Store
	Broker EventBroker
	Solver *solver.Service
	Config config.Config
	Log    *zap.Logger

	// background solves are bound to this context
	bg      context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closers []io.Closer
}

// New assembles a Server from ready dependencies.
func New(st store.Store, broker EventBroker, svc *solver.Service, cfg config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	bg, stop := context.WithCancel(context.Background())
	return &Server{Store: st, Broker: broker, Solver: svc, Config: cfg, Log: log, bg: bg, stop: stop}
}

// NewServer wires storage, events and the matrix provider from cfg. Without
// DATABASE_URL solutions live in memory; without REDIS_URL events and the
// matrix cache stay in process.
func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var closers []io.Closer

	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.DBMigrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		closers = append(closers, pg)
		st = pg
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll(closers)
			return nil, fmt.Errorf("redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		closers = append(closers, rdb)
	}

	var broker EventBroker = NewBroker()
	if rdb != nil {
		broker = NewRedisBroker(rdb, log.Named("broker"))
	}

	svc := solver.New(newProvider(cfg.Matrix, rdb, log), cfg.Solver, log.Named("solver"))
	s := New(st, broker, svc, cfg, log)
	s.closers = closers
	return s, nil
}

func newProvider(cfg config.Matrix, rdb *redis.Client, log *zap.Logger) matrix.Provider {
	var p matrix.Provider
	namespace := cfg.Provider
	switch cfg.Provider {
	case "haversine":
		p = matrix.Haversine{SpeedKph: cfg.SpeedKph}
	default:
		o := matrix.NewOSRM(matrix.OSRMConfig{
			BaseURL:     cfg.OSRMURL,
			Profile:     cfg.Profile,
			Timeout:     cfg.Timeout,
			MaxAttempts: cfg.MaxAttempts,
			RPS:         cfg.RPS,
			Logger:      log.Named("osrm"),
		})
		namespace = "osrm/" + o.Profile()
		p = o
	}
	if cfg.CacheTTL <= 0 {
		return p
	}
	var cache matrix.Cache = matrix.NewMemoryCache()
	if rdb != nil {
		cache = matrix.NewRedisCache(rdb)
	}
	return &matrix.Cached{Provider: p, Cache: cache, TTL: cfg.CacheTTL, Namespace: namespace, Logger: log.Named("matrix")}
}

// Close cancels background solves and releases connections.
func (s *Server) Close() error {
	s.stop()
	s.wg.Wait()
	err := s.Broker.Close()
	return errors.Join(err, closeAll(s.closers))
}

func closeAll(cs []io.Closer) error {
	var errs []error
	for i := len(cs) - 1; i >= 0; i-- {
		errs = append(errs, cs[i].Close())
	}
	return errors.Join(errs...)
}
