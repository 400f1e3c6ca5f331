package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/benaskins/credence/internal/config"
	"github.com/benaskins/credence/internal/keystore"
	"github.com/benaskins/credence/internal/metrics"
	"github.com/benaskins/credence/internal/resolver"
	"github.com/benaskins/credence/internal/service"
)

// runtime is everything a command needs, built from config.
type runtime struct {
	cfg      *config.Config
	cfgPath  string
	registry *service.Registry
	store    keystore.Store
	resolver *resolver.Resolver
	prom     *prometheus.Registry
	closer   io.Closer
}

func (rt *runtime) Close() error {
	if rt.closer != nil {
		return rt.closer.Close()
	}
	return nil
}

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, string, error) {
	path := resolvedConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func setup() (*runtime, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}

	registry, err := service.NewRegistry(cfg.Catalog())
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		cfgPath:  path,
		registry: registry,
		prom:     prometheus.NewRegistry(),
	}
	if err := rt.openStore(); err != nil {
		return nil, err
	}

	rt.resolver = resolver.New(registry, rt.store,
		resolver.WithStrictCallerMatch(cfg.StrictCallerMatch),
		resolver.WithPersistCallerKeys(cfg.ShouldPersistCallerKeys()),
		resolver.WithFallback(!cfg.DisableFallback),
		resolver.WithMetrics(metrics.NewPrometheusMetrics(rt.prom)),
	)
	return rt, nil
}

func (rt *runtime) openStore() error {
	switch rt.cfg.Store.Driver {
	case config.DriverMemory:
		rt.store = keystore.NewMemoryStore(rt.registry)
	case config.DriverKeychain:
		rt.store = keystore.NewSystemStore(rt.registry)
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(rt.cfg.Store.Path), 0700); err != nil {
			return fmt.Errorf("creating store dir: %w", err)
		}
		s, err := keystore.OpenSQLStore(rt.cfg.Store.Path, rt.registry)
		if err != nil {
			return err
		}
		rt.store = s
		rt.closer = s
	default:
		rt.store = keystore.NewFileStore(rt.cfg.Store.Path, rt.registry)
	}
	return nil
}
