// Package clpixeltrack assemble les services à partir de la configuration.
package clpixeltrack

import (
	"context"
	"fmt"
	"pixeltrack/internal/gormzerologger"
	"pixeltrack/internal/models/clanalytics"
	"pixeltrack/internal/models/clcache"
	"pixeltrack/internal/models/clconfig"
	"pixeltrack/internal/models/clconversions"
	"pixeltrack/internal/models/clgeo"
	"pixeltrack/internal/models/clingest"
	"pixeltrack/internal/models/clpixels"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Pixeltrack struct {
	Configuration *clconfig.Config
	Db            *gorm.DB
	Redis         *redis.Client
	Cache         clcache.Cache
	Pixels        *clpixels.Store
	Analytics     *clanalytics.AnalyticsService
	Geo           clgeo.Resolver
	Forwarder     *clconversions.Forwarder
	Ingest        *clingest.Service
	Version       string
	BuildID       string
}

func Init(ctx context.Context, config *clconfig.Config, version string, buildid string) (*Pixeltrack, error) {
	pt := &Pixeltrack{
		Configuration: config,
		Version:       version,
		BuildID:       buildid,
	}

	if err := pt.initDatabase(); err != nil {
		return nil, err
	}
	pt.initRedis(ctx)
	pt.initCache()
	pt.initGeo()
	if err := pt.initServices(ctx); err != nil {
		pt.Close()
		return nil, err
	}
	return pt, nil
}

// OpenDatabase ouvre la base choisie (sqlite, mysql ou postgres) et migre les tables
func OpenDatabase(cfg clconfig.DatabaseConfig, level string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: gormzerologger.New(level),
	}

	var db *gorm.DB
	var err error
	switch cfg.Db {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.Path)), gormConfig)
	case "mysql":
		db, err = gorm.Open(mysql.Open(cfg.Dsn), gormConfig)
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.Dsn), gormConfig)
	default:
		return nil, fmt.Errorf("database type must be sqlite, mysql or postgres, got %q", cfg.Db)
	}
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}

	if cfg.Db == "sqlite" {
		// un seul écrivain sqlite à la fois
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	models := append(clanalytics.Models(), &clpixels.Pixel{}, &clpixels.CustomEvent{})
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("database migration: %w", err)
	}
	return db, nil
}

// les écritures concurrentes attendent le verrou au lieu d'échouer
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "_busy_timeout") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000"
}

func (pt *Pixeltrack) initDatabase() error {
	// Créer le logger GORM avec Zerolog
	level := "warn"
	if pt.Configuration.Logger.Level == "debug" || !pt.Configuration.Production {
		level = "trace"
	}

	db, err := OpenDatabase(pt.Configuration.Database, level)
	if err != nil {
		return err
	}
	pt.Db = db
	return nil
}

// initRedis : sans Redis joignable, on continue sans compteurs temps réel
func (pt *Pixeltrack) initRedis(ctx context.Context) {
	cfg := pt.Configuration.Database.Redis
	if cfg.Addr == "" {
		return
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.Db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable, realtime counters disabled")
		client.Close()
		return
	}
	pt.Redis = client
}

func (pt *Pixeltrack) initCache() {
	ttl := time.Duration(pt.Configuration.Cache.TTL) * time.Second
	if pt.Configuration.Cache.Backend == "redis" && pt.Redis != nil {
		pt.Cache = clcache.NewRedis(pt.Redis, "pixeltrack:", ttl)
		return
	}
	if pt.Configuration.Cache.Backend == "redis" {
		log.Warn().Msg("redis cache requested without redis, using memory cache")
	}
	pt.Cache = clcache.NewMemory(ttl)
}

func (pt *Pixeltrack) initGeo() {
	pt.Geo = clgeo.Noop{}
	if !pt.Configuration.Geoip.Enabled {
		return
	}
	resolver, err := clgeo.Open(pt.Configuration.Geoip.Path, pt.Cache)
	if err != nil {
		log.Warn().Err(err).Msg("geoip disabled")
		return
	}
	pt.Geo = resolver
}

func (pt *Pixeltrack) initServices(ctx context.Context) error {
	cfg := pt.Configuration

	pt.Pixels = clpixels.NewStore(pt.Db, pt.Cache, time.Duration(cfg.Cache.TTL)*time.Second)
	if err := pt.Pixels.Seed(ctx, cfg.Pixels); err != nil {
		return err
	}

	pt.Analytics = clanalytics.NewAnalyticsService(pt.Db, pt.Redis)
	if err := pt.Analytics.StartCleanup(cfg.Tracking.CleanupCron, cfg.Tracking.RetentionDays); err != nil {
		return err
	}

	// une interface nil, pas un *Forwarder nil
	var forwarder clingest.Forwarder
	if cfg.Conversions.Enabled {
		pt.Forwarder = clconversions.New(clconversions.Config{
			BaseURL:            cfg.Conversions.BaseURL,
			APIVersion:         cfg.Conversions.APIVersion,
			Timeout:            time.Duration(cfg.Conversions.Timeout) * time.Second,
			DisableOnAuthError: cfg.Conversions.DisableOnAuthError,
		}, pt.Pixels)
		forwarder = pt.Forwarder
	}

	pt.Ingest = clingest.New(pt.Pixels, pt.Analytics, forwarder, pt.Geo)
	return nil
}

func (pt *Pixeltrack) Close() {
	if pt.Analytics != nil {
		pt.Analytics.StopCleanup()
	}
	if closer, ok := pt.Geo.(*clgeo.MaxMind); ok {
		closer.Close()
	}
	if pt.Redis != nil {
		pt.Redis.Close()
	}
	if pt.Db != nil {
		if sqlDB, err := pt.Db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
