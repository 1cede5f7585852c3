package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"pixeltrack/internal/clmiddleware"
	handlers_analytics "pixeltrack/internal/handlers/analytics"
	handlers_track "pixeltrack/internal/handlers/track"
	"pixeltrack/internal/models/clconfig"
	"pixeltrack/internal/models/cllog"
	"pixeltrack/internal/models/clpixeltrack"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const VERSION string = "0.3.0"

// global instance
var (
	configuration *clconfig.Config
	BuildID       string
)

func initConfiguration() {
	configFile, shouldCreateExample, versionDisplay, err := parseCommandLineArgs()
	if err != nil {
		fmt.Println("Usage:")
		fmt.Println("  pixeltrack -config pixeltrack.yaml")
		fmt.Println("  pixeltrack -example  (pour créer un fichier exemple)")
		fmt.Println("  pixeltrack -version  (affiche la version)")
		os.Exit(1)
	}

	if versionDisplay {
		println(VERSION)
		os.Exit(0)
	}

	clconfig.CreateExample(shouldCreateExample, configFile)

	conf, err := clconfig.LoadConfig(configFile)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	clconfig.ApplyEnv(conf)
	configuration = conf
}

func parseCommandLineArgs() (configFile string, shouldCreateExample bool, versionDisplay bool, err error) {
	var config = flag.String("config", "", "Fichier de configuration YAML")
	var example = flag.Bool("example", false, "Créer un fichier de configuration exemple")
	var version = flag.Bool("version", false, "version du produit")
	flag.Parse()

	if *version {
		return "", false, true, nil
	}

	if *example {
		return "", true, false, nil
	}

	if *config == "" {
		return "", false, false, fmt.Errorf("fichier de configuration requis")
	}

	return *config, false, false, nil
}

func newServer(config *clconfig.Config) *gin.Engine {
	if config.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	if config.TrustedProxies != nil {
		if err := r.SetTrustedProxies(config.TrustedProxies); err != nil {
			log.Warn().Err(err).Msg("invalid trusted proxies")
		}
	}
	if config.TrustedPlatform != "" {
		switch config.TrustedPlatform {
		case "cloudflare":
			r.TrustedPlatform = gin.PlatformCloudflare
		case "google":
			r.TrustedPlatform = gin.PlatformGoogleAppEngine
		case "flyio":
			r.TrustedPlatform = gin.PlatformFlyIO
		default:
			r.TrustedPlatform = config.TrustedPlatform
		}
	}

	// les autres méthodes sur /api/track répondent 405 en JSON
	r.HandleMethodNotAllowed = true
	r.NoMethod(clmiddleware.NoMethod)
	r.NoRoute(clmiddleware.NoRoute)

	clmiddleware.InitMiddleware(r)
	return r
}

func setRoutes(r *gin.Engine, pt *clpixeltrack.Pixeltrack) error {
	middlewareLimiter, err := clmiddleware.NewLimiter(pt.Configuration.Tracking.RateLimit)
	if err != nil {
		return fmt.Errorf("invalid rate limit %q: %w", pt.Configuration.Tracking.RateLimit, err)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": pt.Version})
	})

	// Routes de tracking, appelées depuis les boutiques
	track := handlers_track.NewTrackHandler(pt.Ingest)
	for _, path := range []string{"/api/track", "/track"} {
		r.POST(path, middlewareLimiter, track.Post)
		r.GET(path, middlewareLimiter, track.Get)
	}

	// Routes d'administration protégées
	analytics := handlers_analytics.NewAnalyticsHandler(pt.Analytics, pt.Pixels)
	admin := r.Group("/api/pixels/:id")
	admin.Use(clmiddleware.AdminToken(pt.Configuration.Admin.Token), clmiddleware.Gzip())
	{
		admin.GET("/stats", analytics.GetDailyStats)
		admin.GET("/realtime", analytics.GetRealtimeStats)
		admin.POST("/invalidate", analytics.Invalidate)
	}
	return nil
}

func startServer(r *gin.Engine, listen string) {
	srv := &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Msgf("Tracking démarré sur http://%s/api/track", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func main() {
	if BuildID == "" {
		BuildID = VERSION
	}

	initConfiguration()
	cllog.InitLogger(configuration.Logger, configuration.Production)
	clconfig.DisplayConfiguration(configuration, VERSION)

	pt, err := clpixeltrack.Init(context.Background(), configuration, VERSION, BuildID)
	if err != nil {
		log.Fatal().Err(err).Msg("initialization failed")
	}
	defer pt.Close()

	r := newServer(configuration)
	if err := setRoutes(r, pt); err != nil {
		log.Fatal().Err(err).Msg("routes setup failed")
	}

	startServer(r, configuration.Listen.Website)
}
