package clconfig

import (
	"fmt"
	"log/syslog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	TrustedProxies  []string          `yaml:"trustedproxies"`
	TrustedPlatform string            `yaml:"trustedplatform"`
	Production      bool              `yaml:"production"`
	Listen          ListenConfig      `yaml:"listen"`
	Logger          LoggerConfig      `yaml:"logger"`
	Database        DatabaseConfig    `yaml:"database"`
	Cache           CacheConfig       `yaml:"cache"`
	Geoip           GeoipConfig       `yaml:"geoip"`
	Conversions     ConversionsConfig `yaml:"conversions"`
	Tracking        TrackingConfig    `yaml:"tracking"`
	Admin           AdminConfig       `yaml:"admin"`
	Pixels          []PixelConfig     `yaml:"pixels"`
}

type ListenConfig struct {
	Website string `yaml:"website"`
}

type LoggerConfig struct {
	Level  string             `yaml:"level"`
	File   LoggerFileConfig   `yaml:"file"`
	Syslog LoggerSyslogConfig `yaml:"syslog"`
}

type LoggerFileConfig struct {
	Enable     bool   `yaml:"enable"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxsize"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAge     int    `yaml:"maxage"`
	Compress   bool   `yaml:"compress"`
}

type LoggerSyslogConfig struct {
	Enable   bool            `yaml:"enable"`
	Protocol string          `yaml:"protocol"`
	Address  string          `yaml:"address"`
	Tag      string          `yaml:"tag"`
	Priority syslog.Priority `yaml:"priority"`
}

type DatabaseConfig struct {
	Redis RedisConfig `yaml:"redis"`
	Db    string      `yaml:"db"`
	Path  string      `yaml:"path"`
	Dsn   string      `yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	Db   int    `yaml:"db"`
}

// CacheConfig : backend "memory" ou "redis", ttl en secondes
type CacheConfig struct {
	Backend string `yaml:"backend"`
	TTL     int    `yaml:"ttl"`
}

type GeoipConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ConversionsConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"baseurl"`
	APIVersion         string `yaml:"apiversion"`
	Timeout            int    `yaml:"timeout"`
	DisableOnAuthError bool   `yaml:"disableonautherror"`
}

type TrackingConfig struct {
	RateLimit     string `yaml:"ratelimit"`
	RetentionDays int    `yaml:"retentiondays"`
	CleanupCron   string `yaml:"cleanupcron"`
}

type AdminConfig struct {
	Token string `yaml:"token"`
}

// PixelConfig sert uniquement à initialiser les pixels au démarrage
type PixelConfig struct {
	ID                  string              `yaml:"id"`
	Shop                string              `yaml:"shop"`
	Name                string              `yaml:"name"`
	RecordIP            *bool               `yaml:"recordip"`
	RecordLocation      *bool               `yaml:"recordlocation"`
	RecordSession       *bool               `yaml:"recordsession"`
	DisabledEvents      []string            `yaml:"disabledevents"`
	ConversionsEnabled  bool                `yaml:"conversionsenabled"`
	ConversionsVerified bool                `yaml:"conversionsverified"`
	ProviderPixelID     string              `yaml:"providerpixelid"`
	AccessToken         string              `yaml:"accesstoken"`
	TestEventCode       string              `yaml:"testeventcode"`
	CustomEvents        []CustomEventConfig `yaml:"customevents"`
}

type CustomEventConfig struct {
	Name              string         `yaml:"name"`
	ProviderEventName string         `yaml:"providereventname"`
	Active            bool           `yaml:"active"`
	DefaultData       map[string]any `yaml:"defaultdata"`
}

func CreateExampleConfig(filename string) (string, error) {
	yes := true
	example := &Config{
		Production: false,
		Listen: ListenConfig{
			Website: "0.0.0.0:8080",
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Db:   "sqlite",
			Path: "./pixeltrack.db",
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     60,
		},
		Geoip: GeoipConfig{
			Enabled: false,
			Path:    "./GeoLite2-City.mmdb",
		},
		Conversions: ConversionsConfig{
			Enabled:            true,
			BaseURL:            "https://graph.facebook.com",
			APIVersion:         "v21.0",
			Timeout:            5,
			DisableOnAuthError: true,
		},
		Tracking: TrackingConfig{
			RateLimit:     "600-M",
			RetentionDays: 90,
			CleanupCron:   "0 3 * * *",
		},
		Pixels: []PixelConfig{
			{
				ID:             "demo-pixel",
				Shop:           "demo.myshopify.com",
				Name:           "Demo",
				RecordIP:       &yes,
				RecordLocation: &yes,
				RecordSession:  &yes,
				CustomEvents: []CustomEventConfig{
					{Name: "newsletter_click", ProviderEventName: "Subscribe", Active: true},
				},
			},
		},
	}

	if filename == "/etc/" {
		example.Listen.Website = "127.0.0.1:8000"
		example.Production = true
		example.Database.Path = "/var/lib/pixeltrack/pixeltrack.db"
		example.Logger.File = LoggerFileConfig{
			Enable:     true,
			Path:       "/var/log/pixeltrack/pixeltrack.log",
			MaxSize:    100,
			MaxBackups: 30,
			MaxAge:     7,
			Compress:   true,
		}
		filename = "/etc/pixeltrack/config.yaml"
	}

	return filename, WriteConfigYaml(filename, example)
}

func WriteConfigYaml(filename string, conf *Config) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// Charger la configuration YAML
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("yaml parsing error: %w", err)
	}

	ApplyDefaults(&config)
	return &config, nil
}

// ApplyDefaults complète les valeurs absentes
func ApplyDefaults(config *Config) {
	if config.Listen.Website == "" {
		config.Listen.Website = "0.0.0.0:8080"
	}
	if config.Database.Db == "" {
		config.Database.Db = "sqlite"
	}
	if config.Database.Db == "sqlite" && config.Database.Path == "" {
		config.Database.Path = "./pixeltrack.db"
	}
	if config.Cache.Backend == "" {
		config.Cache.Backend = "memory"
	}
	if config.Cache.TTL <= 0 {
		config.Cache.TTL = 60
	}
	if config.Conversions.BaseURL == "" {
		config.Conversions.BaseURL = "https://graph.facebook.com"
	}
	if config.Conversions.APIVersion == "" {
		config.Conversions.APIVersion = "v21.0"
	}
	if config.Conversions.Timeout <= 0 {
		config.Conversions.Timeout = 5
	}
	if config.Tracking.RateLimit == "" {
		config.Tracking.RateLimit = "600-M"
	}
	if config.Tracking.CleanupCron == "" {
		config.Tracking.CleanupCron = "0 3 * * *"
	}
}

// ApplyEnv charge un éventuel .env puis surcharge les secrets depuis l'environnement
func ApplyEnv(config *Config, files ...string) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		log.Warn().Err(err).Strs("files", files).Msg("env files not loaded")
	}

	if v, ok := os.LookupEnv("PIXELTRACK_DATABASE_DSN"); ok {
		config.Database.Dsn = v
	}
	if v, ok := os.LookupEnv("PIXELTRACK_REDIS_ADDR"); ok {
		config.Database.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("PIXELTRACK_ADMIN_TOKEN"); ok {
		config.Admin.Token = v
	}
	if v, ok := os.LookupEnv("PIXELTRACK_GEOIP_PATH"); ok {
		config.Geoip.Path = v
		config.Geoip.Enabled = v != ""
	}
	if v, ok := os.LookupEnv("PIXELTRACK_CONVERSIONS_BASEURL"); ok {
		config.Conversions.BaseURL = v
	}
}

func CreateExample(shouldCreateExample bool, configFile string) {
	if shouldCreateExample {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		os.Exit(1)
	}

	_, err := os.Stat(configFile)
	if err != nil && os.IsNotExist(err) {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	}
}

func handleExampleCreation(filename string) error {
	if filename == "" {
		filename = "pixeltrack.yaml"
	}
	filename, err := CreateExampleConfig(filename)
	if err != nil {
		return fmt.Errorf("example creation error: %w", err)
	}

	fmt.Printf("✅ Fichier exemple créé: %s\n", filename)
	return nil
}

func DisplayConfiguration(config *Config, version string) {
	logPrintf("Pixeltrack version %s", version)
	logPrintf("Mode Production %v", config.Production)

	logPrintf("Database")
	switch config.Database.Db {
	case "sqlite":
		logPrintf("  • Type sqlite")
		logPrintf("  • Path %s", config.Database.Path)
	case "mysql", "postgres":
		logPrintf("  • Type %s", config.Database.Db)
		logPrintf("  • DSN %s", maskSecret(config.Database.Dsn))
	}
	if config.Database.Redis.Addr != "" {
		logPrintf("  • Redis %s", config.Database.Redis.Addr)
	}
	logPrintf("  • Cache %s (ttl %ds)", config.Cache.Backend, config.Cache.TTL)

	if config.Geoip.Enabled {
		logPrintf("Geoip activé (%s)", config.Geoip.Path)
	} else {
		logPrintf("Geoip désactivé")
	}

	if config.Conversions.Enabled {
		logPrintf("Conversions API %s/%s (timeout %ds)", config.Conversions.BaseURL, config.Conversions.APIVersion, config.Conversions.Timeout)
		logPrintf("  • Désactivation sur erreur d'authentification %v", config.Conversions.DisableOnAuthError)
	} else {
		logPrintf("Conversions API désactivée")
	}

	logPrintf("Tracking")
	logPrintf("  • Rate limit %s", config.Tracking.RateLimit)
	if config.Tracking.RetentionDays > 0 {
		logPrintf("  • Rétention %d jours (%s)", config.Tracking.RetentionDays, config.Tracking.CleanupCron)
	}

	logPrintf("Logger en level %s", config.Logger.Level)
	if config.Logger.File.Enable {
		logPrintf("  • Fichier %s", config.Logger.File.Path)
	}
	if config.Logger.Syslog.Enable {
		logPrintf("  • Syslog %s %s", config.Logger.Syslog.Protocol, config.Logger.Syslog.Address)
	}

	logPrintf("Pixels configurés")
	for _, p := range config.Pixels {
		logPrintf("  • \"%s\" (%s) boutique %s", p.Name, p.ID, p.Shop)
	}
}

func maskSecret(s string) string {
	if i := strings.Index(s, "@"); i > 0 {
		return "***" + s[i:]
	}
	if s == "" {
		return ""
	}
	return "***"
}

func logPrintf(format string, a ...any) {
	log.Info().Msg(fmt.Sprintf(format, a...))
}
