package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "TASTEMAP"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DriverSQLite
	defaultDatabasePath       = "tastemap.db"
	defaultMaxOpenConns       = 10
	defaultLogLevel           = "info"
	defaultCookieName         = "app_session"
	defaultSessionIssuer      = "tauth"
	defaultKakaoSearchURL     = "https://dapi.kakao.com/v2/local/search/keyword.json"
	defaultKakaoTimeout       = 5
	defaultKakaoRate          = 10.0
	defaultIdentityStrategy   = "provider"
	defaultNearbyRadiusMeters = 1000
	defaultNearbyLimit        = 20
	defaultMediaDirectory     = "media"
	defaultMediaBasePath      = "/media"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string

	DatabaseDriver       string
	DatabasePath         string
	DatabaseDSN          string
	DatabaseMaxOpenConns int

	LogLevel string

	TAuthSigningKey string
	TAuthCookieName string
	TAuthIssuer     string

	KakaoRESTAPIKey         string
	KakaoSearchURL          string
	KakaoTimeout            time.Duration
	KakaoRequestsPerSecond  float64
	CatalogIdentityStrategy string

	NearbyDefaultRadiusMeters int
	NearbyLimit               int

	MediaDirectory      string
	MediaPublicBasePath string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("kakao.search_url", defaultKakaoSearchURL)
	configViper.SetDefault("kakao.timeout_seconds", defaultKakaoTimeout)
	configViper.SetDefault("kakao.requests_per_second", defaultKakaoRate)
	configViper.SetDefault("catalog.identity_strategy", defaultIdentityStrategy)
	configViper.SetDefault("nearby.default_radius_meters", defaultNearbyRadiusMeters)
	configViper.SetDefault("nearby.limit", defaultNearbyLimit)
	configViper.SetDefault("media.directory", defaultMediaDirectory)
	configViper.SetDefault("media.public_base_path", defaultMediaBasePath)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:               configViper.GetString("http.address"),
		DatabaseDriver:            strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:              configViper.GetString("database.path"),
		DatabaseDSN:               configViper.GetString("database.dsn"),
		DatabaseMaxOpenConns:      configViper.GetInt("database.max_open_conns"),
		LogLevel:                  configViper.GetString("log.level"),
		TAuthSigningKey:           configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:           configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:               configViper.GetString("tauth.issuer"),
		KakaoRESTAPIKey:           configViper.GetString("kakao.rest_api_key"),
		KakaoSearchURL:            configViper.GetString("kakao.search_url"),
		KakaoTimeout:              time.Duration(configViper.GetInt("kakao.timeout_seconds")) * time.Second,
		KakaoRequestsPerSecond:    configViper.GetFloat64("kakao.requests_per_second"),
		CatalogIdentityStrategy:   strings.ToLower(strings.TrimSpace(configViper.GetString("catalog.identity_strategy"))),
		NearbyDefaultRadiusMeters: configViper.GetInt("nearby.default_radius_meters"),
		NearbyLimit:               configViper.GetInt("nearby.limit"),
		MediaDirectory:            configViper.GetString("media.directory"),
		MediaPublicBasePath:       configViper.GetString("media.public_base_path"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if strings.TrimSpace(c.TAuthIssuer) == "" {
		return fmt.Errorf("tauth.issuer is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.KakaoRESTAPIKey) == "" {
		return fmt.Errorf("kakao.rest_api_key is required")
	}
	if c.KakaoTimeout <= 0 {
		return fmt.Errorf("kakao.timeout_seconds must be positive")
	}
	switch c.CatalogIdentityStrategy {
	case "provider", "content_hash":
	default:
		return fmt.Errorf("catalog.identity_strategy must be provider or content_hash, got %q", c.CatalogIdentityStrategy)
	}
	if c.NearbyDefaultRadiusMeters <= 0 {
		return fmt.Errorf("nearby.default_radius_meters must be positive")
	}
	if c.NearbyLimit <= 0 {
		return fmt.Errorf("nearby.limit must be positive")
	}
	if strings.TrimSpace(c.MediaDirectory) == "" {
		return fmt.Errorf("media.directory is required")
	}
	return nil
}
