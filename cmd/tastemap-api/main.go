package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/tastemap/internal/auth"
	"github.com/MarcoPoloResearchLab/tastemap/internal/config"
	"github.com/MarcoPoloResearchLab/tastemap/internal/database"
	"github.com/MarcoPoloResearchLab/tastemap/internal/logging"
	"github.com/MarcoPoloResearchLab/tastemap/internal/media"
	"github.com/MarcoPoloResearchLab/tastemap/internal/metrics"
	"github.com/MarcoPoloResearchLab/tastemap/internal/placesearch"
	"github.com/MarcoPoloResearchLab/tastemap/internal/restaurants"
	"github.com/MarcoPoloResearchLab/tastemap/internal/reviews"
	"github.com/MarcoPoloResearchLab/tastemap/internal/server"
	"github.com/MarcoPoloResearchLab/tastemap/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tastemap-api",
		Short: "Tastemap restaurant review backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", "", "PostgreSQL DSN")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "TAuth session signing secret (overrides env)")
	flags.String("kakao-api-key", "", "Kakao REST API key (overrides env)")
	flags.String("identity-strategy", defaults.GetString("catalog.identity_strategy"), "Restaurant identity strategy (provider, content)")
	flags.String("media-directory", defaults.GetString("media.directory"), "Directory for uploaded review images")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "tauth.signing_secret", "signing-secret")
	bindFlag(cmd, "kakao.rest_api_key", "kakao-api-key")
	bindFlag(cmd, "catalog.identity_strategy", "identity-strategy")
	bindFlag(cmd, "media.directory", "media-directory")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Options{
		Driver:       appConfig.DatabaseDriver,
		Path:         appConfig.DatabasePath,
		DSN:          appConfig.DatabaseDSN,
		MaxOpenConns: appConfig.DatabaseMaxOpenConns,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry, err := metrics.New()
	if err != nil {
		return err
	}

	identity, err := restaurants.ParseIdentityStrategy(appConfig.CatalogIdentityStrategy)
	if err != nil {
		return err
	}
	restaurantService, err := restaurants.NewService(restaurants.ServiceConfig{
		Database:    db,
		Identity:    identity,
		NearbyLimit: appConfig.NearbyLimit,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	imageStore, err := media.NewLocalStore(media.LocalStoreConfig{
		Directory:      appConfig.MediaDirectory,
		PublicBasePath: appConfig.MediaPublicBasePath,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	reviewService, err := reviews.NewService(reviews.ServiceConfig{
		Database:    db,
		Restaurants: restaurantService,
		Images:      imageStore,
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	placeClient, err := placesearch.NewClient(placesearch.ClientConfig{
		APIKey:            appConfig.KakaoRESTAPIKey,
		SearchURL:         appConfig.KakaoSearchURL,
		Timeout:           appConfig.KakaoTimeout,
		RequestsPerSecond: appConfig.KakaoRequestsPerSecond,
		Recorder:          registry,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator:    sessionValidator,
		Users:               userService,
		Restaurants:         restaurantService,
		Reviews:             reviewService,
		PlaceSearch:         placeClient,
		Metrics:             registry,
		MediaDirectory:      imageStore.Directory(),
		MediaBasePath:       imageStore.PublicBasePath(),
		DefaultRadiusMeters: appConfig.NearbyDefaultRadiusMeters,
		Logger:              logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.String("identity_strategy", string(identity)))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
