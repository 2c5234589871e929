package itemd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/edgeloop/itemd/pkg/api"
	"github.com/edgeloop/itemd/pkg/changelog"
	"github.com/edgeloop/itemd/pkg/store"
	"github.com/edgeloop/itemd/pkg/store/memory"
	pgstore "github.com/edgeloop/itemd/pkg/store/pg"
	redisstore "github.com/edgeloop/itemd/pkg/store/redis"
	"github.com/edgeloop/itemd/pkg/util"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the item API server",
	Long:  `Starts the HTTP server that exposes CRUD over the configured store backend`,
	RunE:  runAPI,
}

func init() {
	f := apiCmd.Flags()
	f.StringP("api.listenAddr", "l", "", "API server listen address")
	f.String("api.backend", "", "store backend (memory, redis, postgres)")
	f.String("api.pg.connString", "", "PostgreSQL connection string")
	f.String("api.redis.addr", "", "Redis address for the redis backend")

	viper.BindPFlags(f)
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// flag overrides
	if addr := viper.GetString("api.listenAddr"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if backend := viper.GetString("api.backend"); backend != "" {
		cfg.API.Backend = backend
	}
	if connString := viper.GetString("api.pg.connString"); connString != "" {
		cfg.API.PG.ConnString = connString
	}
	cfg.API.PG.ConnString = util.GetEnvOrDefault("ITEMD_API_PG_CONN_STRING", cfg.API.PG.ConnString)
	if addr := viper.GetString("api.redis.addr"); addr != "" {
		cfg.API.Redis.Addr = addr
	}

	appender, closeLog, err := openChangelog(ctx, logger)
	if err != nil {
		return err
	}
	if closeLog != nil {
		defer closeLog()
	}

	st, err := openStore(ctx, appender, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	server := api.NewServer(st, cfg.Environment, logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(cfg.API.ListenAddr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Received termination signal, shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// openChangelog opens the Redis change log used as the appender for store
// mutations. Without a configured stream the API runs without emitting
// change records.
func openChangelog(ctx context.Context, logger *zap.Logger) (changelog.Appender, func(), error) {
	if cfg.Notifier.Changelog.Addr == "" || cfg.Notifier.Changelog.Stream == "" {
		logger.Warn("no change log configured, mutations will not be notified")
		return nil, nil, nil
	}
	redisLog, err := changelog.NewRedisLog(ctx, cfg.Notifier.Changelog, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open change log: %w", err)
	}
	return redisLog, func() { redisLog.Close() }, nil
}

func openStore(ctx context.Context, appender changelog.Appender, logger *zap.Logger) (store.Store, error) {
	switch cfg.API.Backend {
	case "", "memory":
		return memory.New(appender), nil
	case "redis":
		return redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.API.Redis.Addr,
			Password: cfg.API.Redis.Password,
			DB:       cfg.API.Redis.DB,
		}, appender, logger)
	case "postgres":
		return pgstore.New(ctx, pgstore.Config{
			ConnString: cfg.API.PG.ConnString,
		}, appender)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.API.Backend)
	}
}
