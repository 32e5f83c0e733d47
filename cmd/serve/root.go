// Package serve implements the annod serve command.
package serve

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"annod/api"
	cmdUtil "annod/cmd/util"
	"annod/lib/pool"
)

// serveConfig collects everything the daemon needs, resolved once from flags
// and environment before the server starts.
type serveConfig struct {
	Bind          string
	Basedir       string
	Extension     string
	UnloadTime    time.Duration
	SweepInterval time.Duration
	ReadOnly      bool
	Debug         bool
	BaseURL       string
	Namespaces    map[string]string
	Pinned        []string
}

var (
	serveCmdConfig = &serveConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the annod server",
		Long:    `Start the annod server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is ANNOD_<flag> (e.g. ANNOD_UNLOAD_TIME=300)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "bind"
	ServeCmd.PersistentFlags().String(key, "127.0.0.1:8080", cmdUtil.WrapString("The host and port to bind to"))

	key = "basedir"
	ServeCmd.PersistentFlags().String(key, ".", cmdUtil.WrapString("The base directory annotation stores are served from. Store ids map to <basedir>/<id>.<extension>"))

	key = "extension"
	ServeCmd.PersistentFlags().String(key, "store.stam.json", cmdUtil.WrapString("The file extension used to discover annotation stores in the base directory"))

	key = "unload-time"
	ServeCmd.PersistentFlags().Int(key, 600, cmdUtil.WrapString("Number of seconds a store may sit idle before it is unloaded again. Set to 0 to keep all stores resident forever"))

	key = "sweep-interval"
	ServeCmd.PersistentFlags().Int(key, 60, cmdUtil.WrapString("Number of seconds between idle sweeps"))

	key = "readonly"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Sets all underlying stores as read-only; any mutation is rejected"))

	key = "base-url"
	ServeCmd.PersistentFlags().String(key, "http://localhost:8080", cmdUtil.WrapString("The externally visible base URL, used to mint IRIs in Web Annotation output"))

	key = "namespaces"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated namespace remapping table for Web Annotation output. Format: prefix=url,prefix2=url2"))

	key = "pin"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of store ids to load at startup and keep resident (never swept)"))

	key = "debug"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Output logging info on incoming requests"))
}

// initConfig loads .env files and prepares viper for environment overrides.
func initConfig() {
	cmdUtil.LoadDotEnv()
	viper.SetEnvPrefix("ANNOD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Bind = viper.GetString("bind")
	serveCmdConfig.Basedir = viper.GetString("basedir")
	serveCmdConfig.Extension = viper.GetString("extension")
	serveCmdConfig.UnloadTime = time.Duration(viper.GetInt("unload-time")) * time.Second
	serveCmdConfig.SweepInterval = time.Duration(viper.GetInt("sweep-interval")) * time.Second
	serveCmdConfig.ReadOnly = viper.GetBool("readonly")
	serveCmdConfig.Debug = viper.GetBool("debug")
	serveCmdConfig.BaseURL = viper.GetString("base-url")

	// parse the namespace remapping table
	serveCmdConfig.Namespaces = map[string]string{}
	if raw := viper.GetString("namespaces"); raw != "" {
		for _, entry := range strings.Split(raw, ",") {
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
				return fmt.Errorf("invalid namespace mapping: %s (expected prefix=url)", entry)
			}
			serveCmdConfig.Namespaces[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	// parse pinned stores
	serveCmdConfig.Pinned = nil
	if raw := viper.GetString("pin"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				serveCmdConfig.Pinned = append(serveCmdConfig.Pinned, id)
			}
		}
	}

	return nil
}

// newLogger builds the process logger; debug mode switches to development
// output with per-request logging enabled.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	return zap.NewProduction()
}

func run(_ *cobra.Command, _ []string) error {
	logger, err := newLogger(serveCmdConfig.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dir, err := pool.NewDirectory(serveCmdConfig.Basedir, serveCmdConfig.Extension)
	if err != nil {
		return err
	}

	p := pool.New(dir, pool.Config{
		ReadOnly:      serveCmdConfig.ReadOnly,
		UnloadAfter:   serveCmdConfig.UnloadTime,
		SweepInterval: serveCmdConfig.SweepInterval,
		BaseURL:       serveCmdConfig.BaseURL,
		Namespaces:    serveCmdConfig.Namespaces,
	}, logger)

	// Pinned stores are loaded up front and never swept.
	for _, id := range serveCmdConfig.Pinned {
		if err := p.Pin(context.Background(), id); err != nil {
			return fmt.Errorf("cannot pin store %q: %w", id, err)
		}
	}

	server := api.New(p, api.Config{
		Bind:  serveCmdConfig.Bind,
		Debug: serveCmdConfig.Debug,
	}, logger)

	// Serve until interrupted, then drain requests and flush the pool.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := p.Close(shutdownCtx); err != nil {
		logger.Error("pool flush failed", zap.Error(err))
		return err
	}
	return nil
}
