// Command annd serves HNSW vector indexes over REST and gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/therealutkarshpriyadarshi/ann/pkg/api"
	"github.com/therealutkarshpriyadarshi/ann/pkg/config"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
)

var commit = "dev"

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version and exit")
		configFile  = flag.String("config", "", "path to YAML configuration file (optional)")
		envFile     = flag.String("env-file", ".env", "path to .env file, ignored when missing")
		host        = flag.String("host", "", "listen host (overrides config/env)")
		port        = flag.Int("port", 0, "REST port (overrides config/env)")
		grpcPort    = flag.Int("grpc-port", -1, "gRPC port, 0 disables gRPC (overrides config/env)")
		dataDir     = flag.String("data-dir", "", "snapshot directory (overrides config/env)")
		tokenFor    = flag.String("issue-token", "", "print a token for this subject and exit")
		tokenRoles  = flag.String("token-roles", api.RoleReader, "comma separated roles of -issue-token")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("annd %s (commit: %s)\n", api.Version, commit)
		return
	}

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "annd: %v\n", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *grpcPort >= 0 {
		cfg.Server.GRPCPort = *grpcPort
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "annd: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if *tokenFor != "" {
		if err := issueToken(cfg, *tokenFor, *tokenRoles); err != nil {
			fmt.Fprintf(os.Stderr, "annd: %v\n", err)
			os.Exit(1)
		}
		return
	}

	level, err := observability.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "annd: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLoggerWithFormat(level, cfg.Log.Format, os.Stderr).
		WithField("service", "annd")
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", map[string]interface{}{"error": err})
	}

	logger.Info("starting annd", map[string]interface{}{
		"version":    api.Version,
		"commit":     commit,
		"rest":       cfg.Server.Address(),
		"grpc":       cfg.Server.GRPCAddress(),
		"data_dir":   cfg.Storage.DataDir,
		"metric":     cfg.Index.Metric,
		"dimension":  cfg.Index.Dimension,
		"engine":     cfg.Index.Engine,
		"auth":       cfg.Auth.Enabled,
		"auto_load":  cfg.Storage.AutoLoad,
		"auto_save":  cfg.Storage.AutoSave,
		"cache_size": cfg.Cache.Capacity,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx); err != nil {
		logger.Error("server stopped with error", map[string]interface{}{"error": err})
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func issueToken(cfg *config.Config, subject, roles string) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not set")
	}
	token, err := api.GenerateToken(api.AuthConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		Issuer:    cfg.Auth.Issuer,
	}, subject, strings.Split(roles, ","), nil, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
