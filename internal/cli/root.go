// Package cli wires the hub's commands: the server and the admin tools that
// manage users, session tokens and workspace membership.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowboard/hub/internal/config"
	"github.com/flowboard/hub/internal/db"
	"github.com/flowboard/hub/internal/logger"
	"github.com/flowboard/hub/internal/repository"
	"github.com/flowboard/hub/internal/session"
	"github.com/flowboard/hub/internal/workspace"
)

// Main runs the flowboard-hub command and exits non-zero on error.
func Main() {
	config.LoadEnvFiles()

	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "flowboard-hub",
		Short:        "Flowboard realtime hub",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(serveCmd(&cfgPath))
	root.AddCommand(userCmd(&cfgPath))
	root.AddCommand(tokenCmd(&cfgPath))
	root.AddCommand(memberCmd(&cfgPath))
	root.AddCommand(notifyCmd(&cfgPath))

	return root
}

// app holds what every command needs: config, logger and the stores.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *db.DB
	sessions *session.Manager
	members  *workspace.Checker
}

func loadConfig(cfgPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func openApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, log, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sessions := session.NewManager(
		repository.NewSessionRepository(database),
		repository.NewUserRepository(database),
		session.Config{TTL: cfg.Session.TTL},
		log,
	)
	members := workspace.NewChecker(repository.NewMemberRepository(database), log)

	return &app{
		cfg:      cfg,
		log:      log,
		db:       database,
		sessions: sessions,
		members:  members,
	}, nil
}

func (a *app) Close() {
	a.db.Close()
	_ = a.log.Sync()
}
