// Package main is the semcode CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roojs/semantic-code-search/internal/config"
	"github.com/roojs/semantic-code-search/internal/engine"
	"github.com/roojs/semantic-code-search/internal/indexer"
	"github.com/roojs/semantic-code-search/internal/models"
	"github.com/roojs/semantic-code-search/internal/parser"
	"github.com/roojs/semantic-code-search/pkg/utils"
)

var version = "dev"

// configEnv names the environment variable that overrides the config path.
const configEnv = "SEMCODE_CONFIG"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if models.IsFatal(err) {
			fmt.Fprintln(os.Stderr, "The index was left untouched.")
		}
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "semcode",
		Short:         "Incremental semantic search over source-code functions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default $"+configEnv+", ./config.yaml or the user config dir)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newEmbedCmd(opts),
		newIndexCmd(opts),
		newQueryCmd(opts),
		newRemoveCmd(opts),
		newReconcileCmd(opts),
		newClusterCmd(opts),
		newStatusCmd(opts),
		newServerCmd(opts),
		newWatchCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "semcode version %s\n", version)
			},
		},
	)
	return root
}

// defaultConfigPath is config.yaml under the user config directory.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "semantic_code_search", "config.yaml")
}

// resolveConfigPath picks the config file: the flag, then $SEMCODE_CONFIG, then
// config.yaml in the working directory (for development), then the default location.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, "config.yaml")
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}
	return defaultConfigPath()
}

// app is the loaded configuration and logger shared by the commands.
type app struct {
	cfg     *config.Config
	cfgPath string
	logger  *zap.Logger
}

func (o *rootOptions) load() (*app, error) {
	path := resolveConfigPath(o.configPath)
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || o.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.String("data_dir", cfg.Storage.DataDir))
	return &app{cfg: cfg, cfgPath: path, logger: logger}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func (a *app) open(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	return engine.OpenConfig(ctx, a.cfg, a.logger, opts...)
}

func (a *app) newIndexer(eng *engine.Engine) *indexer.Indexer {
	return indexer.NewIndexer(eng, parser.NewExtractor(a.cfg.Index.NodeTypes),
		indexer.WithLogger(a.logger),
		indexer.WithWorkers(a.cfg.Index.Workers),
		indexer.WithExtensions(a.cfg.Index.Extensions),
		indexer.WithExcludeDirs(a.cfg.Index.ExcludeDirs),
	)
}

// withEngine loads the config, opens the engine and runs fn.
func (o *rootOptions) withEngine(ctx context.Context, opts []engine.Option, fn func(a *app, eng *engine.Engine) error) error {
	a, err := o.load()
	if err != nil {
		return err
	}
	defer a.close()
	eng, err := a.open(ctx, opts...)
	if err != nil {
		return err
	}
	runErr := fn(a, eng)
	return errors.Join(runErr, eng.Close())
}

// buildQuery joins the remaining arguments into one query string.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// splitList flattens repeated and comma-separated flag values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
