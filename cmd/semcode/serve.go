package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roojs/semantic-code-search/internal/config"
	"github.com/roojs/semantic-code-search/internal/engine"
	"github.com/roojs/semantic-code-search/internal/indexer"
	"github.com/roojs/semantic-code-search/internal/server"
	"github.com/roojs/semantic-code-search/internal/watcher"
)

// newWatcher feeds file changes under dirs to idx until ctx is done.
func (a *app) newWatcher(ctx context.Context, idx *indexer.Indexer, dirs []string) *watcher.Watcher {
	onIndex := func(paths []string) {
		summary, err := idx.IndexFiles(ctx, paths, false)
		if err != nil {
			a.logger.Error("watch sync failed", zap.Int("files", len(paths)), zap.Error(err))
			return
		}
		a.logger.Info("watch sync finished",
			zap.String("run_id", summary.RunID),
			zap.Int("added", summary.Added),
			zap.Int("updated", summary.Updated),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed))
	}
	onRemove := func(path string) {
		if err := idx.DeleteFile(ctx, path); err != nil {
			a.logger.Warn("watch remove failed", zap.String("path", path), zap.Error(err))
		}
	}
	return watcher.NewWatcher(dirs, a.cfg.Watch.RecursiveOrDefault(), onIndex, onRemove,
		watcher.WithLogger(a.logger),
		watcher.WithDebounce(time.Duration(a.cfg.Watch.DebounceMS)*time.Millisecond),
		watcher.WithFilter(idx.Indexable),
		watcher.WithExcludeDirs(a.cfg.Index.ExcludeDirs),
	)
}

func newServerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Serve the HTTP API and watch the configured directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withEngine(ctx, nil, func(a *app, eng *engine.Engine) error {
				if err := eng.Mismatch(); err != nil {
					return err
				}
				idx := a.newIndexer(eng)
				watchSvc := a.newWatcher(ctx, idx, a.cfg.Watch.Directories)
				if err := watchSvc.Start(ctx); err != nil {
					return fmt.Errorf("failed to start watcher: %w", err)
				}
				defer watchSvc.Stop()
				go watchSvc.SyncExistingFiles()

				persist := func(dirs []string) error {
					a.cfg.Watch.Directories = dirs
					return config.Save(a.cfgPath, a.cfg)
				}
				srv := server.NewServer(eng, idx, &a.cfg.Server, a.logger, server.WithWatch(watchSvc, persist))
				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()

				select {
				case err := <-errCh:
					if !errors.Is(err, http.ErrServerClosed) {
						return fmt.Errorf("server failed: %w", err)
					}
					return nil
				case <-ctx.Done():
				}
				a.logger.Info("Shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Stop(shutdownCtx)
			})
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [DIR...]",
		Short: "Keep the index in sync with directories as files change",
		Long: `Indexes the given directories (or watch.directories from the config), then
re-indexes files as they are written and removes them as they are deleted,
until interrupted. The list, add and remove subcommands manage the directories
of a running server instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withEngine(ctx, nil, func(a *app, eng *engine.Engine) error {
				if err := eng.Mismatch(); err != nil {
					return err
				}
				dirs := a.cfg.Watch.Directories
				if len(args) > 0 {
					dirs = dirs[:0:0]
					for _, arg := range args {
						abs, err := filepath.Abs(arg)
						if err != nil {
							return err
						}
						dirs = append(dirs, abs)
					}
				}
				if len(dirs) == 0 {
					return fmt.Errorf("no directories to watch: pass them as arguments or set watch.directories")
				}
				idx := a.newIndexer(eng)
				w := a.newWatcher(ctx, idx, dirs)
				if err := w.Start(ctx); err != nil {
					return fmt.Errorf("failed to start watcher: %w", err)
				}
				defer w.Stop()
				w.SyncExistingFiles()
				fmt.Fprintf(cmd.OutOrStdout(), "Watching %d directories; press Ctrl-C to stop\n", len(dirs))
				<-ctx.Done()
				return nil
			})
		},
	}

	var serverURL string
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL for list, add and remove")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the directories a running server watches",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				dirs, err := watchListViaHTTP(cmd.Context(), serverURL)
				if err != nil {
					return err
				}
				for _, d := range dirs {
					fmt.Fprintln(cmd.OutOrStdout(), d)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add DIR",
			Short: "Make a running server watch a directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				if err := watchAddViaHTTP(cmd.Context(), serverURL, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added: %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove DIR",
			Short: "Stop a running server watching a directory",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				if err := watchRemoveViaHTTP(cmd.Context(), serverURL, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", path)
				return nil
			},
		},
	)
	return cmd
}
