package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roojs/semantic-code-search/internal/cli"
	"github.com/roojs/semantic-code-search/internal/cluster"
	"github.com/roojs/semantic-code-search/internal/embedding"
	"github.com/roojs/semantic-code-search/internal/engine"
	"github.com/roojs/semantic-code-search/internal/models"
	"github.com/roojs/semantic-code-search/internal/parser"
)

func newEmbedCmd(opts *rootOptions) *cobra.Command {
	var (
		input  string
		force  bool
		reset  bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "embed --input-json FILE",
		Short: "Embed the functions of the files listed in a manifest",
		Long: `Reads a JSON manifest of source files and their tree-sitter dumps,
extracts every function and brings the index up to date. Unchanged files are
skipped; changed files have their vectors replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			m, err := parser.LoadManifest(input)
			if err != nil {
				return err
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()
			if m.ModelName != "" && a.cfg.Embedding.Provider != embedding.ProviderMock {
				a.cfg.Embedding.ModelName = m.ModelName
			}
			if m.BatchSize > 0 {
				a.cfg.Embedding.BatchSize = m.BatchSize
			}

			var engOpts []engine.Option
			if reset {
				engOpts = append(engOpts, engine.WithReset())
			}
			eng, err := a.open(cmd.Context(), engOpts...)
			if err != nil {
				return err
			}
			summary, err := a.newIndexer(eng).IndexManifest(cmd.Context(), m, force)
			if summary != nil {
				if werr := cli.WriteBatchSummary(cmd.OutOrStdout(), summary, format); werr != nil && err == nil {
					err = werr
				}
			}
			return errors.Join(err, eng.Close())
		},
	}
	cmd.Flags().StringVar(&input, "input-json", "", "manifest listing files and tree-sitter dumps")
	cmd.Flags().BoolVar(&force, "force", false, "re-embed files even when unchanged")
	cmd.Flags().BoolVar(&reset, "reset", false, "discard an index built by a different model")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	_ = cmd.MarkFlagRequired("input-json")
	return cmd
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	var (
		force  bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "index PATH...",
		Short: "Index source files and directories",
		Long: `Indexes the given files and walks the given directories for files with a
configured extension that a parser can handle (Go natively, other languages
through a companion .tree-sitter dump).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd.Context(), nil, func(a *app, eng *engine.Engine) error {
				idx := a.newIndexer(eng)
				var files []string
				for _, arg := range args {
					info, err := os.Stat(arg)
					if err != nil {
						return fmt.Errorf("failed to stat path: %w", err)
					}
					if !info.IsDir() {
						files = append(files, arg)
						continue
					}
					found, err := idx.Collect(arg)
					if err != nil {
						return err
					}
					files = append(files, found...)
				}
				if len(files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No indexable files found")
					return nil
				}
				summary, err := idx.IndexFiles(cmd.Context(), files, force)
				if summary != nil {
					if werr := cli.WriteBatchSummary(cmd.OutOrStdout(), summary, format); werr != nil && err == nil {
						err = werr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-embed files even when unchanged")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		files     []string
		exts      []string
		limit     int
		output    string
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "query [flags] TEXT...",
		Short: "Find the functions closest to a natural-language query",
		Long: `Embeds the query and returns the nearest indexed functions. --files and --ext
restrict the candidates before ranking, so a filtered query still returns up
to -n results. The query is all remaining arguments joined by spaces.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			text := buildQuery(args)
			if text == "" {
				return fmt.Errorf("query cannot be empty")
			}
			a, err := opts.load()
			if err != nil {
				return err
			}
			defer a.close()
			req := &models.QueryRequest{
				Text:       text,
				Limit:      queryLimit(limit, a.cfg.Search.DefaultLimit, a.cfg.Search.MaxLimit),
				Files:      splitList(files),
				Extensions: splitList(exts),
			}

			var resp *models.QueryResponse
			if serverURL != "" {
				if resp, err = queryViaHTTP(cmd.Context(), serverURL, req); err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
			} else {
				eng, err := a.open(cmd.Context(), engine.ReadOnly())
				if err != nil {
					if errors.Is(err, models.ErrLocked) {
						return fmt.Errorf("%w (is a server running? pass --server)", err)
					}
					return err
				}
				resp, err = eng.Query(cmd.Context(), req)
				if err = errors.Join(err, eng.Close()); err != nil {
					return err
				}
			}

			if format == cli.OutputMarkdown {
				_, err := fmt.Fprint(cmd.OutOrStdout(), cli.QueryMarkdown(resp, a.cfg.Search.ContextLines))
				return err
			}
			return cli.WriteQueryResults(cmd.OutOrStdout(), resp, format)
		},
	}
	cmd.Flags().StringSliceVar(&files, "files", nil, "only search functions in these files")
	cmd.Flags().StringSliceVar(&exts, "ext", nil, "only search files with these extensions (e.g. py,.go)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of results (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "markdown", "output format: markdown, text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "query a running server instead of opening the index")
	return cmd
}

// queryLimit applies the configured default and cap to a -n value.
func queryLimit(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove PATH...",
		Short: "Remove files and their functions from the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd.Context(), nil, func(a *app, eng *engine.Engine) error {
				idx := a.newIndexer(eng)
				for _, path := range args {
					if err := idx.DeleteFile(cmd.Context(), path); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", path)
				}
				return nil
			})
		},
	}
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair the index after an interrupted run",
		Long: `Drops records of deleted files, unreadable records and records whose vectors
are missing, then evicts vectors no record owns. Every embed and index run
does this first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd.Context(), nil, func(a *app, eng *engine.Engine) error {
				report, err := eng.ReconcileOrphans(cmd.Context())
				if err != nil {
					return err
				}
				return cli.WriteReconcileReport(cmd.OutOrStdout(), report, format)
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func newClusterCmd(opts *rootOptions) *cobra.Command {
	copts := cluster.DefaultOptions()
	var output string
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Find groups of near-duplicate functions",
		Long: `Links every pair of indexed functions whose cosine distance is at most
--max-distance and reports the connected groups, closest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			return opts.withEngine(cmd.Context(), []engine.Option{engine.ReadOnly()}, func(a *app, eng *engine.Engine) error {
				if err := eng.Mismatch(); err != nil {
					return err
				}
				copts.Workers = a.cfg.Index.Workers
				clusters, err := cluster.Find(cmd.Context(), cluster.Items(eng), copts)
				if err != nil {
					return err
				}
				if len(clusters) == 0 && format != cli.OutputJSON {
					fmt.Fprintln(cmd.OutOrStdout(), "No clusters found")
					return nil
				}
				return cli.WriteClusters(cmd.OutOrStdout(), clusters, format)
			})
		},
	}
	cmd.Flags().Float64Var(&copts.MaxDistance, "max-distance", copts.MaxDistance, "largest cosine distance that links two functions")
	cmd.Flags().IntVar(&copts.MinLines, "min-lines", copts.MinLines, "drop clusters containing a function of this many lines or fewer")
	cmd.Flags().IntVar(&copts.MinClusterSize, "min-cluster-size", copts.MinClusterSize, "drop clusters with fewer functions")
	cmd.Flags().BoolVar(&copts.IgnoreIdentical, "ignore-identical", copts.IgnoreIdentical, "drop clusters of identical functions")
	cmd.Flags().StringVar(&output, "output", "text", "output format: text or json")
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var (
		output    string
		serverURL string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			if serverURL != "" {
				st, err := statusViaHTTP(cmd.Context(), serverURL)
				if err != nil {
					return fmt.Errorf("status failed: %w", err)
				}
				return cli.WriteStats(cmd.OutOrStdout(), &st.Stats, st.mismatchError(), format)
			}
			return opts.withEngine(cmd.Context(), []engine.Option{engine.ReadOnly()}, func(a *app, eng *engine.Engine) error {
				stats, err := eng.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return cli.WriteStats(cmd.OutOrStdout(), stats, eng.Mismatch(), format)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().StringVar(&serverURL, "server", "", "ask a running server instead of opening the index")
	return cmd
}
