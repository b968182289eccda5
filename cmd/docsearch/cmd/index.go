package cmd

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/index"
	"github.com/Aman-CERP/docsearch/internal/output"
	"github.com/Aman-CERP/docsearch/internal/preflight"
	"github.com/Aman-CERP/docsearch/internal/ui"
	"github.com/Aman-CERP/docsearch/pkg/docsearch"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		force   bool
		watch   bool
		plain   bool
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Fetch, chunk and embed the configured documentation",
		Long: `Bring the local index in line with the configured source.

Only new and changed documents are processed; documents removed from the
source are dropped from the index. Use --force to reprocess everything and
--watch to keep re-indexing a local directory as files change.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runIndex(ctx, cmd, a, force, watch, plain, noColor)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reprocess unchanged documents")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep indexing as a directory source changes")
	cmd.Flags().BoolVar(&plain, "plain", false, "Plain progress output (no TUI)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, a *app, force, watch, plain, noColor bool) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	if err := preflightOnce(cfg); err != nil {
		return err
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plain || watch),
		ui.WithNoColor(noColor),
		ui.WithSource(sourceLabel(cfg)),
	))

	client, err := docsearch.Open(ctx, cfg,
		docsearch.WithLogger(a.logger),
		docsearch.WithProgress(progressAdapter(renderer)),
	)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := renderer.Start(ctx); err != nil {
		return err
	}
	summary, runErr := client.Run(ctx, index.Options{Force: force})
	renderer.Complete(completionStats(client, summary))
	_ = renderer.Stop()
	if summary.Canceled {
		// partial progress is already committed per document
		return nil
	}
	if runErr != nil {
		return runErr
	}

	if !watch {
		return nil
	}
	return watchIndex(ctx, cmd, cfg, client)
}

func watchIndex(ctx context.Context, cmd *cobra.Command, cfg *config.Config, client *docsearch.Client) error {
	out := output.New(cmd.OutOrStdout())
	out.Statusf("👀", "Watching %s for changes (Ctrl+C to stop)", cfg.Source.Dir)

	err := client.Watch(ctx, func(s index.Summary, err error) {
		if err != nil {
			out.Error(errors.FormatForCLI(err))
			return
		}
		out.Statusf("✓", "%d new, %d changed, %d deleted (%d chunks)", s.New, s.Changed, s.Deleted, s.Chunks)
		if len(s.DegradedEvents) > 0 {
			out.Warningf("%d documents indexed without embeddings", len(s.DegradedEvents))
		}
	})
	if stderrors.Is(err, context.Canceled) {
		out.Status("", "Stopped watching")
		return nil
	}
	return err
}

// preflightOnce runs the blocking checks before the first run in a data
// directory.
func preflightOnce(cfg *config.Config) error {
	dataDir := preflight.DataDir(cfg)
	if !preflight.NeedsCheck(dataDir) {
		return nil
	}
	checker := preflight.New()
	for _, r := range checker.RunRequired(cfg) {
		if r.IsCritical() {
			return errors.New(errors.ErrCodeConfigInvalid, r.Name+": "+r.Message, nil).
				WithSuggestion("Run 'docsearch doctor' for details")
		}
	}
	return preflight.MarkPassed(dataDir)
}

// progressAdapter forwards index progress to a renderer.
func progressAdapter(r ui.Renderer) index.ProgressFunc {
	return func(p index.Progress) {
		if p.Err != nil {
			r.AddError(ui.ErrorEvent{
				DocPath: p.DocPath,
				Err:     p.Err,
				IsWarn:  errors.GetCode(p.Err) == errors.ErrCodeEmbedUnavailable,
			})
		}
		r.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.ParseStage(string(p.Stage)),
			Current: p.Current,
			Total:   p.Total,
			DocPath: p.DocPath,
		})
	}
}

func completionStats(client *docsearch.Client, s index.Summary) ui.CompletionStats {
	return ui.CompletionStats{
		Source:    client.SourceName(),
		New:       s.New,
		Changed:   s.Changed,
		Unchanged: s.Unchanged,
		Deleted:   s.Deleted,
		Failed:    len(s.Failed),
		Skipped:   len(s.Skipped),
		Degraded:  len(s.DegradedEvents),
		Chunks:    s.Chunks,
		Duration:  s.Duration,
		Canceled:  s.Canceled,
		Model:     client.ModelID(),
	}
}
