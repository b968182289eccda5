package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/preflight"
	"github.com/Aman-CERP/docsearch/internal/store"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
	"github.com/Aman-CERP/docsearch/internal/ui"
	"github.com/Aman-CERP/docsearch/pkg/docsearch"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		jsonOutput bool
		noColor    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index and embedder status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			dbPath := filepath.Join(preflight.DataDir(cfg), store.DBFileName)
			if _, err := os.Stat(dbPath); err != nil {
				return errors.New(errors.ErrCodeFetchNotFound, "no index at "+dbPath, err).
					WithSuggestion("Run 'docsearch index' first")
			}

			client, err := docsearch.Open(cmd.Context(), cfg, docsearch.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			info := statusInfo(cmd, cfg, client, dbPath)
			r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor())
			if jsonOutput {
				return r.RenderJSON(info)
			}
			return r.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	return cmd
}

func statusInfo(cmd *cobra.Command, cfg *config.Config, client *docsearch.Client, dbPath string) ui.StatusInfo {
	stats := client.Stats()
	info := ui.StatusInfo{
		Source:           client.SourceName(),
		IndexPath:        dbPath,
		IndexSize:        fileSize(dbPath) + fileSize(dbPath+"-wal"),
		Documents:        stats.Documents,
		Chunks:           stats.Chunks,
		Degraded:         stats.Degraded,
		Models:           stats.Models,
		LexicalBackend:   stats.LexicalBackend,
		ANN:              stats.ANN,
		EmbedderProvider: cfg.Embeddings.Provider,
		EmbedderModel:    client.ModelID(),
		EmbedderStatus:   client.EmbedderStatus(cmd.Context()),
	}
	if t, err := client.LastIndexed(cmd.Context()); err == nil {
		info.LastIndexed = t
	}
	if q, err := client.QueryStats(cmd.Context()); err == nil {
		info.Queries = &ui.QueryInfo{
			Total:       q.TotalQueries,
			Keyword:     q.Modes[telemetry.ModeKeyword],
			ZeroResults: q.ZeroResultCount,
		}
		for _, tc := range q.TopTerms {
			info.Queries.TopTerms = append(info.Queries.TopTerms, tc.Term)
		}
	}
	return info
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
