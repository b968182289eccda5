package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/output"
	"github.com/Aman-CERP/docsearch/internal/preflight"
)

func newDoctorCmd(a *app) *cobra.Command {
	var (
		jsonOutput bool
		verbose    bool
		offline    bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that docsearch can index and search",
		Long: `Run the preflight checks: configuration, data directory access and free
space, open file limit, source, embedder and index presence.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			checker := preflight.New(
				preflight.WithOutput(cmd.OutOrStdout()),
				preflight.WithVerbose(verbose),
				preflight.WithOffline(offline),
			)
			results := checker.RunAll(cmd.Context(), cfg)

			if jsonOutput {
				if err := output.New(cmd.OutOrStdout()).JSON(map[string]any{
					"status": checker.SummaryStatus(results),
					"checks": results,
				}); err != nil {
					return err
				}
			} else {
				checker.PrintResults(results)
			}

			if checker.HasCriticalFailures(results) {
				return errors.New(errors.ErrCodeConfigInvalid, "preflight checks failed", nil).
					WithSuggestion("Fix the FAIL items above and re-run 'docsearch doctor'")
			}
			if err := preflight.MarkPassed(preflight.DataDir(cfg)); err != nil {
				a.logger.Warn("preflight_marker_failed", slog.String("error", err.Error()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show check details")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the embedder probe")
	return cmd
}
