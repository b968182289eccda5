package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/docsearch/internal/chunk"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/output"
	"github.com/Aman-CERP/docsearch/internal/search"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit       int
		types       []string
		pathPattern string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documentation",
		Long: `Search the index with a natural-language query.

Results are ranked by semantic similarity. When the embedder is not
reachable, keyword matches are shown instead and marked as such.`,
		Example: `  docsearch search "how do I style a button"
  docsearch search "reactive attributes" -t api -n 5
  docsearch search "layout" -p "docs/guide/*.md" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if strings.TrimSpace(query) == "" {
				return errors.New(errors.ErrCodeQueryEmpty, "query is empty", nil)
			}

			f, err := output.ParseFormat(format)
			if err != nil {
				return errors.New(errors.ErrCodeInvalidInput, err.Error(), nil)
			}
			contentTypes, err := parseContentTypes(types)
			if err != nil {
				return err
			}

			client, _, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			resp, err := client.Query(cmd.Context(), search.Query{
				Text:         query,
				Limit:        limit,
				ContentTypes: contentTypes,
				PathPattern:  pathPattern,
			})
			if err != nil {
				return err
			}
			return output.New(cmd.OutOrStdout()).Results(query, resp, f)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Content types to include: code, api, guide, reference, generic (repeatable)")
	cmd.Flags().StringVarP(&pathPattern, "path", "p", "", "Glob over document paths, e.g. docs/widgets/*.md")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}

func parseContentTypes(names []string) ([]chunk.ContentType, error) {
	var out []chunk.ContentType
	for _, name := range names {
		ct, ok := chunk.ParseContentType(name)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown content type %q", name), nil).
				WithSuggestion("Use one of: code, api, guide, reference, generic")
		}
		out = append(out, ct)
	}
	return out, nil
}
