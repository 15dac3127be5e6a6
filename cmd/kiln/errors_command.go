package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"kiln/internal/api"
	"kiln/internal/errclass"
	"kiln/internal/store"
	"kiln/internal/telemetry"
)

// errorLogReader abstracts the local store and the remote telemetry client so
// the command renders both the same way.
type errorLogReader interface {
	page(ctx context.Context, category, project string, limit, offset int) (api.ErrorLogPage, error)
	summary(ctx context.Context) (api.ErrorSummary, error)
}

type localErrorLog struct{ store *store.ErrorLogStore }

func (l localErrorLog) page(_ context.Context, category, project string, limit, offset int) (api.ErrorLogPage, error) {
	return l.store.Page(category, project, limit, offset)
}

func (l localErrorLog) summary(context.Context) (api.ErrorSummary, error) {
	return l.store.Summary()
}

type remoteErrorLog struct{ client *telemetry.Client }

func (r remoteErrorLog) page(ctx context.Context, category, project string, limit, offset int) (api.ErrorLogPage, error) {
	return r.client.Errors(ctx, category, project, limit, offset)
}

func (r remoteErrorLog) summary(ctx context.Context) (api.ErrorSummary, error) {
	return r.client.Summary(ctx)
}

func newErrorsCommand(cctx *commandContext) *cobra.Command {
	var (
		categoryFlag string
		projectFlag  string
		limitFlag    int
		offsetFlag   int
		summaryFlag  bool
		remote       bool
	)

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect recorded flash failures",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}

			if categoryFlag != "" && !errclass.Valid(errclass.Category(categoryFlag)) {
				return fmt.Errorf("unknown category %q", categoryFlag)
			}

			var reader errorLogReader
			if remote {
				client, err := telemetry.NewClient(cfg.Telemetry)
				if err != nil {
					return err
				}
				reader = remoteErrorLog{client: client}
			} else {
				logger, err := cctx.ensureLogger()
				if err != nil {
					return err
				}
				reader = localErrorLog{store: store.NewErrorLogStore(
					cfg.ErrorLogPath(),
					cfg.Server.MaxErrorLogBytes,
					cfg.Server.MaxErrorEntries,
					logger,
				)}
			}

			out := cmd.OutOrStdout()
			if summaryFlag {
				summary, err := reader.summary(cmd.Context())
				if err != nil {
					return err
				}

				categories := make([]string, 0, len(summary.CategoryCounts))
				for category := range summary.CategoryCounts {
					categories = append(categories, category)
				}
				sort.Strings(categories)

				rows := make([][]string, 0, len(categories))
				for _, category := range categories {
					rows = append(rows, []string{
						category,
						strconv.FormatInt(summary.CategoryCounts[category], 10),
						summary.CategoryDescriptions[category],
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Category", "Count", "Description"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintf(out, "Total failures recorded: %d\n", summary.TotalErrors)
				if !summary.LastUpdated.IsZero() {
					fmt.Fprintf(out, "Last failure: %s\n", summary.LastUpdated.Format("2006-01-02 15:04:05 MST"))
				}
				return nil
			}

			page, err := reader.page(cmd.Context(), categoryFlag, projectFlag, limitFlag, offsetFlag)
			if err != nil {
				return err
			}
			if page.Total == 0 {
				fmt.Fprintln(out, "No failures recorded.")
				return nil
			}

			rows := make([][]string, 0, len(page.Entries))
			for _, entry := range page.Entries {
				rows = append(rows, []string{
					entry.Timestamp.Local().Format("2006-01-02 15:04"),
					entry.Project,
					entry.Category,
					entry.Message,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Time", "Project", "Category", "Message"},
				rows,
				nil,
			))
			if page.HasMore {
				fmt.Fprintf(out, "Showing %d of %d (use --offset %d for more)\n",
					len(page.Entries), page.Total, page.Offset+len(page.Entries))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&categoryFlag, "category", "", "Only failures in this category")
	cmd.Flags().StringVar(&projectFlag, "project", "", "Only failures for this project")
	cmd.Flags().IntVar(&limitFlag, "limit", store.DefaultErrorPageLimit, "Entries per page")
	cmd.Flags().IntVar(&offsetFlag, "offset", 0, "Entries to skip")
	cmd.Flags().BoolVar(&summaryFlag, "summary", false, "Show aggregate statistics instead of entries")
	cmd.Flags().BoolVar(&remote, "remote", false, "Query the configured telemetry endpoint instead of the local store")
	return cmd
}
