package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"kiln/internal/api"
	"kiln/internal/store"
	"kiln/internal/telemetry"
)

func newCountsCommand(cctx *commandContext) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Show flash outcome counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}

			var counts map[string]api.Counters
			if remote {
				client, err := telemetry.NewClient(cfg.Telemetry)
				if err != nil {
					return err
				}
				counts, err = client.Counts(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				logger, err := cctx.ensureLogger()
				if err != nil {
					return err
				}
				counters := store.NewCounterStore(cfg.CountersPath(), cfg.Server.MaxCountersBytes, logger)
				counts, err = counters.All()
				if err != nil {
					return err
				}
			}

			if len(counts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No flashes recorded yet.")
				return nil
			}

			projects := make([]string, 0, len(counts))
			for project := range counts {
				projects = append(projects, project)
			}
			sort.Strings(projects)

			var totalAll, successAll, failedAll int64
			rows := make([][]string, 0, len(projects)+1)
			for _, project := range projects {
				c := counts[project]
				totalAll += c.Total
				successAll += c.Success
				failedAll += c.Failed
				rows = append(rows, []string{
					project,
					strconv.FormatInt(c.Total, 10),
					strconv.FormatInt(c.Success, 10),
					strconv.FormatInt(c.Failed, 10),
				})
			}
			rows = append(rows, []string{
				"(all)",
				strconv.FormatInt(totalAll, 10),
				strconv.FormatInt(successAll, 10),
				strconv.FormatInt(failedAll, 10),
			})

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Project", "Total", "Success", "Failed"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Query the configured telemetry endpoint instead of the local store")
	return cmd
}
