package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kiln/internal/catalog"
)

func newProjectsCommand(cctx *commandContext) *cobra.Command {
	var catalogFlag string
	var showDisabled bool

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List flashable projects from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cctx.ensureConfig()
			if err != nil {
				return err
			}
			localizer, err := cctx.localizer()
			if err != nil {
				return err
			}

			catalogPath := strings.TrimSpace(catalogFlag)
			if catalogPath == "" {
				catalogPath = cfg.Paths.CatalogPath
			}
			cat, err := catalog.Load(catalogPath)
			if err != nil {
				return err
			}

			projects := cat.Projects
			if !showDisabled {
				projects = cat.EnabledProjects()
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No projects in the catalog.")
				return nil
			}

			rows := make([][]string, 0, len(projects))
			for _, p := range projects {
				status := "enabled"
				if !p.IsEnabled() {
					status = "disabled"
				}
				rows = append(rows, []string{
					p.ID,
					localizer.Pick(p.Name),
					p.Version,
					p.Chip,
					p.Badge,
					status,
					localizer.Pick(p.Description),
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Version", "Chip", "Badge", "Status", "Description"},
				rows,
				nil,
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogFlag, "catalog", "", "Catalog manifest path (defaults to the configured path)")
	cmd.Flags().BoolVar(&showDisabled, "all", false, "Include disabled projects")
	return cmd
}
