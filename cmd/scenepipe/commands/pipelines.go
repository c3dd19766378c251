package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scenepipe/scenepipe/pkg/pipelines"
)

type pipelineInfo struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	NeedsImages    bool   `json:"needs_images"`
	NeedsWorkspace bool   `json:"needs_workspace"`
}

func newPipelinesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pipelines",
		Short: "List the available pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := pipelines.Describe()
			if jsonOutput {
				infos := make([]pipelineInfo, len(defs))
				for i, d := range defs {
					infos[i] = pipelineInfo{
						Name:           d.Name,
						Description:    d.Description,
						NeedsImages:    d.NeedsImages,
						NeedsWorkspace: d.NeedsWorkspace,
					}
				}
				return writeJSON(cmd.OutOrStdout(), infos)
			}

			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "NAME\tREQUIRES\tDESCRIPTION")
			for _, d := range defs {
				requires := "-"
				switch {
				case d.NeedsImages && d.NeedsWorkspace:
					requires = "workspace, images"
				case d.NeedsWorkspace:
					requires = "workspace"
				case d.NeedsImages:
					requires = "images"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, requires, d.Description)
			}
			return tw.Flush()
		},
	}
}
