package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emberwatch/ember/internal/export"
	"github.com/emberwatch/ember/internal/timeline"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format      string
		outPath     string
		starredOnly bool
		fields      []string
		server      bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the case timeline to markdown or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			if server {
				// Server-rendered export, byte-for-byte.
				body, err := a.client.Export(cmd.Context(), guid, starredOnly, fields)
				if err != nil {
					return err
				}
				if _, err := out.Write(body); err != nil {
					return err
				}
				if outPath != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", outPath)
				}
				return nil
			}

			meta, err := a.client.FetchCase(cmd.Context(), guid)
			if err != nil {
				return err
			}
			events, err := a.client.FetchEvents(cmd.Context(), guid)
			if err != nil {
				return err
			}
			buckets := timeline.Bucket(events, meta.UTCDisplay, a.cfg.Zone())

			opts := export.Options{StarredOnly: starredOnly, Fields: fields}
			switch format {
			case "md", "markdown":
				err = export.WriteMarkdown(out, meta, buckets, opts)
			case "json":
				err = export.WriteJSON(out, meta, buckets, opts)
			default:
				return fmt.Errorf("unknown format %q (want md or json)", format)
			}
			if err != nil {
				return err
			}
			if outPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", outPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "output format (md, json)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&starredOnly, "starred", false, "export starred events only")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "markdown detail field (description, category, creator, assignees)")
	cmd.Flags().BoolVar(&server, "server", false, "use the server-rendered export instead of rendering locally")
	return cmd
}
