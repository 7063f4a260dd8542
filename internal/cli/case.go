package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberwatch/ember/internal/config"
	"github.com/emberwatch/ember/internal/models"
)

func newCaseCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Inspect and manage cases",
	}
	cmd.AddCommand(
		newCaseUseCmd(a),
		newCaseShowCmd(a),
		newCaseCloseCmd(a),
		newCaseReopenCmd(a),
		newCaseUTCCmd(a),
		newCaseDeleteCmd(a),
	)
	return cmd
}

func newCaseUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use <guid>",
		Short: "Select the case later commands operate on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := a.client.FetchCase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ctx := &config.Context{}
			ctx.SetCase(meta.GUID, meta.Name)
			if err := a.contexts.Save(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected case %s\n", ctx)
			return nil
		},
	}
}

func newCaseShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the selected case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}
			meta, err := a.client.FetchCase(cmd.Context(), guid)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Case:        %s\n", meta.Name)
			fmt.Fprintf(out, "GUID:        %s\n", meta.GUID)
			if meta.TSID != "" {
				fmt.Fprintf(out, "TSID:        %s\n", meta.TSID)
			}
			if meta.Description != "" {
				fmt.Fprintf(out, "Description: %s\n", meta.Description)
			}
			state := "open"
			if meta.IsClosed() {
				state = "closed since " + meta.Closed
			}
			fmt.Fprintf(out, "State:       %s\n", state)
			zone := "local"
			if meta.UTCDisplay {
				zone = "UTC"
			}
			fmt.Fprintf(out, "Display:     %s\n", zone)
			if len(meta.ACS) > 0 {
				fmt.Fprintf(out, "Access:      %v\n", meta.ACS)
			}
			return nil
		},
	}
}

func newCaseCloseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Close the selected case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}
			closed := time.Now().UTC().Format(time.RFC3339)
			if _, err := a.client.UpdateCase(cmd.Context(), guid, models.CasePatch{Closed: &closed}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Case closed")
			return nil
		},
	}
}

func newCaseReopenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen",
		Short: "Reopen the selected case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}
			empty := ""
			if _, err := a.client.UpdateCase(cmd.Context(), guid, models.CasePatch{Closed: &empty}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Case reopened")
			return nil
		},
	}
}

func newCaseUTCCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "utc <on|off>",
		Short: "Switch the case between UTC and local date bucketing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}
			var utc bool
			switch args[0] {
			case "on":
				utc = true
			case "off":
				utc = false
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			if _, err := a.client.UpdateCase(cmd.Context(), guid, models.CasePatch{UTCDisplay: &utc}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "UTC display: %s\n", args[0])
			return nil
		},
	}
}

func newCaseDeleteCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the selected case",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			guid, err := a.resolveCase()
			if err != nil {
				return err
			}
			if !force {
				return fmt.Errorf("refusing to delete case %s without --force", guid)
			}
			if err := a.client.DeleteCase(cmd.Context(), guid); err != nil {
				return err
			}
			if err := a.cache.ForgetCase(guid); err == nil {
				_ = a.contexts.Clear()
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Case deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "confirm the deletion")
	return cmd
}
