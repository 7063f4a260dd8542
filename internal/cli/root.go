// Package cli wires the ember command tree: configuration, logging, the API
// client, and the case/event/watch subcommands.
package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emberwatch/ember/internal/api"
	"github.com/emberwatch/ember/internal/cache"
	"github.com/emberwatch/ember/internal/config"
	"github.com/emberwatch/ember/internal/logging"
)

// Execute runs the ember CLI.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

// app carries the state shared by every subcommand after PersistentPreRunE.
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string
	caseRef   string

	cfg      *config.Config
	client   *api.Client
	cache    *cache.Cache
	contexts *config.ContextStore
}

func newRootCmd(version string) *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "ember",
		Short:         "Live case timeline client",
		Long:          "ember follows a case's event timeline: bulk load plus live updates, date-bucketed, filtered, and exported.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.config/ember/config.yaml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "override logging format (json, console)")
	cmd.PersistentFlags().StringVarP(&a.caseRef, "case", "c", "", "case GUID (defaults to the selected case)")

	cmd.AddCommand(
		newWatchCmd(a),
		newCaseCmd(a),
		newEventCmd(a),
		newTrashCmd(a),
		newExportCmd(a),
	)

	return cmd
}

func (a *app) setup() error {
	loader := config.NewLoader()
	if a.cfgFile != "" {
		loader.SetConfigFile(a.cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if cfg.API.BaseURL == "" {
		return errors.New("api.base_url is not configured (set EMBER_API_BASE_URL or the config file)")
	}

	a.cfg = cfg
	a.client = api.New(api.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout,
		Retries: cfg.API.Retries,
	})
	a.cache = cache.New(cfg.Cache.Dir)
	a.contexts = config.NewContextStore("")
	return nil
}

// resolveCase returns the case GUID from the --case flag or the saved context.
func (a *app) resolveCase() (string, error) {
	if guid := strings.TrimSpace(a.caseRef); guid != "" {
		return guid, nil
	}
	ctx, err := a.contexts.Load()
	if err != nil {
		return "", err
	}
	if ctx.IsEmpty() {
		return "", fmt.Errorf("no case selected; pass --case or run 'ember case use <guid>'")
	}
	return ctx.CaseGUID, nil
}
