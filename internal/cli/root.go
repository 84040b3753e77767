// Package cli implements the nightscout-loop commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrcode/nightscout-loop/internal/config"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/logger"
	"github.com/mrcode/nightscout-loop/internal/schema"
)

// Exit codes
const (
	ExitOK               = 0
	ExitError            = 1
	ExitInvalidConfig    = 2
	ExitNoRecommendation = 3
	ExitGuardrail        = 4
)

// rootOptions is the state shared by every command of one invocation
type rootOptions struct {
	configPath string
	cfg        *config.Config
}

// NewRootCommand builds the command tree. Each call returns fresh flag state.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "nightscout-loop",
		Short: "Closed-loop insulin dosing recommendations from Nightscout data",
		Long: `nightscout-loop predicts glucose from insulin, carbs and recent
glucose history, and recommends temp basals and boluses within the
configured guardrails.

Configuration sources (later overrides earlier):
  1. Built-in defaults
  2. User config (e.g. ~/.config/nightscout-loop/loop.toml)
  3. Project config (./loop.toml, searched up directories)
  4. LOOP_* environment variables (NIGHTSCOUT_URL and API_SECRET also work)

Examples:
  nightscout-loop predict snapshot.yaml           # Predict from a stored snapshot
  nightscout-loop run                             # One dry-run cycle against Nightscout
  nightscout-loop run --watch                     # Keep cycling every loop.interval
  nightscout-loop reconcile reservoir.json        # Reservoir readings to doses
  nightscout-loop check bolus 4.5                 # Check a bolus against guardrails
  nightscout-loop status                          # Nightscout connection and latest reading
  nightscout-loop therapy export therapy.yaml     # Save the Nightscout profile locally
  nightscout-loop config show --format yaml       # Show the effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Level); err != nil {
				return errors.Wrap(err, "failed to initialize logger")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: the user and project loop.toml cascade)")

	root.AddCommand(newPredictCmd(opts))
	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newReconcileCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newTherapyCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

func (o *rootOptions) load() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFromFile(o.configPath)
	}
	return config.Load()
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	defer logger.Cleanup()

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if details := errors.FlattenDetails(err); details != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", details)
		}
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		return ExitCode(err)
	}
	return ExitOK
}

// ExitCode maps an error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.IsInsufficientData(err):
		return ExitNoRecommendation
	case errors.IsInvalidConfiguration(err):
		return ExitInvalidConfig
	case errors.IsGuardrailViolation(err):
		return ExitGuardrail
	}
	return ExitError
}

// readDocument decodes a document from path, or from stdin when path is "-"
func readDocument(cmd *cobra.Command, path, stdinFormat string, doc schema.Document) error {
	if path != "-" {
		return schema.ReadFile(path, doc)
	}
	format, err := schema.ParseFormat(stdinFormat)
	if err != nil {
		return err
	}
	return schema.Decode(cmd.InOrStdin(), format, doc)
}
