package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcode/nightscout-loop/internal/logger"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/nightscout"
	"github.com/mrcode/nightscout-loop/internal/schema"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the Nightscout connection and show the latest reading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := root.cfg.DisplayUnit()
			if err != nil {
				return err
			}
			client, err := root.cfg.NightscoutClient(logger.Named("nightscout"))
			if err != nil {
				return err
			}
			if err := client.TestConnection(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Connected to %s\n", root.cfg.Nightscout.URL)

			entry, err := client.GetCurrentEntry(cmd.Context())
			if err != nil {
				return err
			}
			value := float64(entry.SGV)
			age := time.Since(entry.Time()).Round(time.Minute)
			fmt.Fprintf(out, "Glucose: %s %s (%s, %s ago)\n",
				formatGlucose(value, unit), entry.Direction, root.cfg.Thresholds().Status(value), age)
			return nil
		},
	}
}

func newTherapyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "therapy",
		Short: "Work with therapy settings files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export <file>",
		Short: "Save the active Nightscout profile as a therapy file",
		Long: `Fetch the active Nightscout profile, apply any running temporary
target and write the result as a therapy document. The format follows the
file extension. Point therapy.path at the file to run the loop from it.

Use "-" to print the document as YAML.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.cfg.NightscoutClient(logger.Named("nightscout"))
			if err != nil {
				return err
			}
			source := nightscout.NewSource(client, root.cfg.Guardrails(), root.cfg.Thresholds(), logger.Named("source"))
			settings, err := source.TherapySettings(cmd.Context(), time.Now())
			if err != nil {
				return err
			}

			doc := schema.NewTherapyDocument(*settings)
			if args[0] == "-" {
				return schema.Encode(cmd.OutOrStdout(), schema.YAML, doc)
			}
			if err := schema.WriteFile(args[0], doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Therapy settings written to %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func formatGlucose(mgdl float64, unit models.Unit) string {
	if unit == models.MillimolesPerLiter {
		return fmt.Sprintf("%.1f mmol/L", models.ToMmol(mgdl))
	}
	return fmt.Sprintf("%.0f mg/dL", mgdl)
}
