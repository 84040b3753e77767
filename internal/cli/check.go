package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcode/nightscout-loop/internal/dosing"
	"github.com/mrcode/nightscout-loop/internal/errors"
)

func newCheckCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check manual doses against the guardrails",
		Long: `Check a manually requested dose against the configured guardrails.
Requests outside the limits are rejected, never clamped.

Examples:
  nightscout-loop check bolus 4.5
  nightscout-loop check temp-basal 1.2 --duration 1h`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "bolus <units>",
		Short: "Check a bolus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			if err := dosing.ValidateBolusRequest(units, root.cfg.Guardrails()); err != nil {
				return err
			}
			rounder, err := root.cfg.Rounder()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Bolus of %g U is within guardrails (delivers %g U)\n", units, rounder.Bolus(units))
			return nil
		},
	})

	var duration time.Duration
	tempBasal := &cobra.Command{
		Use:   "temp-basal <rate>",
		Short: "Check a temp basal rate in U/hr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			if err := dosing.ValidateTempBasalRequest(rate, duration, root.cfg.Guardrails()); err != nil {
				return err
			}
			rounder, err := root.cfg.Rounder()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Temp basal of %g U/hr for %s is within guardrails (delivers %g U/hr)\n", rate, duration, rounder.Rate(rate))
			return nil
		},
	}
	tempBasal.Flags().DurationVarP(&duration, "duration", "d", dosing.DefaultTempBasalDuration, "Temp basal duration")
	cmd.AddCommand(tempBasal)

	return cmd
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Newf("%q is not a number", s)
	}
	return v, nil
}
