package cli

import (
	"github.com/spf13/cobra"

	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/logger"
	"github.com/mrcode/nightscout-loop/internal/loop"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/schema"
)

type predictOptions struct {
	*rootOptions
	format      string
	inputFormat string
	units       string
}

func newPredictCmd(root *rootOptions) *cobra.Command {
	opts := &predictOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "predict <snapshot>",
		Short: "Run the engine over a stored snapshot",
		Long: `Run the prediction and dosing engine once over a snapshot document
and print the forecast, insulin and carbs on board, and the recommendation.

Use "-" to read the snapshot from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: opts.run,
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVar(&opts.inputFormat, "input-format", "json", "Format of a snapshot read from stdin")
	cmd.Flags().StringVarP(&opts.units, "units", "u", "", "Glucose units of the output (default: therapy.units)")
	return cmd
}

func (o *predictOptions) run(cmd *cobra.Command, args []string) error {
	format, err := schema.ParseFormat(o.format)
	if err != nil {
		return err
	}
	unit, err := o.outputUnit()
	if err != nil {
		return err
	}
	engineCfg, err := o.cfg.ToEngineConfiguration()
	if err != nil {
		return err
	}

	var doc schema.SnapshotDocument
	if err := readDocument(cmd, args[0], o.inputFormat, &doc); err != nil {
		return err
	}
	snap, err := doc.Snapshot(engineCfg.AbsorptionTimes)
	if err != nil {
		return err
	}

	engine, err := loop.New(engineCfg, logger.Named("engine"))
	if err != nil {
		return err
	}
	result, err := engine.Run(snap)
	if err != nil {
		return errors.Wrap(err, "no recommendation")
	}

	out, err := schema.NewResultDocument(result, unit)
	if err != nil {
		return err
	}
	return schema.Encode(cmd.OutOrStdout(), format, out)
}

func (o *predictOptions) outputUnit() (models.Unit, error) {
	if o.units == "" {
		return o.cfg.DisplayUnit()
	}
	return models.ParseGlucoseUnit(o.units)
}
