package cli

import (
	"github.com/spf13/cobra"

	"github.com/mrcode/nightscout-loop/internal/insulin"
	"github.com/mrcode/nightscout-loop/internal/reservoir"
	"github.com/mrcode/nightscout-loop/internal/schema"
)

type reconcileOptions struct {
	*rootOptions
	format      string
	inputFormat string
}

func newReconcileCmd(root *rootOptions) *cobra.Command {
	opts := &reconcileOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "reconcile <reservoir>",
		Short: "Turn reservoir volume readings into doses",
		Long: `Reconcile a reservoir document into delivered doses, reporting rewinds,
gaps and implausible drops as interruptions.

Use "-" to read the readings from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: opts.run,
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVar(&opts.inputFormat, "input-format", "json", "Format of readings read from stdin")
	return cmd
}

func (o *reconcileOptions) run(cmd *cobra.Command, args []string) error {
	format, err := schema.ParseFormat(o.format)
	if err != nil {
		return err
	}
	engineCfg, err := o.cfg.ToEngineConfiguration()
	if err != nil {
		return err
	}

	var doc schema.ReservoirDocument
	if err := readDocument(cmd, args[0], o.inputFormat, &doc); err != nil {
		return err
	}
	result, err := reservoir.Reconcile(schema.ReservoirReadings(doc.Readings), engineCfg.Reservoir)
	if err != nil {
		return err
	}

	total, _ := insulin.TotalDelivery(result.Doses)
	return schema.Encode(cmd.OutOrStdout(), format, schema.NewReconciliationDocument(result, total.Units))
}
