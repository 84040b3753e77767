package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrcode/nightscout-loop/internal/delivery"
	"github.com/mrcode/nightscout-loop/internal/errors"
	"github.com/mrcode/nightscout-loop/internal/logger"
	"github.com/mrcode/nightscout-loop/internal/loop"
	"github.com/mrcode/nightscout-loop/internal/models"
	"github.com/mrcode/nightscout-loop/internal/nightscout"
	"github.com/mrcode/nightscout-loop/internal/schema"
)

type runOptions struct {
	*rootOptions
	watch  bool
	format string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the loop against Nightscout in dry-run mode",
		Long: `Fetch glucose, carbs, doses and the profile from Nightscout, run the
engine and log the rounded recommendation. Nothing is sent to a pump.

Therapy settings come from therapy.path when set, otherwise from the
active Nightscout profile plus the configured guardrails. With --watch,
every successful cycle is written to stdout as it completes.`,
		Args: cobra.NoArgs,
		RunE: opts.run,
	}

	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Keep cycling every loop.interval until interrupted")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Output format: json or yaml")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	format, err := schema.ParseFormat(o.format)
	if err != nil {
		return err
	}
	unit, err := o.cfg.DisplayUnit()
	if err != nil {
		return err
	}
	service, err := o.service()
	if err != nil {
		return err
	}
	write := func(result *loop.Result) error {
		out, err := schema.NewResultDocument(result, unit)
		if err != nil {
			return err
		}
		return schema.Encode(cmd.OutOrStdout(), format, out)
	}

	if o.watch {
		service.OnResult(func(result *loop.Result) {
			if err := write(result); err != nil {
				logger.Logger.Warnw("Failed to write result", "error", err)
			}
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Logger.Infow("Loop started", "interval", o.cfg.Loop.Interval)
		err := service.Start(ctx, o.cfg.Loop.Interval)
		if errors.Is(err, context.Canceled) {
			last, failures := service.Health()
			logger.Logger.Infow("Loop stopped", "last_success", last, "consecutive_errors", failures)
			return nil
		}
		return err
	}

	result, err := service.Cycle(cmd.Context())
	if err != nil {
		return err
	}
	return write(result)
}

// service wires the Nightscout source, the engine and the dry-run delegate
func (o *runOptions) service() (*loop.Service, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	engineCfg, err := o.cfg.ToEngineConfiguration()
	if err != nil {
		return nil, err
	}
	engine, err := loop.New(engineCfg, logger.Named("engine"))
	if err != nil {
		return nil, err
	}

	client, err := o.cfg.NightscoutClient(logger.Named("nightscout"))
	if err != nil {
		return nil, err
	}
	source := nightscout.NewSource(client, o.cfg.Guardrails(), o.cfg.Thresholds(), logger.Named("source"))

	providers := loop.Providers{
		Glucose:  source,
		Carbs:    source,
		Doses:    source,
		Settings: source,
	}
	therapy, err := o.cfg.TherapyFile()
	if err != nil {
		return nil, err
	}
	if therapy != nil {
		providers.Settings = fixedSettings{therapy}
	}

	rounder, err := o.cfg.Rounder()
	if err != nil {
		return nil, err
	}
	delegate := delivery.NewGuard(delivery.NewLogDelegate(logger.Named("delivery")), rounder, logger.Named("guard"))

	return loop.NewService(engine, providers, delegate, logger.Named("loop")), nil
}

// fixedSettings serves therapy settings read once from a file
type fixedSettings struct {
	settings *models.TherapySettings
}

func (f fixedSettings) TherapySettings(ctx context.Context, at time.Time) (*models.TherapySettings, error) {
	return f.settings, nil
}
