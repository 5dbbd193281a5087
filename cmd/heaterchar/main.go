package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"

	"github.com/nasa-jpl/heaterchar/config"
	"github.com/nasa-jpl/heaterchar/heater"
	"github.com/nasa-jpl/heaterchar/heater/sim"
	"github.com/nasa-jpl/heaterchar/keysight"
	"github.com/nasa-jpl/heaterchar/logger"
	"github.com/nasa-jpl/heaterchar/rigol"
	"github.com/nasa-jpl/heaterchar/status"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "heaterchar",
		Short: "Characterize heater resistance against temperature",
		Long: `heaterchar drives a heater element from a programmable supply in short bursts
while a DMM reads its thermocouple, and records the resistance V/I at every
settled temperature peak from ambient up to a safety ceiling.  The samples are
written as CSV.

Configuration is read from heaterchar.yml, use mkconf to write the defaults,
and may be overridden by HEATERCHAR_ environment variables, for example
HEATERCHAR_SWEEP_CEILING=300.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", config.FileName, "configuration file")

	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newSimulateCmd(&cfgPath))
	root.AddCommand(newMkconfCmd(&cfgPath))
	root.AddCommand(newConfCmd(&cfgPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "heaterchar version %v\n", Version)
		},
	})
	return root
}

func loadConfig(path string) (config.Config, error) {
	c, err := config.Load(path)
	if err != nil {
		return c, err
	}
	return c, c.Validate()
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a sweep on the configured instruments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			log := logger.New(c.LogLevel)
			defer log.Sync()

			dmm := keysight.NewDMM(c.Thermometer.Addr, c.Thermometer.Serial, time.Duration(c.Thermometer.Timeout))
			dmm.Baud = c.Thermometer.Baud
			psu := rigol.NewDP800(c.Supply.Addr, c.Supply.Serial, time.Duration(c.Supply.Timeout), c.Supply.Channel)
			psu.Baud = c.Supply.Baud
			psu.Handshaking = c.Supply.Handshaking

			if err = connect(dmm, psu); err != nil {
				return err
			}
			defer dmm.Close()
			defer psu.Close()
			// whatever happens below, the element is left unpowered
			defer func() {
				if err := psu.OutputOff(); err != nil {
					log.Errorw("switching output off", "err", err)
				}
			}()

			if err = dmm.ConfigureThermocouple(c.Thermometer.Thermocouple); err != nil {
				return fmt.Errorf("configuring thermocouple: %w", err)
			}
			return sweep(cmd.Context(), c, log, dmm, psu)
		},
	}
}

func newSimulateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a sweep on a simulated heater, in virtual time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			log := logger.New(c.LogLevel)
			defer log.Sync()

			h := sim.New(sim.DefaultParams(), nil)
			return sweep(cmd.Context(), c, log, h.Thermometer(), h.Supply(), heater.WithClock(h.Clock()))
		},
	}
}

// opener is an instrument with a connection to open
type opener interface {
	Open() error
}

// connect opens both instruments behind a spinner
func connect(therm, supply opener) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " connecting",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopMessage:       "instruments ready",
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		return err
	}
	if err = spinner.Start(); err != nil {
		return err
	}
	for _, inst := range []struct {
		name string
		dev  opener
	}{{"thermometer", therm}, {"supply", supply}} {
		spinner.Message(inst.name)
		if err = inst.dev.Open(); err != nil {
			spinner.StopFailMessage(err.Error())
			spinner.StopFail()
			return fmt.Errorf("opening %s: %w", inst.name, err)
		}
	}
	return spinner.Stop()
}

// sweep runs the characterization and saves whatever was recorded, also when
// it was cut short
func sweep(ctx context.Context, c config.Config, log *zap.SugaredLogger, therm heater.Thermometer, supply heater.PowerSource, opts ...heater.Option) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts = append(opts, heater.WithLogger(log))
	if c.StatusAddr != "" {
		mon := status.New(nil)
		opts = append(opts, heater.WithMonitor(mon))
		srvCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			log.Infow("status server listening", "addr", c.StatusAddr)
			if err := status.ListenAndServe(srvCtx, c.StatusAddr, mon.Handler()); err != nil {
				log.Errorw("status server", "err", err)
			}
		}()
	}

	s := heater.New(c.Heater(), therm, supply, opts...)
	res, err := s.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		log.Warnw("sweep interrupted", "samples", len(res.Samples))
	case err != nil:
		log.Errorw("sweep aborted", "err", err, "samples", len(res.Samples))
	}
	if res.ThermometerID == "" && res.SupplyID == "" {
		return err
	}
	if saveErr := res.Save(c.Output); saveErr != nil {
		log.Errorw("saving samples", "output", c.Output, "err", saveErr)
		if err == nil {
			err = saveErr
		}
	} else {
		log.Infow("samples saved", "output", c.Output, "samples", len(res.Samples))
	}
	return err
}

func newMkconfCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the effective configuration to the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			return c.WriteFile(*cfgPath)
		},
	}
}

func newConfCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			return c.Write(cmd.OutOrStdout())
		},
	}
}
