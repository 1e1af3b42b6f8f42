package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/darkhz/bttnc/bluez"
	"github.com/darkhz/bttnc/config"
	"github.com/darkhz/bttnc/kiss"
	"github.com/darkhz/bttnc/orchestrator"
	"github.com/darkhz/bttnc/poll"
	"github.com/darkhz/bttnc/rfcomm"
	"github.com/darkhz/bttnc/tnc"
)

// These values are set at compile-time.
var (
	Version  = ""
	Revision = ""
)

// mode describes what the application was asked to do.
type mode int

const (
	modeNone mode = iota
	modeConnect
	modeReconnect
	modeAutoConnect
	modeHalt
)

var modeFlags = map[string]mode{
	"connect":      modeConnect,
	"reconnect":    modeReconnect,
	"auto-connect": modeAutoConnect,
	"halt":         modeHalt,
}

// Run runs the commandline application.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newApp().RunContext(ctx, os.Args)
}

// newApp returns a new commandline application.
func newApp() *cli.App {
	cli.VersionPrinter = func(cCtx *cli.Context) {
		fmt.Fprintf(cCtx.App.Writer, "%s (%s)\n", Version, Revision)
	}

	return &cli.App{
		Name:                   "bttnc",
		Usage:                  "Bluetooth TNC connection manager.",
		Version:                Version + " (" + Revision + ")",
		Description:            "Pairs a Bluetooth packet radio TNC, binds it to a serial channel and brings up its AX.25 interface.",
		Copyright:              "(c) bttnc authors.",
		Compiled:               time.Now(),
		EnableBashCompletion:   true,
		UseShortOptionHandling: true,
		Suggest:                true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "connect",
				Aliases: []string{"c"},
				Usage:   "Connect the device with the given address. (For example, '38:D2:00:01:11:FE')",
			},
			&cli.BoolFlag{
				Name:    "reconnect",
				Aliases: []string{"e"},
				Usage:   "Connect the device that was last connected on the channel.",
			},
			&cli.BoolFlag{
				Name:    "auto-connect",
				Aliases: []string{"a"},
				Usage:   "Scan for a compatible device and connect the first one that is found.",
			},
			&cli.BoolFlag{
				Name:    "halt",
				Aliases: []string{"x"},
				Usage:   "Stop the connection on the channel and release it.",
			},
			&cli.BoolFlag{
				Name:    "list-devices",
				Aliases: []string{"l"},
				Usage:   "Scan and list compatible and all devices.",
				Action: func(cliCtx *cli.Context, _ bool) error {
					return listDevices(cliCtx)
				},
			},
			&cli.StringFlag{
				Name:    "callsign",
				Aliases: []string{"s"},
				EnvVars: []string{"BTTNC_CALLSIGN"},
				Usage:   "Specify the callsign of the AX.25 port. (For example, N0CALL-5)",
			},
			&cli.IntFlag{
				Name:    "rfcomm",
				Aliases: []string{"r"},
				EnvVars: []string{"BTTNC_RFCOMM"},
				Usage:   "Specify the channel index N, which selects /dev/rfcommN, axN and the port tncN.",
			},
			&cli.BoolFlag{
				Name:    "no-kiss",
				Aliases: []string{"n"},
				EnvVars: []string{"BTTNC_NO_KISS"},
				Usage:   "Only bind the serial channel, do not attach KISS.",
			},
			&cli.StringFlag{
				Name:    "adapter",
				EnvVars: []string{"BTTNC_ADAPTER"},
				Usage:   "Specify an adapter to use. (For example, hci0)",
			},
			&cli.StringFlag{
				Name:    "pin",
				EnvVars: []string{"BTTNC_PIN"},
				Usage:   "Specify the PIN for devices that use legacy pairing.",
			},
			&cli.IntFlag{
				Name:    "scan-ticks",
				EnvVars: []string{"BTTNC_SCAN_TICKS"},
				Usage:   "Specify the number of seconds to scan for devices.",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				EnvVars: []string{"BTTNC_VERBOSE"},
				Usage:   "Log every step of the connection.",
			},
			&cli.BoolFlag{
				Name:    "generate",
				Aliases: []string{"g"},
				Usage:   "Generate configuration.",
				Action: func(cliCtx *cli.Context, _ bool) error {
					k := koanf.New(".")

					cliCtx.Command.Name = "global"

					conf := config.NewConfig()
					if err := conf.Load(k, cliCtx); err != nil {
						return err
					}

					oldcfgparsed, err := conf.GenerateAndSave(k)
					if !oldcfgparsed {
						printWarn("the old configuration could not be parsed")
					}

					return err
				},
			},
		},
		Action: func(cliCtx *cli.Context) error {
			if cliCtx.Bool("list-devices") || cliCtx.Bool("generate") {
				return nil
			}

			selected, err := selectMode(cliCtx)
			if err != nil {
				return err
			}
			if selected == modeNone {
				return cli.ShowAppHelp(cliCtx)
			}

			cfg, err := loadConfig(cliCtx)
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Values.Verbose)

			if selected == modeHalt {
				return halt(cliCtx.Context, cfg, logger)
			}

			return connect(cliCtx, cfg, logger, selected)
		},
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err == nil {
				return
			}

			printError(err)
		},
	}
}

// selectMode returns the selected mode. Only one mode may be selected.
func selectMode(cliCtx *cli.Context) (mode, error) {
	selected := modeNone

	for name, m := range modeFlags {
		if !cliCtx.IsSet(name) {
			continue
		}

		if selected != modeNone {
			return modeNone, errors.New("only one of --connect, --reconnect, --auto-connect and --halt can be used")
		}

		selected = m
	}

	return selected, nil
}

// loadConfig loads and validates the configuration.
func loadConfig(cliCtx *cli.Context) (*config.Config, error) {
	// required for koanf to merge all global flags under the root namespace.
	cliCtx.Command.Name = "global"

	k, cfg := koanf.New("."), config.NewConfig()
	if err := cfg.Load(k, cliCtx); err != nil {
		return nil, err
	}
	if err := cfg.ValidateValues(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// halt stops the connection on the selected channel.
func halt(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) error {
	if err := orchestrator.Preflight(false); err != nil {
		return err
	}

	channel := cfg.Values.Channel()

	orch := orchestrator.New(orchestrator.Deps{
		Bridge: rfcomm.NewTool(logger),
		Logger: logger,
	}, orchestrator.Options{})
	if err := orch.Halt(ctx, channel); err != nil {
		return err
	}

	printInfo(fmt.Sprintf("%s is released", channel.Path()))

	return nil
}

// connect connects a device on the selected channel.
func connect(cliCtx *cli.Context, cfg *config.Config, logger logrus.FieldLogger, selected mode) error {
	channel := cfg.Values.Channel()

	var address tnc.Address
	switch selected {
	case modeConnect:
		parsed, err := tnc.ParseAddress(cliCtx.String("connect"))
		if err != nil {
			return err
		}

		address = parsed

	case modeReconnect:
		last, ok := cfg.DeviceFor(channel)
		if !ok {
			return fmt.Errorf("no device was connected on %s yet, use --connect", channel.Path())
		}

		address = last
	}

	if err := orchestrator.Preflight(!cfg.Values.NoKiss); err != nil {
		return err
	}

	agent, err := bluez.NewDBusAgent(bluez.Options{
		Adapter: cfg.Values.Adapter,
		PinCode: cfg.Values.PinCode,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer agent.Close()

	progress := newProgress(cfg.Values.Verbose)
	defer progress.Stop()

	orch := orchestrator.New(orchestrator.Deps{
		Agent:    agent,
		Bridge:   rfcomm.NewTool(logger),
		Attacher: kiss.NewTool(cfg.Values.Kiss, poll.System(), logger),
		Store:    cfg,
		Prompt:   newPrompter(os.Stdin, color.Output),
		Progress: progress,
		Logger:   logger,
	}, orchestrator.Options{
		DiscoveryTicks: cfg.Values.ScanTicks,
	})

	if selected == modeAutoConnect {
		selection, err := orch.AutoConnect(cliCtx.Context, channel, cfg.Values.Callsign, cfg.Values.NoKiss)
		progress.Stop()

		if selection.Candidates > 1 {
			printWarn(fmt.Sprintf("%d compatible devices were found, using the first one", selection.Candidates))
		}
		if selection.Candidates > 0 {
			printInfo(fmt.Sprintf("Selected %s (%s)", selection.Device.DisplayName(), selection.Device.Address))
		}
		if err != nil {
			return err
		}

		printInfo(selection.Outcome.String())

		return nil
	}

	outcome, err := orch.Connect(cliCtx.Context, tnc.Target{
		Address:        address,
		Channel:        channel,
		Callsign:       cfg.Values.Callsign,
		SkipLinkAttach: cfg.Values.NoKiss,
	}, false)
	progress.Stop()
	if err != nil {
		return err
	}

	printInfo(outcome.String())

	return nil
}

// listDevices scans for devices and lists them.
func listDevices(cliCtx *cli.Context) error {
	cfg, err := loadConfig(cliCtx)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Values.Verbose)

	agent, err := bluez.NewDBusAgent(bluez.Options{
		Adapter: cfg.Values.Adapter,
		PinCode: cfg.Values.PinCode,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer agent.Close()

	progress := newProgress(cfg.Values.Verbose)
	defer progress.Stop()

	orch := orchestrator.New(orchestrator.Deps{
		Agent:    agent,
		Progress: progress,
		Logger:   logger,
	}, orchestrator.Options{
		DiscoveryTicks: cfg.Values.ScanTicks,
	})

	devices, err := orch.Discover(cliCtx.Context, cfg.Values.ScanTicks)
	progress.Stop()
	if err != nil {
		return err
	}

	printDevices(color.Output, devices)

	return nil
}

// newLogger returns the application logger.
func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: !verbose,
		FullTimestamp:    true,
	})

	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	return logger
}
