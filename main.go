package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"ble-bridge.klederson.com/internal/bluetooth"
	"ble-bridge.klederson.com/internal/bridge"
	"ble-bridge.klederson.com/internal/config"
	"ble-bridge.klederson.com/internal/logging"
	"ble-bridge.klederson.com/internal/sink"
)

var (
	flagConfig   string
	flagDemo     bool
	flagAdapter  string
	flagLogLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ble-bridge",
		Short: "BLE Bridge - relay a BLE peripheral's serial-style service to MQTT",
		Long: `BLE Bridge finds a BLE peripheral by name or address, connects to its
custom write/read service and relays lines in both directions: notifications
are published to an MQTT broker (or printed), stdin lines are written back.

It also times round trips, estimates distance from calibrated RSSI and runs
the calibration walk that produces that model.

Requires sudo or CAP_NET_ADMIN capability for real Bluetooth access.
Use --demo for a simulated peripheral without Bluetooth hardware.`,
		SilenceUsage: true,
		RunE:         runBridge,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagDemo, "demo", false, "Run against a simulated peripheral (no Bluetooth required)")
	rootCmd.PersistentFlags().StringVar(&flagAdapter, "adapter", "", "Bluetooth adapter to use (default from config, hci0)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		bridgeCmd(),
		benchCmd(),
		pollCmd(),
		distanceCmd(),
		calibrateCmd(),
		scanCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what every subcommand needs once flags are parsed.
type env struct {
	cfg       *config.Config
	log       *logrus.Logger
	transport bluetooth.Transport
}

func setup() (*env, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagAdapter != "" {
		cfg.Adapter = flagAdapter
	}
	if flagLogLevel != "" {
		cfg.Logger.Level = flagLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New(cfg.Logger)

	var transport bluetooth.Transport
	if flagDemo {
		desc := bluetooth.ServiceDescriptor{
			ServiceUUID: cfg.Service.UUID,
			WriteUUID:   cfg.Service.WriteUUID,
			ReadUUID:    cfg.Service.ReadUUID,
		}
		bystanders := config.DemoDeviceMin + rand.Intn(config.DemoDeviceMax-config.DemoDeviceMin+1)
		transport = bluetooth.NewDemoTransport(cfg.Target.Name, cfg.Target.Address, desc, bystanders)
		log.WithField("bystanders", bystanders).Info("demo mode, using simulated radio")
	} else {
		transport = bluetooth.NewTinyGoTransport(cfg.Adapter, log)
	}

	return &env{cfg: cfg, log: log, transport: transport}, nil
}

// newBridge builds a bridge publishing to MQTT when a broker is configured,
// to stdout otherwise.
func (e *env) newBridge(withSink bool) (*bridge.Bridge, sink.Sink, error) {
	var out sink.Sink
	if withSink {
		if e.cfg.MQTT.Broker != "" {
			m, err := sink.DialMQTT(e.cfg.MQTT, e.log)
			if err != nil {
				return nil, nil, err
			}
			out = sink.NewBreaker(m, e.cfg.MQTT.MaxFailures, e.cfg.MQTT.OpenTimeout, e.log)
		} else {
			out = sink.NewConsole(os.Stdout)
		}
	}
	return bridge.New(bridge.ConfigFrom(e.cfg), e.transport, out, e.log), out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// explain adds a hint for the errors users hit first.
func explain(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, bluetooth.ErrTransportUnavailable) && !flagDemo {
		fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
		fmt.Fprintln(os.Stderr, "Bluetooth access requires elevated permissions.")
		fmt.Fprintln(os.Stderr, "Try one of:")
		fmt.Fprintln(os.Stderr, "  sudo ./ble-bridge")
		fmt.Fprintln(os.Stderr, "  sudo setcap cap_net_admin+ep ./ble-bridge")
		fmt.Fprintln(os.Stderr, "  ./ble-bridge --demo    (demo mode, no hardware needed)")
	}
	return err
}
