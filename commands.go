package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"ble-bridge.klederson.com/internal/app"
	"ble-bridge.klederson.com/internal/bluetooth"
	"ble-bridge.klederson.com/internal/bridge"
	"ble-bridge.klederson.com/internal/calibration"
	"ble-bridge.klederson.com/internal/config"
)

func bridgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Relay notifications to the broker and stdin lines to the peripheral (default)",
		RunE:  runBridge,
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	b, out, err := e.newBridge(true)
	if err != nil {
		return err
	}
	defer out.Close()

	ctx, cancel := signalContext()
	defer cancel()

	src := bridge.NewReaderSource(os.Stdin)
	if err := b.RunInteractive(ctx, src); err != nil {
		return explain(err)
	}
	return src.Err()
}

func benchCmd() *cobra.Command {
	var (
		count   int
		payload string
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time confirmed writes to the peripheral",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			b, _, err := e.newBridge(false)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			res, err := b.RunBenchmark(ctx, []byte(payload), count)
			if err != nil {
				return explain(err)
			}
			fmt.Printf("%d writes in %s, %s per write\n", res.Writes, res.Elapsed, res.PerWrite())
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", config.BenchmarkRuns, "Number of writes")
	cmd.Flags().StringVar(&payload, "payload", "A", "Bytes sent on every write")
	return cmd
}

func pollCmd() *cobra.Command {
	var rate float64
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Read the peripheral repeatedly instead of subscribing, publishing every value",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("rate") {
				e.cfg.Bridge.PollRate = rate
			}
			b, out, err := e.newBridge(true)
			if err != nil {
				return err
			}
			defer out.Close()

			ctx, cancel := signalContext()
			defer cancel()
			return explain(b.RunPoll(ctx))
		},
	}
	cmd.Flags().Float64Var(&rate, "rate", 0, "Reads per second, 0 = as fast as the link allows")
	return cmd
}

func distanceCmd() *cobra.Command {
	var (
		tui       bool
		slope     float64
		intercept float64
		modelFile string
		passes    int
	)
	cmd := &cobra.Command{
		Use:   "distance",
		Short: "Estimate the peripheral's distance from live RSSI",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}

			var model calibration.Model
			switch {
			case cmd.Flags().Changed("slope") || cmd.Flags().Changed("intercept"):
				model = calibration.Model{Slope: slope, Intercept: intercept}
			case modelFile != "" || e.cfg.Calibration.ModelFile != "":
				path := modelFile
				if path == "" {
					path = e.cfg.Calibration.ModelFile
				}
				if model, err = calibration.Load(path); err != nil {
					return err
				}
			default:
				model = calibration.Model{Slope: e.cfg.Calibration.Slope, Intercept: e.cfg.Calibration.Intercept}
			}
			if model.IsZero() && flagDemo {
				model = calibration.Model{Slope: -0.5, Intercept: -50}
				e.log.WithField("model", model.String()).Info("demo mode, using sample model")
			}
			if model.Slope == 0 {
				return fmt.Errorf("no calibration model: run calibrate, or pass --model or --slope/--intercept")
			}

			b, _, err := e.newBridge(false)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			if !tui {
				return explain(b.RunDistance(ctx, model, passes, func(r bridge.Reading) {
					fmt.Printf("%s  %s  %4d dBm  ~%.1f cm\n", r.Time.Format("15:04:05"), r.Address, r.RSSI, r.Distance)
				}))
			}

			// Log lines would tear the alt screen.
			e.log.SetOutput(io.Discard)

			target := e.cfg.Target.Address
			if target == "" {
				target = e.cfg.Target.Name
			}
			m := app.New(target, e.cfg.Adapter, model)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
			m.StartDistance(ctx, p, b, passes)

			_, err = p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&tui, "tui", false, "Show a live terminal view instead of printing lines")
	cmd.Flags().Float64Var(&slope, "slope", 0, "Calibration slope (dBm per cm)")
	cmd.Flags().Float64Var(&intercept, "intercept", 0, "Calibration intercept (dBm at 0 cm)")
	cmd.Flags().StringVar(&modelFile, "model", "", "Calibration file written by calibrate --export")
	cmd.Flags().IntVar(&passes, "passes", 0, "Stop after this many scan passes, 0 = until interrupted")
	return cmd
}

func calibrateCmd() *cobra.Command {
	var (
		export string
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Walk the reference distances and fit an RSSI-to-distance model",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			b, _, err := e.newBridge(false)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			var prompt func(context.Context, float64) error
			if !yes {
				lines := bridge.NewReaderSource(os.Stdin).Lines(ctx)
				prompt = func(ctx context.Context, d float64) error {
					fmt.Printf("Place the device at %.0f cm and press ENTER\n", d)
					select {
					case _, ok := <-lines:
						if !ok {
							return io.ErrUnexpectedEOF
						}
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}

			cal := e.cfg.Calibration
			model, samples, err := b.RunCalibration(ctx, cal.ReferenceDistances, cal.SamplesPerPoint, cal.ReadingInterval, prompt)
			if err != nil {
				return explain(err)
			}

			rows := make([][]string, 0, len(samples))
			for _, s := range samples {
				rows = append(rows, []string{
					strconv.FormatFloat(s.Distance, 'f', 0, 64),
					strconv.FormatFloat(s.Strength, 'f', 1, 64),
					strconv.FormatFloat(model.Predict(s.Distance), 'f', 1, 64),
				})
			}
			fmt.Println(table.New().
				Border(lipgloss.NormalBorder()).
				Headers("DISTANCE (cm)", "RSSI (dBm)", "FITTED").
				Rows(rows...).
				Render())
			fmt.Printf("model: %s (max residual %.2f dBm)\n", model, model.MaxResidual(samples))

			if export == "" {
				export = cal.ModelFile
			}
			if export != "" {
				if err := calibration.Save(export, model); err != nil {
					return err
				}
				fmt.Printf("saved to %s\n", export)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&export, "export", "", "Write the fitted model to this YAML file")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not wait for ENTER between reference points")
	return cmd
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List advertising peripherals from one discovery pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			if err := e.transport.Enable(); err != nil {
				return explain(err)
			}

			ctx, cancel := signalContext()
			defer cancel()

			scanner := bluetooth.NewScanner(e.transport, e.cfg.Scan.Window, e.log)
			ads, err := scanner.Discover(ctx, 0)
			if err != nil {
				return explain(err)
			}

			rows := make([][]string, 0, len(ads))
			for _, ad := range ads {
				rows = append(rows, []string{
					ad.Address,
					ad.DisplayName(),
					strconv.Itoa(int(ad.RSSI)),
					bluetooth.LookupManufacturer(ad.CompanyID),
					strconv.Itoa(len(ad.Payload)),
				})
			}
			fmt.Println(table.New().
				Border(lipgloss.NormalBorder()).
				Headers("ADDRESS", "NAME", "RSSI", "MANUFACTURER", "ADV BYTES").
				Rows(rows...).
				Render())
			return nil
		},
	}
}
