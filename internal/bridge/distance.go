package bridge

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ble-bridge.klederson.com/internal/bluetooth"
	"ble-bridge.klederson.com/internal/calibration"
)

// Reading is one live distance estimate for the target.
type Reading struct {
	Time     time.Time
	Address  string
	Name     string
	RSSI     int16
	Distance float64
}

// RunDistance scans pass after pass and emits a Reading for every sighting
// of the target. No connection is made. A failed pass is logged and
// scanning resumes after RetryDelay; maxPasses 0 runs until ctx ends.
func (b *Bridge) RunDistance(ctx context.Context, model calibration.Model, maxPasses int, emit func(Reading)) error {
	if model.Slope == 0 {
		return calibration.ErrDivisionByZero
	}
	if err := b.start("distance"); err != nil {
		return err
	}

	filter := bluetooth.ByTarget(b.cfg.TargetName, b.cfg.TargetAddress)
	b.log.WithField("model", model.String()).Info("reporting distance")

	for pass := 1; maxPasses <= 0 || pass <= maxPasses; pass++ {
		ads, err := b.scanner.Discover(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.WithError(err).Warn("discovery pass failed, resuming")
			if err := sleepCtx(ctx, b.cfg.RetryDelay); err != nil {
				return err
			}
			continue
		}

		for _, ad := range ads {
			if !filter(ad) {
				continue
			}
			d, err := model.EstimateDistance(int(ad.RSSI))
			if err != nil {
				return err
			}
			b.log.WithFields(logrus.Fields{"rssi": ad.RSSI, "distance": d}).Debug("estimate")
			emit(Reading{
				Time:     ad.SeenAt,
				Address:  ad.Address,
				Name:     ad.Name,
				RSSI:     ad.RSSI,
				Distance: d,
			})
		}
	}
	return nil
}

// RunCalibration walks the reference distances, averaging perPoint RSSI
// readings of the target at each, and fits a model to the result. prompt
// is called before each point so an operator can move the device.
func (b *Bridge) RunCalibration(ctx context.Context, distances []float64, perPoint int, interval time.Duration, prompt func(ctx context.Context, distance float64) error) (calibration.Model, []calibration.Sample, error) {
	if err := b.start("calibration"); err != nil {
		return calibration.Model{}, nil, err
	}

	collector := &calibration.Collector{
		Reader: bluetooth.StrengthProbe{
			Scanner: b.scanner,
			Filter:  bluetooth.ByTarget(b.cfg.TargetName, b.cfg.TargetAddress),
		},
		Prompt:          prompt,
		SamplesPerPoint: perPoint,
		Interval:        interval,
		Logger:          b.log,
	}
	samples, err := collector.Collect(ctx, distances)
	if err != nil {
		return calibration.Model{}, samples, err
	}

	model, err := calibration.Fit(samples)
	if err != nil {
		return model, samples, err
	}
	b.log.WithFields(logrus.Fields{
		"model":        model.String(),
		"max_residual": model.MaxResidual(samples),
	}).Info("calibration fitted")
	return model, samples, nil
}
