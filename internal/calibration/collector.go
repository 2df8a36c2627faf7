package calibration

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// StrengthReader takes one RSSI reading of the calibration target.
// ok is false when the target was not seen during the attempt.
type StrengthReader interface {
	ReadStrength(ctx context.Context) (rssi int, ok bool, err error)
}

// StrengthReaderFunc adapts a function to StrengthReader.
type StrengthReaderFunc func(ctx context.Context) (int, bool, error)

func (f StrengthReaderFunc) ReadStrength(ctx context.Context) (int, bool, error) { return f(ctx) }

// Collector walks the reference distances and builds one averaged Sample per point.
type Collector struct {
	Reader          StrengthReader
	Prompt          func(ctx context.Context, distance float64) error // nil = no operator prompt
	SamplesPerPoint int
	Interval        time.Duration
	Logger          logrus.FieldLogger
}

// Collect returns samples in the order of distances.
func (c *Collector) Collect(ctx context.Context, distances []float64) ([]Sample, error) {
	perPoint := c.SamplesPerPoint
	if perPoint <= 0 {
		perPoint = 1
	}

	samples := make([]Sample, 0, len(distances))
	for _, d := range distances {
		if c.Prompt != nil {
			if err := c.Prompt(ctx, d); err != nil {
				return nil, err
			}
		}

		var sum float64
		var got int
		for i := 0; i < perPoint; i++ {
			if i > 0 && c.Interval > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(c.Interval):
				}
			}
			rssi, ok, err := c.Reader.ReadStrength(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			sum += float64(rssi)
			got++
			if c.Logger != nil {
				c.Logger.WithFields(logrus.Fields{"distance": d, "rssi": rssi}).Debug("calibration reading")
			}
		}
		if got == 0 {
			return nil, fmt.Errorf("%w: distance %v", ErrNoReadings, d)
		}

		s := Sample{Distance: d, Strength: sum / float64(got)}
		if c.Logger != nil {
			c.Logger.WithFields(logrus.Fields{"distance": d, "mean_rssi": s.Strength, "readings": got}).Info("reference point done")
		}
		samples = append(samples, s)
	}
	return samples, nil
}
