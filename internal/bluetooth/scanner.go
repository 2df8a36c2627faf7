package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/sirupsen/logrus"
)

// Scanner runs discovery passes over a Transport.
type Scanner struct {
	transport Transport
	window    time.Duration
	log       logrus.FieldLogger
}

// NewScanner creates a scanner. window is the default pass length.
func NewScanner(t Transport, window time.Duration, log logrus.FieldLogger) *Scanner {
	return &Scanner{
		transport: t,
		window:    window,
		log:       log,
	}
}

// Discover runs one pass and returns every peripheral heard, one entry per
// address (last observation wins), strongest first. window <= 0 uses the
// scanner default.
func (s *Scanner) Discover(ctx context.Context, window time.Duration) ([]Advertisement, error) {
	if window <= 0 {
		window = s.window
	}
	store := NewPassStore()
	if err := s.transport.Discover(ctx, window, store.Upsert); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrScanFailed, err)
	}
	ads := store.Snapshot()
	s.log.WithField("devices", len(ads)).Debug("discovery pass done")
	return ads, nil
}

// Search yields matching advertisements pass after pass. It stops after
// maxPasses passes (0 = never), when ctx is done, or when the consumer
// stops ranging. Errors are yielded once and end the sequence. Each range
// over the returned sequence starts a fresh search.
func (s *Scanner) Search(ctx context.Context, filter Filter, maxPasses int) iter.Seq2[Advertisement, error] {
	if filter == nil {
		filter = Any()
	}
	return func(yield func(Advertisement, error) bool) {
		for pass := 1; maxPasses <= 0 || pass <= maxPasses; pass++ {
			ads, err := s.Discover(ctx, 0)
			if err != nil {
				yield(Advertisement{}, err)
				return
			}
			for _, ad := range ads {
				if !filter(ad) {
					continue
				}
				if !yield(ad, nil) {
					return
				}
			}
		}
	}
}

// Find returns the first advertisement matching filter, or ErrNotFound once
// maxPasses passes came up empty.
func (s *Scanner) Find(ctx context.Context, filter Filter, maxPasses int) (Advertisement, error) {
	for ad, err := range s.Search(ctx, filter, maxPasses) {
		if err != nil {
			return Advertisement{}, err
		}
		return ad, nil
	}
	return Advertisement{}, ErrNotFound
}

// FindByName scans until a peripheral declares exactly name.
func (s *Scanner) FindByName(ctx context.Context, name string, maxPasses int) (Advertisement, error) {
	s.log.WithField("name", name).Info("looking for peripheral")
	ad, err := s.Find(ctx, ByName(name), maxPasses)
	if err != nil {
		return ad, fmt.Errorf("find %q: %w", name, err)
	}
	return ad, nil
}

// FindByAddress scans until the peripheral with address is heard.
func (s *Scanner) FindByAddress(ctx context.Context, address string, maxPasses int) (Advertisement, error) {
	s.log.WithField("address", address).Info("looking for peripheral")
	ad, err := s.Find(ctx, ByAddress(address), maxPasses)
	if err != nil {
		return ad, fmt.Errorf("find %s: %w", address, err)
	}
	return ad, nil
}

// ReadStrength takes one pass and reports the RSSI of the first peripheral
// matching filter. It satisfies calibration.StrengthReader through
// StrengthProbe.
func (s *Scanner) ReadStrength(ctx context.Context, filter Filter) (int, bool, error) {
	ad, err := s.Find(ctx, filter, 1)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int(ad.RSSI), true, nil
}

// StrengthProbe binds a scanner to a filter for calibration reads.
type StrengthProbe struct {
	Scanner *Scanner
	Filter  Filter
}

func (p StrengthProbe) ReadStrength(ctx context.Context) (int, bool, error) {
	return p.Scanner.ReadStrength(ctx, p.Filter)
}
