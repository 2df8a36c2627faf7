package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// BenchmarkResult is the outcome of a round-trip timing run.
type BenchmarkResult struct {
	Writes  int
	Elapsed time.Duration
}

// PerWrite is the mean time per confirmed write.
func (r BenchmarkResult) PerWrite() time.Duration {
	if r.Writes == 0 {
		return 0
	}
	return r.Elapsed / time.Duration(r.Writes)
}

// RunBenchmark connects and sends payload n times as confirmed writes, one
// after the other, timing the whole run. A failed write ends the run and
// the partial result is returned with the error.
func (b *Bridge) RunBenchmark(ctx context.Context, payload []byte, n int) (BenchmarkResult, error) {
	var res BenchmarkResult
	if err := b.start("benchmark"); err != nil {
		return res, err
	}

	sess, _, err := b.connect(ctx)
	if err != nil {
		return res, err
	}
	defer b.release(sess)

	begin := time.Now()
	for i := 0; i < n; i++ {
		if err := sess.WriteLine(ctx, payload, true); err != nil {
			res.Elapsed = time.Since(begin)
			return res, fmt.Errorf("write %d/%d: %w", i+1, n, err)
		}
		res.Writes++
	}
	res.Elapsed = time.Since(begin)

	b.log.WithFields(logrus.Fields{
		"writes":    res.Writes,
		"elapsed":   res.Elapsed,
		"per_write": res.PerWrite(),
	}).Info("benchmark done")
	return res, nil
}
