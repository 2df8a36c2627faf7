package bridge

import (
	"context"

	"github.com/sirupsen/logrus"
)

// RunPoll is the idle-read variant of the inbound path: instead of
// subscribing it reads the read characteristic at PollRate and publishes
// every non-empty value. Nothing is written to the peripheral.
func (b *Bridge) RunPoll(ctx context.Context) error {
	if err := b.start("poll"); err != nil {
		return err
	}

	sess, ad, err := b.connect(ctx)
	if err != nil {
		return err
	}
	defer b.release(sess)

	topic := b.topic(ad.Address)
	b.log.WithFields(logrus.Fields{"topic": topic, "rate": b.cfg.PollRate}).Info("polling")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// fn runs on the polling goroutine, so publishErr needs no lock.
	var publishErr error
	err = sess.Poll(ctx, b.cfg.PollRate, func(data []byte) {
		if publishErr != nil {
			return
		}
		if err := b.forward(ctx, topic, data); err != nil {
			publishErr = err
			cancel()
		}
	})
	if publishErr != nil {
		return publishErr
	}
	return err
}
