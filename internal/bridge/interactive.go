package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"ble-bridge.klederson.com/internal/bluetooth"
)

// RunInteractive connects to the target and relays in both directions:
// every notification line is published to the device topic, every line
// from src is written to the peripheral. At end of input it keeps relaying
// inbound lines until the link has been quiet for DrainWindow and returns
// nil. It returns ctx.Err() on cancellation, and ErrLinkDropped when the
// peripheral goes away and Reconnect is off. Lines already queued when the
// link ends are published first.
func (b *Bridge) RunInteractive(ctx context.Context, src LineSource) error {
	if err := b.start("interactive"); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := src.Lines(ctx)

	for {
		err := b.relay(ctx, lines)
		if !errors.Is(err, bluetooth.ErrLinkDropped) || !b.cfg.Reconnect || ctx.Err() != nil {
			return err
		}
		b.log.WithError(err).Warn("link lost, reconnecting")
		if err := sleepCtx(ctx, b.cfg.RetryDelay); err != nil {
			return err
		}
	}
}

// relay runs one session until input ends, ctx ends or the link drops.
// Inbound and outbound are served from one select so neither side starves.
func (b *Bridge) relay(ctx context.Context, lines <-chan []byte) error {
	sess, ad, err := b.connect(ctx)
	if err != nil {
		return err
	}
	defer b.release(sess)

	topic := b.topic(ad.Address)
	inbound := make(chan []byte, b.cfg.QueueSize)
	err = sess.RegisterNotificationHandler(func(data []byte) {
		line := append([]byte(nil), data...)
		select {
		case inbound <- line:
		default:
			b.log.WithField("queue", cap(inbound)).Warn("inbound queue full, dropping line")
		}
	})
	if err != nil {
		return err
	}

	log := b.log.WithFields(logrus.Fields{"address": ad.Address, "topic": topic})
	log.Info("connected, start typing and press ENTER")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-sess.Done():
			if err := b.flush(ctx, topic, inbound); err != nil {
				return err
			}
			if err := sess.Err(); err != nil {
				return err
			}
			return bluetooth.ErrNotConnected

		case data := <-inbound:
			if err := b.forward(ctx, topic, data); err != nil {
				return err
			}

		case line, ok := <-lines:
			if !ok {
				log.Info("end of input")
				return b.drain(ctx, sess, topic, inbound)
			}
			if err := sess.WriteLine(ctx, line, b.cfg.Confirmed); err != nil {
				if bluetooth.IsFatal(err) || ctx.Err() != nil {
					return err
				}
				log.WithError(err).Warn("write failed")
				continue
			}
			log.WithField("bytes", len(line)).Debug("sent")
		}
	}
}

// drain keeps publishing inbound lines after input ended until none has
// arrived for DrainWindow, so replies to the last writes are not lost.
func (b *Bridge) drain(ctx context.Context, sess *bluetooth.Session, topic string, inbound <-chan []byte) error {
	quiet := time.NewTimer(b.cfg.DrainWindow)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.Done():
			return b.flush(ctx, topic, inbound)
		case <-quiet.C:
			return nil
		case data := <-inbound:
			if err := b.forward(ctx, topic, data); err != nil {
				return err
			}
			quiet.Reset(b.cfg.DrainWindow)
		}
	}
}

// flush publishes whatever is already queued without waiting for more.
func (b *Bridge) flush(ctx context.Context, topic string, inbound <-chan []byte) error {
	for {
		select {
		case data := <-inbound:
			if err := b.forward(ctx, topic, data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
