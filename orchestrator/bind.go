package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/poll"
	"github.com/darkhz/bttnc/rfcomm"
	"github.com/darkhz/bttnc/tnc"
)

var errAttemptTimedOut = errors.New("serial channel did not appear")

// bindChannel binds the channel to the device, retrying up to MaxAttempts
// times. The first attempt that produces the channel ends the retries, and
// a refused connection ends them without further attempts.
func (o *Orchestrator) bindChannel(ctx context.Context, address tnc.Address, channel tnc.Channel) error {
	var attempt int

	log := o.log.WithFields(logrus.Fields{
		"address": address,
		"channel": channel.Path(),
	})

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(o.opts.RetryPause),
			uint64(o.opts.MaxAttempts-1),
		),
		ctx,
	)

	operation := func() error {
		attempt++

		return o.bindAttempt(ctx, address, channel, log.WithField("attempt", attempt))
	}

	notify := func(err error, pause time.Duration) {
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"pause":   pause,
		}).Warn("Bind attempt failed, retrying")
	}

	err := backoff.RetryNotifyWithTimer(operation, policy, notify, &clockTimer{clock: o.clock})
	switch {
	case err == nil:
		return nil

	case errorkinds.Kind(err) != nil, ctx.Err() != nil:
		return err
	}

	return errorkinds.Newf(errorkinds.ErrBindExhausted, "%d attempts: %w", attempt, err)
}

// bindAttempt starts a bind process and waits for the channel to appear.
// The bind process keeps holding the channel once it appeared.
func (o *Orchestrator) bindAttempt(ctx context.Context, address tnc.Address, channel tnc.Channel, log logrus.FieldLogger) error {
	binder, err := o.bridge.Bind(ctx, channel, address)
	if err != nil {
		return err
	}

	wait := poll.Every(o.clock, o.opts.Interval, o.opts.AttemptTicks)
	wait.OnTick = func(tick int) { o.progress.Tick(StageBind, tick) }

	bound, err := wait.Until(ctx, func() bool {
		return o.bridge.Bound(channel)
	})
	if bound {
		return nil
	}

	if serr := binder.Stop(); serr != nil {
		log.WithError(serr).Debug("Bind process was not stopped")
	}

	if err != nil {
		return backoff.Permanent(err)
	}

	if o.bridge.Diagnose(channel) == rfcomm.FailureRefused {
		return backoff.Permanent(errorkinds.New(errorkinds.ErrRadioNeedsRestart, nil))
	}

	return errAttemptTimedOut
}

// clockTimer is a backoff.Timer on top of a poll.Clock.
type clockTimer struct {
	clock poll.Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	t.c = t.clock.After(d)
}

func (t *clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
