package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// ChannelAttempt records what happened on one channel during a delivery.
type ChannelAttempt struct {
	Channel string
	Skipped bool
	Err     error
}

// DeliveryResult describes the outcome of DeliveryChain.Deliver.
type DeliveryResult struct {
	AlertID    string
	Tag        string
	Channel    string
	Suppressed bool
	Expiry     time.Duration
	Attempts   []ChannelAttempt
}

// ExpiryPolicy chooses how long a delivered alert stays live before it
// expires on its own.
type ExpiryPolicy struct {
	Low    time.Duration
	Medium time.Duration
}

// For returns zero for alerts that require interaction.
func (p ExpiryPolicy) For(alert models.AlertItem) time.Duration {
	if alert.RequiresInteraction() {
		return 0
	}
	if alert.Priority == models.PriorityMedium {
		return p.Medium
	}
	return p.Low
}

// DeliveryChain tries its channels in order until one delivers, suppressing
// alerts whose tag is still live.
type DeliveryChain struct {
	channels []Channel
	tags     *TagRegistry
	timers   *timerSet
	expiry   ExpiryPolicy
	banner   Notifier
	log      logrus.FieldLogger
	events   EventLogger
	onExpire func(LiveAlert)
}

// ChainOptions configures a DeliveryChain.
type ChainOptions struct {
	Channels []Channel
	Expiry   ExpiryPolicy
	// Banner, when set, is told to remove banners whose tag expires or is
	// dismissed.
	Banner Notifier
	Clock  Clock
	Logger logrus.FieldLogger
	Events EventLogger
}

// NewDeliveryChain creates a chain with its own tag registry and timers.
func NewDeliveryChain(opts ChainOptions) *DeliveryChain {
	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	return newDeliveryChain(opts, newTimerSet(clock))
}

func newDeliveryChain(opts ChainOptions, timers *timerSet) *DeliveryChain {
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	return &DeliveryChain{
		channels: opts.Channels,
		tags:     NewTagRegistry(),
		timers:   timers,
		expiry:   opts.Expiry,
		banner:   opts.Banner,
		log:      log,
		events:   opts.Events,
	}
}

// Tags exposes the chain's live-tag registry.
func (c *DeliveryChain) Tags() *TagRegistry { return c.tags }

// OnExpire registers a callback for alerts that expire without interaction.
func (c *DeliveryChain) OnExpire(fn func(LiveAlert)) { c.onExpire = fn }

// Deliver routes alert through the first ready channel that succeeds. A live
// duplicate is suppressed without error. Only when every channel is skipped
// or fails does it return ErrAllChannelsFailed.
func (c *DeliveryChain) Deliver(ctx context.Context, alert models.AlertItem) (DeliveryResult, error) {
	tag := alert.Tag()
	res := DeliveryResult{AlertID: alert.ID, Tag: tag}
	entry := c.log.WithFields(logrus.Fields{"tag": tag, "alert_id": alert.ID})

	if !c.tags.claim(tag, alert.ID) {
		res.Suppressed = true
		entry.Debug("alert suppressed, tag still live")
		logEvent(c.events, "alert.suppressed", map[string]any{"tag": tag})
		return res, nil
	}

	expiry := c.expiry.For(alert)
	for _, ch := range c.channels {
		if !ch.Ready() {
			res.Attempts = append(res.Attempts, ChannelAttempt{Channel: ch.Name(), Skipped: true})
			continue
		}
		if err := ch.Deliver(ctx, alert, expiry); err != nil {
			res.Attempts = append(res.Attempts, ChannelAttempt{Channel: ch.Name(), Err: err})
			entry.WithError(err).WithField("channel", ch.Name()).Warn("channel delivery failed, falling through")
			continue
		}

		res.Attempts = append(res.Attempts, ChannelAttempt{Channel: ch.Name()})
		res.Channel = ch.Name()
		res.Expiry = expiry

		var cancel func()
		if expiry > 0 {
			alertID := alert.ID
			cancel = c.timers.after(expiry, func() { c.expire(tag, alertID) })
		}
		c.tags.bind(tag, alert.ID, ch.Name(), cancel)

		entry.WithField("channel", ch.Name()).Info("alert delivered")
		logEvent(c.events, "alert.delivered", map[string]any{
			"tag":      tag,
			"channel":  ch.Name(),
			"priority": string(alert.Priority),
		})
		return res, nil
	}

	c.tags.release(tag, alert.ID)
	entry.Error("alert could not be delivered on any channel")
	logEvent(c.events, "alert.failed", map[string]any{"tag": tag})
	return res, ErrAllChannelsFailed
}

// Dismiss frees tag after the user dismissed or acted on the alert. It
// reports whether a live alert was released.
func (c *DeliveryChain) Dismiss(tag string) (LiveAlert, bool) {
	la, ok := c.tags.release(tag, "")
	if !ok {
		return LiveAlert{}, false
	}
	c.removeBanner(la)
	logEvent(c.events, "alert.dismissed", map[string]any{"tag": tag, "channel": la.Channel})
	return la, true
}

func (c *DeliveryChain) expire(tag, alertID string) {
	la, ok := c.tags.release(tag, alertID)
	if !ok {
		return
	}
	c.removeBanner(la)
	logEvent(c.events, "alert.expired", map[string]any{"tag": tag, "channel": la.Channel})
	if c.onExpire != nil {
		c.onExpire(la)
	}
}

func (c *DeliveryChain) removeBanner(la LiveAlert) {
	if la.Channel != ChannelBanner || c.banner == nil {
		return
	}
	if err := c.banner.Dismiss(la.AlertID); err != nil {
		c.log.WithError(err).WithField("tag", la.Tag).Debug("removing banner")
	}
}
