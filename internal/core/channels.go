package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// Channel names, in delivery priority order.
const (
	ChannelAgent    = "agent"
	ChannelPlatform = "platform"
	ChannelBanner   = "banner"
)

// Channel is one delivery strategy of the chain.
type Channel interface {
	// Name returns the channel's unique name.
	Name() string
	// Ready reports whether the channel can be tried right now.
	Ready() bool
	// Deliver shows the alert. expiry is zero when the alert must stay until
	// the user dismisses it.
	Deliver(ctx context.Context, alert models.AlertItem, expiry time.Duration) error
}

// AgentClient talks to the out-of-page background delivery agent.
type AgentClient interface {
	// Ready reports whether the agent is registered and connected.
	Ready() bool
	// Send delivers msg and waits for the agent's acknowledgement or ctx.
	Send(ctx context.Context, msg models.AgentMessage) error
}

// PlatformNotifier shows a notification through the operating system from
// within the running process.
type PlatformNotifier interface {
	Notify(ctx context.Context, alert models.AlertItem, expiry time.Duration) error
}

// Notifier renders the in-process fallback banner.
type Notifier interface {
	Show(alert models.AlertItem, expiry time.Duration) error
	Dismiss(alertID string) error
	// ShowNotice displays a one-off informational line such as the
	// capability-denied message.
	ShowNotice(text string)
}

// capabilityFunc reports whether platform notifications are permitted.
type capabilityFunc func() bool

// agentChannel delivers through the background agent.
type agentChannel struct {
	client  AgentClient
	granted capabilityFunc
	timeout time.Duration
}

// NewAgentChannel creates the first channel of the chain. It requires the
// capability and a ready agent; a missing acknowledgement within timeout
// counts as a failure.
func NewAgentChannel(client AgentClient, granted func() bool, timeout time.Duration) Channel {
	return &agentChannel{client: client, granted: granted, timeout: timeout}
}

func (c *agentChannel) Name() string { return ChannelAgent }

func (c *agentChannel) Ready() bool {
	return c.client != nil && c.granted != nil && c.granted() && c.client.Ready()
}

func (c *agentChannel) Deliver(ctx context.Context, alert models.AlertItem, _ time.Duration) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	a := alert
	err := c.client.Send(ctx, models.AgentMessage{
		Type:  models.MsgSendAlert,
		ID:    uuid.NewString(),
		Alert: &a,
	})
	if err != nil {
		return fmt.Errorf("sending alert to agent: %w", err)
	}
	return nil
}

// platformChannel delivers a direct platform notification.
type platformChannel struct {
	notifier PlatformNotifier
	granted  capabilityFunc
}

// NewPlatformChannel creates the second channel of the chain. It requires
// the capability only.
func NewPlatformChannel(notifier PlatformNotifier, granted func() bool) Channel {
	return &platformChannel{notifier: notifier, granted: granted}
}

func (c *platformChannel) Name() string { return ChannelPlatform }

func (c *platformChannel) Ready() bool {
	return c.notifier != nil && c.granted != nil && c.granted()
}

func (c *platformChannel) Deliver(ctx context.Context, alert models.AlertItem, expiry time.Duration) error {
	if err := c.notifier.Notify(ctx, alert, expiry); err != nil {
		return fmt.Errorf("showing platform notification: %w", err)
	}
	return nil
}

// bannerChannel delivers through the in-process fallback banner.
type bannerChannel struct {
	notifier Notifier
}

// NewBannerChannel creates the always-available fallback channel.
func NewBannerChannel(notifier Notifier) Channel {
	return &bannerChannel{notifier: notifier}
}

func (c *bannerChannel) Name() string { return ChannelBanner }

func (c *bannerChannel) Ready() bool { return c.notifier != nil }

func (c *bannerChannel) Deliver(_ context.Context, alert models.AlertItem, expiry time.Duration) error {
	if err := c.notifier.Show(alert, expiry); err != nil {
		return fmt.Errorf("showing banner: %w", err)
	}
	return nil
}
