package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// DeniedNotice is the single line shown when the user refuses platform
// notifications.
const DeniedNotice = "Desktop notifications are blocked. Due alerts will appear in this terminal instead."

// EngineOptions wires an Engine. Only Store is required; missing channels
// are left out of the chain and the banner is always last.
type EngineOptions struct {
	Source       DueSource
	Agent        AgentClient
	Platform     PlatformNotifier
	Banner       Notifier
	Prompter     CapabilityPrompter
	Store        ActionStore
	Replayer     Replayer
	Bus          *EventBus
	Connectivity *ConnectivityMonitor
	Clock        Clock
	Logger       logrus.FieldLogger
	Events       EventLogger

	ScanInterval     time.Duration
	ScanInitialDelay time.Duration
	ScanWindow       time.Duration
	AgentTimeout     time.Duration
	Expiry           ExpiryPolicy
	MaxAttemptsWarn  int

	// ManualScan keeps Init from starting the periodic scanner.
	ManualScan bool
}

// EngineStatus is a point-in-time view used by the API, MCP and dashboard.
type EngineStatus struct {
	Capability  models.CapabilityState `json:"capability"`
	Online      bool                   `json:"online"`
	QueueSize   int                    `json:"queue_size"`
	LiveAlerts  []LiveAlert            `json:"live_alerts"`
	Initialized bool                   `json:"initialized"`
	Disposed    bool                   `json:"disposed"`
}

// Engine owns the gatekeeper, chain, scanner, queue and bus, together with
// every timer and subscription they create.
type Engine struct {
	gate    *Gatekeeper
	conn    *ConnectivityMonitor
	bus     *EventBus
	chain   *DeliveryChain
	scanner *Scanner
	queue   *ActionQueue
	timers  *timerSet
	banner  Notifier
	agent   AgentClient
	agentTO time.Duration
	log     logrus.FieldLogger
	manual  bool

	mu          sync.Mutex
	initialized bool
	disposed    bool
	noticeShown bool
	unsubs      []func()
	cancel      context.CancelFunc
	flushes     sync.WaitGroup
}

// NewEngine builds an Engine. Nothing runs until Init.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus()
	}
	if opts.Connectivity == nil {
		opts.Connectivity = NewConnectivityMonitor(true)
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 3 * time.Second
	}

	e := &Engine{
		gate:    NewGatekeeper(opts.Prompter),
		conn:    opts.Connectivity,
		bus:     opts.Bus,
		timers:  newTimerSet(opts.Clock),
		banner:  opts.Banner,
		agent:   opts.Agent,
		agentTO: opts.AgentTimeout,
		log:     log.WithField("component", "engine"),
		manual:  opts.ManualScan,
	}

	var channels []Channel
	if opts.Agent != nil {
		channels = append(channels, NewAgentChannel(opts.Agent, e.gate.Granted, opts.AgentTimeout))
	}
	if opts.Platform != nil {
		channels = append(channels, NewPlatformChannel(opts.Platform, e.gate.Granted))
	}
	channels = append(channels, NewBannerChannel(opts.Banner))

	e.chain = newDeliveryChain(ChainOptions{
		Channels: channels,
		Expiry:   opts.Expiry,
		Banner:   opts.Banner,
		Logger:   log.WithField("component", "chain"),
		Events:   opts.Events,
	}, e.timers)

	e.scanner = newScanner(ScannerOptions{
		Source:       opts.Source,
		Deliverer:    e.chain,
		Agent:        opts.Agent,
		Clock:        opts.Clock,
		Interval:     opts.ScanInterval,
		InitialDelay: opts.ScanInitialDelay,
		Window:       opts.ScanWindow,
		Logger:       log,
		Events:       opts.Events,
	}, e.timers)

	q, err := NewActionQueue(ctx, QueueOptions{
		Store:           opts.Store,
		Replayer:        opts.Replayer,
		Clock:           opts.Clock,
		MaxAttemptsWarn: opts.MaxAttemptsWarn,
		Logger:          log,
		Events:          opts.Events,
		OnFlushed:       e.onFlushed,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	e.queue = q

	e.gate.OnChange(e.onCapabilityChange)
	return e, nil
}

// Init resolves the capability, subscribes to connectivity and starts the
// scanner. It is idempotent.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}
	e.initialized = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.unsubs = append(e.unsubs,
		e.conn.Subscribe(WentOnline, e.onWentOnline),
		e.conn.Subscribe(WentOffline, func() { e.log.Info("connectivity lost, actions will be queued") }),
	)
	e.mu.Unlock()

	state, err := e.gate.Request(ctx)
	if err != nil {
		e.log.WithError(err).Warn("capability prompt failed, continuing with banner only")
	}
	e.log.WithField("capability", string(state)).Info("notification capability resolved")
	if state == models.CapabilityDenied {
		e.showDeniedNotice()
	}

	if e.conn.IsOnline() && e.queue.Size() > 0 {
		e.triggerFlush()
	}
	if !e.manual {
		e.scanner.Start(runCtx)
	}
	return nil
}

// Dispose cancels every timer and subscription and closes the queue. A
// flush already running may finish; nothing new is scheduled. Actions still
// queued are handed to the background agent, which flushes them once it is
// back online.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	unsubs := e.unsubs
	e.unsubs = nil
	cancel := e.cancel
	e.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	e.scanner.Stop()
	e.timers.closeAll()
	if cancel != nil {
		cancel()
	}

	if e.queue.Size() > 0 {
		e.requestAgentSync(context.Background())
	}

	err := e.queue.Close()
	e.flushes.Wait()
	if err != nil {
		return fmt.Errorf("disposing engine: %w", err)
	}
	return nil
}

func (e *Engine) isDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

func (e *Engine) onCapabilityChange(state models.CapabilityState) {
	e.log.WithField("capability", string(state)).Info("notification capability changed")
	if state == models.CapabilityDenied {
		e.showDeniedNotice()
	}
}

// showDeniedNotice surfaces the denial once per engine.
func (e *Engine) showDeniedNotice() {
	e.mu.Lock()
	if e.noticeShown {
		e.mu.Unlock()
		return
	}
	e.noticeShown = true
	e.mu.Unlock()

	if e.banner != nil {
		e.banner.ShowNotice(DeniedNotice)
	}
	e.bus.Emit(EventCapabilityDenied, map[string]any{"state": string(models.CapabilityDenied)})
}

func (e *Engine) onWentOnline() {
	e.log.Info("connectivity restored, flushing queued actions")
	e.triggerFlush()

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.flushes.Add(1)
	e.mu.Unlock()
	go func() {
		defer e.flushes.Done()
		e.requestAgentSync(context.Background())
	}()
}

// requestAgentSync asks a connected agent to flush the shared queue. Best
// effort.
func (e *Engine) requestAgentSync(ctx context.Context) {
	if e.agent == nil || !e.agent.Ready() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.agentTO)
	defer cancel()
	err := e.agent.Send(ctx, models.AgentMessage{Type: models.MsgSyncQueuedActions})
	if err != nil {
		e.log.WithError(err).Debug("requesting agent queue sync")
		return
	}
	e.log.Debug("agent asked to sync queued actions")
}

func (e *Engine) triggerFlush() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.flushes.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.flushes.Done()
		if _, err := e.queue.Flush(context.Background()); err != nil && !errors.Is(err, ErrQueueClosed) {
			e.log.WithError(err).Warn("queue flush stopped")
		}
	}()
}

func (e *Engine) onFlushed(res FlushResult) {
	detail := map[string]any{
		"replayed":  len(res.Replayed),
		"remaining": res.Remaining,
	}
	if res.Failed != nil {
		detail["failed_action_id"] = res.Failed.ID
	}
	e.bus.Emit(EventQueueFlushed, detail)
}

// ScanNow runs one scan cycle immediately.
func (e *Engine) ScanNow(ctx context.Context) (ScanReport, error) {
	if e.isDisposed() {
		return ScanReport{}, ErrDisposed
	}
	return e.scanner.ScanOnce(ctx)
}

// Preview returns the alerts the next scan would deliver.
func (e *Engine) Preview(ctx context.Context) ([]models.AlertItem, error) {
	return e.scanner.Preview(ctx)
}

// Deliver sends a single alert through the chain.
func (e *Engine) Deliver(ctx context.Context, alert models.AlertItem) (DeliveryResult, error) {
	if e.isDisposed() {
		return DeliveryResult{}, ErrDisposed
	}
	return e.chain.Deliver(ctx, alert)
}

// Enqueue stores an action that could not reach the backend.
func (e *Engine) Enqueue(ctx context.Context, actionType string, payload json.RawMessage) (models.QueuedAction, error) {
	if e.isDisposed() {
		return models.QueuedAction{}, ErrDisposed
	}
	return e.queue.Enqueue(ctx, actionType, payload)
}

// Flush replays queued actions now.
func (e *Engine) Flush(ctx context.Context) (FlushResult, error) {
	if e.isDisposed() {
		return FlushResult{}, ErrDisposed
	}
	return e.queue.Flush(ctx)
}

// Interact handles the user acting on a delivered alert: the tag is released
// and the matching application event is emitted.
func (e *Engine) Interact(tag string, action models.AlertActionType) error {
	if e.isDisposed() {
		return ErrDisposed
	}
	var name string
	switch action {
	case models.ActionComplete:
		name = EventAlertComplete
	case models.ActionView:
		name = EventAlertView
	case models.ActionDismiss:
		name = EventAlertDismissed
	default:
		return wrapErr(CodeInvalidInput, fmt.Sprintf("unknown alert action %q", action), nil)
	}

	kind, id, ok := strings.Cut(tag, ":")
	if !ok || kind == "" || id == "" {
		return wrapErr(CodeInvalidInput, fmt.Sprintf("malformed alert tag %q", tag), nil)
	}

	la, released := e.chain.Dismiss(tag)
	detail := map[string]any{
		"tag":              tag,
		"kind":             kind,
		"source_entity_id": id,
	}
	if released {
		detail["alert_id"] = la.AlertID
		detail["channel"] = la.Channel
	}
	e.log.WithFields(logrus.Fields{"tag": tag, "action": string(action)}).Info("alert interaction")
	e.bus.Emit(name, detail)
	return nil
}

// HandleAgentMessage processes an unsolicited message from the background
// agent.
func (e *Engine) HandleAgentMessage(msg models.AgentMessage) error {
	switch msg.Type {
	case models.MsgAlertAction:
		tag := msg.Tag
		if tag == "" && msg.SourceEntityID != "" {
			tag = models.AlertTag(models.KindTask, msg.SourceEntityID)
		}
		return e.Interact(tag, msg.Action)
	default:
		e.log.WithField("type", string(msg.Type)).Debug("ignoring agent message")
		return nil
	}
}

// QueueSize backs the host badge.
func (e *Engine) QueueSize() int { return e.queue.Size() }

// PendingActions lists the queued actions, oldest first.
func (e *Engine) PendingActions(ctx context.Context) ([]models.QueuedAction, error) {
	return e.queue.Pending(ctx)
}

// ReportConnectivity feeds an online/offline observation from the host.
func (e *Engine) ReportConnectivity(online bool) { e.conn.Report(online) }

// Status reports the engine's current state.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	initialized, disposed := e.initialized, e.disposed
	e.mu.Unlock()
	return EngineStatus{
		Capability:  e.gate.State(),
		Online:      e.conn.IsOnline(),
		QueueSize:   e.queue.Size(),
		LiveAlerts:  e.chain.Tags().Snapshot(),
		Initialized: initialized,
		Disposed:    disposed,
	}
}

func (e *Engine) Gatekeeper() *Gatekeeper { return e.gate }
func (e *Engine) Connectivity() *ConnectivityMonitor { return e.conn }
func (e *Engine) Bus() *EventBus { return e.bus }
func (e *Engine) Queue() *ActionQueue { return e.queue }
func (e *Engine) Chain() *DeliveryChain { return e.chain }
func (e *Engine) Scanner() *Scanner { return e.scanner }
