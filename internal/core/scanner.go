package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// DueSource returns the current due-able records owned by the host
// application. The scanner only reads them.
type DueSource interface {
	DueCandidates(ctx context.Context) ([]models.DueCandidate, error)
}

// Deliverer accepts alerts for delivery. *DeliveryChain implements it.
type Deliverer interface {
	Deliver(ctx context.Context, alert models.AlertItem) (DeliveryResult, error)
}

// ScanReport summarises one scan cycle.
type ScanReport struct {
	StartedAt  time.Time
	Candidates int
	Selected   int
	Delivered  int
	Suppressed int
	Failed     int
	Skipped    bool
	Alerts     []models.AlertItem
	Results    []DeliveryResult
}

// ScannerOptions configures a Scanner.
type ScannerOptions struct {
	Source       DueSource
	Deliverer    Deliverer
	Agent        AgentClient
	Clock        Clock
	Interval     time.Duration
	InitialDelay time.Duration
	Window       time.Duration
	FetchTimeout time.Duration
	Logger       logrus.FieldLogger
	Events       EventLogger
}

// Scanner periodically pulls due candidates and hands the ones that are due
// within the window (or overdue) to the delivery chain.
type Scanner struct {
	opts   ScannerOptions
	timers *timerSet
	log    logrus.FieldLogger

	mu      sync.Mutex
	running bool
	started bool
	stopped bool
	cancel  func()
	baseCtx context.Context
}

// fetchTimeout bounds a single DueSource call.
const fetchTimeout = 30 * time.Second

// NewScanner creates a Scanner with its own timers.
func NewScanner(opts ScannerOptions) *Scanner {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	return newScanner(opts, newTimerSet(opts.Clock))
}

func newScanner(opts ScannerOptions, timers *timerSet) *Scanner {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = fetchTimeout
	}
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	return &Scanner{opts: opts, timers: timers, log: log.WithField("component", "scanner")}
}

// Select returns the candidates that need alerting at now: not completed,
// with a due time, and due within the window (overdue included).
func (s *Scanner) Select(candidates []models.DueCandidate, now time.Time) []models.DueCandidate {
	return SelectDue(candidates, now, s.opts.Window)
}

// SelectDue is the selection rule used by every scan cycle.
func SelectDue(candidates []models.DueCandidate, now time.Time, window time.Duration) []models.DueCandidate {
	var out []models.DueCandidate
	for _, c := range candidates {
		if c.Completed() || c.DueAt == nil {
			continue
		}
		if c.DueAt.Sub(now) <= window {
			out = append(out, c)
		}
	}
	return out
}

// BuildAlert turns a selected candidate into an AlertItem.
func BuildAlert(c models.DueCandidate, now time.Time) models.AlertItem {
	kind := c.Kind
	if kind == "" {
		kind = models.KindTask
	}
	priority := c.Priority
	if !priority.Valid() {
		priority = models.PriorityMedium
	}

	overdue := c.DueAt != nil && c.DueAt.Before(now)
	label := kindLabel(kind)
	title := label + " due soon"
	if overdue {
		title = label + " overdue"
	}

	var due *time.Time
	if c.DueAt != nil {
		d := *c.DueAt
		due = &d
	}

	return models.AlertItem{
		ID:             uuid.NewString(),
		Kind:           kind,
		Title:          title,
		Body:           DescribeDue(c.Title, c.DueAt, priority, now),
		SourceEntityID: c.ID,
		Priority:       priority,
		CreatedAt:      now,
		Status:         models.AlertUnread,
		DueAt:          due,
		Overdue:        overdue,
		Actions:        models.DefaultAlertActions(),
	}
}

func kindLabel(kind models.AlertKind) string {
	switch kind {
	case models.KindTask:
		return "Task"
	case models.KindCatalogue:
		return "Catalogue"
	default:
		return "Reminder"
	}
}

// DescribeDue phrases the due state: overdue by N days, due today, due
// tomorrow, or due in N days. Overdue by less than a full day reads as due
// today.
func DescribeDue(title string, dueAt *time.Time, priority models.Priority, now time.Time) string {
	if dueAt == nil {
		return fmt.Sprintf("%q has no due date. Priority: %s", title, priority)
	}
	hours := dueAt.Sub(now).Hours()

	if hours < 0 {
		days := int(math.Floor(-hours / 24))
		if days >= 1 {
			return fmt.Sprintf("%q is %d day(s) overdue. Priority: %s", title, days, priority)
		}
		return fmt.Sprintf("%q is due today. Priority: %s", title, priority)
	}

	switch calendarDays(now, *dueAt) {
	case 0:
		return fmt.Sprintf("%q is due today. Priority: %s", title, priority)
	case 1:
		return fmt.Sprintf("%q is due tomorrow. Priority: %s", title, priority)
	}
	days := int(math.Ceil(hours / 24))
	return fmt.Sprintf("%q is due in %d days. Priority: %s", title, days, priority)
}

// calendarDays counts calendar-day boundaries between from and to in from's
// location.
func calendarDays(from, to time.Time) int {
	to = to.In(from.Location())
	y1, m1, d1 := from.Date()
	y2, m2, d2 := to.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// Preview builds the alerts a scan would deliver right now without
// delivering them.
func (s *Scanner) Preview(ctx context.Context) ([]models.AlertItem, error) {
	candidates, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	now := s.opts.Clock.Now()
	selected := s.Select(candidates, now)
	alerts := make([]models.AlertItem, 0, len(selected))
	for _, c := range selected {
		alerts = append(alerts, BuildAlert(c, now))
	}
	return alerts, nil
}

func (s *Scanner) fetch(ctx context.Context) ([]models.DueCandidate, error) {
	if s.opts.Source == nil {
		return nil, wrapErr(CodeSource, "no due source configured", nil)
	}
	fctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()
	candidates, err := s.opts.Source.DueCandidates(fctx)
	if err != nil {
		return nil, wrapErr(CodeSource, "fetching due candidates", err)
	}
	return candidates, nil
}

// ScanOnce runs a single cycle. A source failure skips the cycle and is
// returned; individual delivery failures are counted, never returned.
func (s *Scanner) ScanOnce(ctx context.Context) (ScanReport, error) {
	now := s.opts.Clock.Now()
	report := ScanReport{StartedAt: now}

	candidates, err := s.fetch(ctx)
	if err != nil {
		report.Skipped = true
		logEvent(s.opts.Events, "scan.skipped", map[string]any{"error": err.Error()})
		return report, err
	}
	report.Candidates = len(candidates)

	selected := s.Select(candidates, now)
	report.Selected = len(selected)
	s.cacheOnAgent(ctx, selected)

	for _, c := range selected {
		alert := BuildAlert(c, now)
		report.Alerts = append(report.Alerts, alert)
		if s.opts.Deliverer == nil {
			continue
		}
		res, err := s.opts.Deliverer.Deliver(ctx, alert)
		report.Results = append(report.Results, res)
		switch {
		case err != nil:
			report.Failed++
			s.log.WithError(err).WithField("tag", alert.Tag()).Warn("alert delivery failed")
		case res.Suppressed:
			report.Suppressed++
		default:
			report.Delivered++
		}
	}

	logEvent(s.opts.Events, "scan.completed", map[string]any{
		"candidates": report.Candidates,
		"selected":   report.Selected,
		"delivered":  report.Delivered,
		"suppressed": report.Suppressed,
		"failed":     report.Failed,
	})
	return report, nil
}

// cacheOnAgent refreshes the agent's local copy of due items. Best effort.
func (s *Scanner) cacheOnAgent(ctx context.Context, items []models.DueCandidate) {
	agent := s.opts.Agent
	if agent == nil || !agent.Ready() {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := agent.Send(cctx, models.AgentMessage{
		Type:  models.MsgCacheDueItems,
		ID:    uuid.NewString(),
		Items: items,
	})
	if err != nil {
		s.log.WithError(err).Debug("caching due items on agent")
	}
}

// Start schedules the first cycle after InitialDelay and then one every
// Interval until Stop. Calling Start twice is a no-op.
func (s *Scanner) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.baseCtx = ctx
	s.mu.Unlock()

	s.schedule(s.opts.InitialDelay)
	s.log.WithFields(logrus.Fields{
		"interval":      s.opts.Interval.String(),
		"initial_delay": s.opts.InitialDelay.String(),
	}).Info("due-item scanner started")
}

// Stop cancels the pending cycle. A cycle already running finishes but does
// not schedule another.
func (s *Scanner) Stop() {
	s.mu.Lock()
	s.stopped = true
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scanner) schedule(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.cancel = s.timers.after(d, s.tick)
}

func (s *Scanner) tick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.running {
		s.mu.Unlock()
		s.log.Debug("scan already in progress, skipping")
		s.schedule(s.opts.Interval)
		return
	}
	s.running = true
	ctx := s.baseCtx
	s.mu.Unlock()

	if ctx.Err() == nil {
		report, err := s.ScanOnce(ctx)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
		case err != nil:
			s.log.WithError(err).Warn("scan cycle skipped")
		default:
			s.log.WithFields(logrus.Fields{
				"selected":   report.Selected,
				"delivered":  report.Delivered,
				"suppressed": report.Suppressed,
				"failed":     report.Failed,
			}).Info("scan cycle completed")
		}
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if ctx.Err() == nil {
		s.schedule(s.opts.Interval)
	}
}
