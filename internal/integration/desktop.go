package integration

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/valter-silva-au/duealert/pkg/models"
)

// CommandRunner executes an external program and returns its standard
// output. Tests replace it.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

const (
	// actionStartGrace is how long Notify waits for an interactive
	// notification to fail before leaving it running in the background.
	actionStartGrace = 500 * time.Millisecond
	// actionWaitLimit caps how long a notification without expiry waits for
	// the user to pick an action.
	actionWaitLimit = time.Hour
)

// ActionHandler receives the button the user picked on a notification.
type ActionHandler func(tag string, action models.AlertActionType)

// DesktopNotifier shows platform notifications through the desktop's own
// tool: notify-send on Linux, osascript on macOS. With an ActionHandler set,
// Linux notifications carry the alert's action buttons.
type DesktopNotifier struct {
	goos string
	run  CommandRunner
	log  logrus.FieldLogger

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	onAction ActionHandler
	waiting  sync.WaitGroup
}

// NewDesktopNotifier creates a DesktopNotifier for the running platform.
func NewDesktopNotifier(log logrus.FieldLogger) *DesktopNotifier {
	return newDesktopNotifier(runtime.GOOS, execRunner, log)
}

func newDesktopNotifier(goos string, run CommandRunner, log logrus.FieldLogger) *DesktopNotifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	base, cancel := context.WithCancel(context.Background())
	return &DesktopNotifier{
		goos:   goos,
		run:    run,
		log:    log.WithField("component", "desktop"),
		base:   base,
		cancel: cancel,
	}
}

// OnAction registers fn for action buttons the user picks. Without a handler
// notifications show no buttons.
func (n *DesktopNotifier) OnAction(fn ActionHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onAction = fn
}

func (n *DesktopNotifier) actionHandler() ActionHandler {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.onAction
}

// Notify shows alert. A zero expiry keeps the notification until the user
// closes it where the platform supports that.
//
// A notification with buttons stays open until it is closed or expires. Notify
// returns once it is showing; the picked action reaches the handler later.
func (n *DesktopNotifier) Notify(ctx context.Context, alert models.AlertItem, expiry time.Duration) error {
	handler := n.actionHandler()
	interactive := handler != nil && len(alert.Actions) > 0 && n.supportsActions()

	name, args, err := n.command(alert, expiry, interactive)
	if err != nil {
		return err
	}
	if !interactive {
		_, err := n.run(ctx, name, args...)
		return err
	}

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	wait := expiry
	if wait <= 0 {
		wait = actionWaitLimit
	}
	n.waiting.Add(1)
	go func() {
		defer n.waiting.Done()
		wctx, cancel := context.WithTimeout(n.base, wait+actionStartGrace)
		defer cancel()
		out, err := n.run(wctx, name, args...)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		n.dispatchAction(handler, alert, r.out)
		return nil
	case <-time.After(actionStartGrace):
	}

	n.waiting.Add(1)
	go func() {
		defer n.waiting.Done()
		r := <-done
		if r.err != nil {
			n.log.WithError(r.err).WithField("tag", alert.Tag()).Debug("notification closed with error")
			return
		}
		n.dispatchAction(handler, alert, r.out)
	}()
	return nil
}

// dispatchAction hands the action key notify-send printed to the handler.
// Keys that are not among the alert's actions are ignored.
func (n *DesktopNotifier) dispatchAction(handler ActionHandler, alert models.AlertItem, out string) {
	key := strings.TrimSpace(out)
	if key == "" {
		return
	}
	for _, a := range alert.Actions {
		if string(a.Type) == key {
			n.log.WithFields(logrus.Fields{"tag": alert.Tag(), "action": key}).Info("notification action picked")
			handler(alert.Tag(), a.Type)
			return
		}
	}
	n.log.WithField("action", key).Debug("ignoring unknown notification action")
}

// Close stops waiting on open notifications.
func (n *DesktopNotifier) Close() error {
	n.cancel()
	n.waiting.Wait()
	return nil
}

func (n *DesktopNotifier) supportsActions() bool {
	switch n.goos {
	case "linux", "freebsd", "openbsd":
		return true
	default:
		return false
	}
}

func (n *DesktopNotifier) command(alert models.AlertItem, expiry time.Duration, interactive bool) (string, []string, error) {
	switch n.goos {
	case "linux", "freebsd", "openbsd":
		args := []string{
			"--app-name=duealert",
			"--urgency=" + urgency(alert),
		}
		if expiry > 0 {
			args = append(args, "--expire-time="+strconv.FormatInt(expiry.Milliseconds(), 10))
		} else {
			args = append(args, "--expire-time=0")
		}
		if interactive {
			for _, a := range alert.Actions {
				args = append(args, "--action="+string(a.Type)+"="+a.Label)
			}
			args = append(args, "--wait")
		}
		args = append(args, alert.Title, alert.Body)
		return "notify-send", args, nil
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s subtitle %s",
			appleQuote(alert.Body), appleQuote(alert.Title), appleQuote("duealert"))
		return "osascript", []string{"-e", script}, nil
	default:
		return "", nil, fmt.Errorf("platform notifications unsupported on %s", n.goos)
	}
}

func urgency(alert models.AlertItem) string {
	switch {
	case alert.RequiresInteraction():
		return "critical"
	case alert.Priority == models.PriorityMedium:
		return "normal"
	default:
		return "low"
	}
}

func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
