package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// ActionStore persists queued actions in enqueue order.
type ActionStore interface {
	// Append adds action at the tail.
	Append(ctx context.Context, action models.QueuedAction) error
	// List returns all actions, oldest first.
	List(ctx context.Context) ([]models.QueuedAction, error)
	// Remove deletes the action with id. Removing a missing id is not an error.
	Remove(ctx context.Context, id string) error
	// IncrementAttempts bumps the attempts counter of id in place and returns
	// the new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	// Len returns the number of stored actions.
	Len(ctx context.Context) (int, error)
	Close() error
}

// FlushLocker is implemented by stores shared between processes. LockFlush
// blocks until no other flush holds the store, so two processes never replay
// the same action.
type FlushLocker interface {
	LockFlush(ctx context.Context) (unlock func(), err error)
}

// Replayer sends one queued action to the backend. A nil error means the
// backend confirmed it.
type Replayer interface {
	Replay(ctx context.Context, action models.QueuedAction) error
}

// ReplayerFunc adapts a function to the Replayer interface.
type ReplayerFunc func(ctx context.Context, action models.QueuedAction) error

func (f ReplayerFunc) Replay(ctx context.Context, action models.QueuedAction) error {
	return f(ctx, action)
}

// FlushResult reports one Flush call.
type FlushResult struct {
	Replayed  []models.QueuedAction
	Failed    *models.QueuedAction
	Remaining int
	// Coalesced is set when the call arrived during a running flush and was
	// folded into its follow-up pass.
	Coalesced bool
	Passes    int
}

// QueueOptions configures an ActionQueue.
type QueueOptions struct {
	Store    ActionStore
	Replayer Replayer
	Clock    Clock
	// MaxAttemptsWarn logs a warning once an action has failed this many
	// times. Replay is still retried.
	MaxAttemptsWarn int
	Logger          logrus.FieldLogger
	Events          EventLogger
	// OnFlushed is called after every flush that ran at least one pass.
	OnFlushed func(FlushResult)
}

// ActionQueue is the durable FIFO of actions waiting for connectivity.
type ActionQueue struct {
	store    ActionStore
	replayer Replayer
	clock    Clock
	maxWarn  int
	log      logrus.FieldLogger
	events   EventLogger
	onFlush  func(FlushResult)

	mu         sync.Mutex
	size       int
	running    bool
	rerun      bool
	closed     bool
	closeStore bool
}

// NewActionQueue opens a queue over store and loads its current size.
func NewActionQueue(ctx context.Context, opts QueueOptions) (*ActionQueue, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("creating action queue: store is required")
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	log := opts.Logger
	if log == nil {
		log = discardLogger()
	}
	n, err := opts.Store.Len(ctx)
	if err != nil {
		return nil, wrapErr(CodeStorage, "loading queue size", err)
	}
	return &ActionQueue{
		store:    opts.Store,
		replayer: opts.Replayer,
		clock:    opts.Clock,
		maxWarn:  opts.MaxAttemptsWarn,
		log:      log.WithField("component", "queue"),
		events:   opts.Events,
		onFlush:  opts.OnFlushed,
		size:     n,
	}, nil
}

// SetReplayer replaces the backend replayer.
func (q *ActionQueue) SetReplayer(r Replayer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.replayer = r
}

// Enqueue persists a new action at the tail before returning.
func (q *ActionQueue) Enqueue(ctx context.Context, actionType string, payload json.RawMessage) (models.QueuedAction, error) {
	if actionType == "" {
		return models.QueuedAction{}, wrapErr(CodeInvalidInput, "action type is required", nil)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return models.QueuedAction{}, wrapErr(CodeInvalidInput, "payload is not valid JSON", nil)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return models.QueuedAction{}, ErrQueueClosed
	}
	q.mu.Unlock()

	action := models.QueuedAction{
		ID:         uuid.NewString(),
		ActionType: actionType,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: q.clock.Now().UTC(),
	}
	if err := q.store.Append(ctx, action); err != nil {
		return models.QueuedAction{}, wrapErr(CodeStorage, "persisting queued action", err)
	}

	q.mu.Lock()
	q.size++
	q.mu.Unlock()

	q.log.WithFields(logrus.Fields{"action_id": action.ID, "action_type": actionType}).Info("action queued")
	logEvent(q.events, "queue.enqueued", map[string]any{"action_id": action.ID, "action_type": actionType})
	return action, nil
}

// Size returns the number of actions waiting for replay as the store sees
// it, including actions other processes appended. The last known size is
// returned when the store cannot be read.
func (q *ActionQueue) Size() int {
	return q.storedLen(context.Background())
}

func (q *ActionQueue) storedLen(ctx context.Context) int {
	n, err := q.store.Len(ctx)
	q.mu.Lock()
	defer q.mu.Unlock()
	if err == nil {
		q.size = n
	}
	return q.size
}

// Pending lists the queued actions, oldest first.
func (q *ActionQueue) Pending(ctx context.Context) ([]models.QueuedAction, error) {
	actions, err := q.store.List(ctx)
	if err != nil {
		return nil, wrapErr(CodeStorage, "listing queued actions", err)
	}
	return actions, nil
}

// Flush replays actions oldest first and stops at the first failure, leaving
// that action and everything after it in place. A call made while another
// flush runs is coalesced into a single follow-up pass of the running flush.
func (q *ActionQueue) Flush(ctx context.Context) (FlushResult, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return FlushResult{}, ErrQueueClosed
	}
	if q.running {
		q.rerun = true
		q.mu.Unlock()
		return FlushResult{Coalesced: true}, nil
	}
	q.running = true
	q.mu.Unlock()

	var res FlushResult
	unlock, err := q.lockStore(ctx)
	locked := err == nil
	for {
		if locked {
			res.Passes++
			var replayed []models.QueuedAction
			replayed, res.Failed, err = q.pass(ctx)
			res.Replayed = append(res.Replayed, replayed...)
		}
		n, lenErr := q.store.Len(context.WithoutCancel(ctx))

		q.mu.Lock()
		if lenErr == nil {
			q.size = n
		}
		again := locked && q.rerun && !q.closed && ctx.Err() == nil
		q.rerun = false
		if !again {
			q.running = false
			res.Remaining = q.size
			closeStore := q.closeStore
			q.mu.Unlock()
			if unlock != nil {
				unlock()
			}
			if closeStore {
				q.closeStoreNow()
			}
			break
		}
		q.mu.Unlock()
	}

	if q.onFlush != nil {
		q.onFlush(res)
	}
	return res, err
}

// lockStore takes the store's cross-process flush lock when it has one.
func (q *ActionQueue) lockStore(ctx context.Context) (func(), error) {
	locker, ok := q.store.(FlushLocker)
	if !ok {
		return nil, nil
	}
	unlock, err := locker.LockFlush(ctx)
	if err != nil {
		return nil, wrapErr(CodeStorage, "locking queue for flush", err)
	}
	return unlock, nil
}

// pass walks the store once.
func (q *ActionQueue) pass(ctx context.Context) ([]models.QueuedAction, *models.QueuedAction, error) {
	q.mu.Lock()
	replayer := q.replayer
	q.mu.Unlock()
	if replayer == nil {
		return nil, nil, ErrNoReplayer
	}

	actions, err := q.store.List(ctx)
	if err != nil {
		return nil, nil, wrapErr(CodeStorage, "listing queued actions", err)
	}

	var replayed []models.QueuedAction
	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return replayed, nil, err
		}
		entry := q.log.WithFields(logrus.Fields{"action_id": action.ID, "action_type": action.ActionType})

		if rerr := replayer.Replay(ctx, action); rerr != nil {
			failed := action
			attempts, aerr := q.store.IncrementAttempts(ctx, action.ID)
			if aerr != nil {
				entry.WithError(aerr).Warn("recording replay attempt")
				attempts = action.Attempts + 1
			}
			failed.Attempts = attempts
			entry.WithError(rerr).WithField("attempts", attempts).Warn("replay failed, flush halted")
			if q.maxWarn > 0 && attempts > q.maxWarn {
				entry.WithField("attempts", attempts).Warn("queued action keeps failing")
			}
			logEvent(q.events, "queue.replay_failed", map[string]any{
				"action_id": action.ID, "action_type": action.ActionType,
				"attempts": attempts, "error": rerr.Error(),
			})
			return replayed, &failed, wrapErr(CodeReplay, "replaying "+action.ActionType, rerr)
		}

		if err := q.store.Remove(ctx, action.ID); err != nil {
			// The backend already accepted it; stop so the order stays intact.
			return replayed, nil, wrapErr(CodeStorage, "removing replayed action", err)
		}
		q.mu.Lock()
		if q.size > 0 {
			q.size--
		}
		q.mu.Unlock()

		replayed = append(replayed, action)
		entry.Info("action replayed")
		logEvent(q.events, "queue.replayed", map[string]any{"action_id": action.ID, "action_type": action.ActionType})
	}
	return replayed, nil, nil
}

// Close stops the queue. A running flush finishes its current pass and the
// store is closed after it.
func (q *ActionQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	if q.running {
		q.closeStore = true
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	return q.store.Close()
}

func (q *ActionQueue) closeStoreNow() {
	if err := q.store.Close(); err != nil && !errors.Is(err, ErrQueueClosed) {
		q.log.WithError(err).Warn("closing action store")
	}
}
