package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/valter-silva-au/duealert/internal/core"
	"github.com/valter-silva-au/duealert/pkg/models"
)

// AgentServerOptions configures an AgentServer.
type AgentServerOptions struct {
	// Notifier shows SEND_ALERT payloads.
	Notifier core.PlatformNotifier
	Expiry   core.ExpiryPolicy
	// Flush drains the shared action queue on SYNC_QUEUED_ACTIONS.
	Flush  func(ctx context.Context) error
	Logger logrus.FieldLogger
}

// AgentServer is the background delivery agent. It outlives the engine
// process, shows notifications on its behalf, caches the last due-item
// snapshot, and can flush the action queue on its own.
type AgentServer struct {
	notifier core.PlatformNotifier
	expiry   core.ExpiryPolicy
	flush    func(ctx context.Context) error
	log      logrus.FieldLogger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*agentPeer]struct{}
	cache    []models.DueCandidate
	cachedAt time.Time

	work sync.WaitGroup
}

// agentFlushTimeout bounds a queue flush started by SYNC_QUEUED_ACTIONS.
const agentFlushTimeout = 2 * time.Minute

type agentPeer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (p *agentPeer) send(msg models.AgentMessage) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(agentWriteTimeout))
	return p.conn.WriteJSON(msg)
}

// NewAgentServer creates an AgentServer. Mount it on an HTTP mux.
func NewAgentServer(opts AgentServerOptions) *AgentServer {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AgentServer{
		notifier: opts.Notifier,
		expiry:   opts.Expiry,
		flush:    opts.Flush,
		log:      log.WithField("component", "agent"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients: make(map[*agentPeer]struct{}),
	}
}

// ServeHTTP upgrades the request and serves one engine connection.
func (s *AgentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("agent upgrade failed")
		return
	}
	peer := &agentPeer{conn: conn}

	s.mu.Lock()
	s.clients[peer] = struct{}{}
	s.mu.Unlock()
	s.log.WithField("remote", r.RemoteAddr).Info("engine connected")

	defer func() {
		s.mu.Lock()
		delete(s.clients, peer)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg models.AgentMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == models.MsgAck {
			continue
		}
		s.dispatch(r.Context(), peer, msg)
	}
}

// dispatch answers one engine message. Alerts are shown off the read loop so
// a slow notifier never holds up the ACK of the next message. Queue syncs are
// acknowledged as soon as they are accepted and flushed in the background.
func (s *AgentServer) dispatch(ctx context.Context, peer *agentPeer, msg models.AgentMessage) {
	switch msg.Type {
	case models.MsgSendAlert:
		s.work.Add(1)
		go func() {
			defer s.work.Done()
			s.reply(peer, msg, s.showAlert(ctx, msg))
		}()
	case models.MsgCacheDueItems:
		s.mu.Lock()
		s.cache = append([]models.DueCandidate(nil), msg.Items...)
		s.cachedAt = time.Now()
		s.mu.Unlock()
		s.reply(peer, msg, nil)
	case models.MsgSyncQueuedActions:
		if s.flush == nil {
			s.reply(peer, msg, errors.New("agent has no action queue"))
			return
		}
		s.reply(peer, msg, nil)
		s.work.Add(1)
		go func() {
			defer s.work.Done()
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), agentFlushTimeout)
			defer cancel()
			if err := s.flush(fctx); err != nil {
				s.log.WithError(err).Warn("queue sync failed")
			}
		}()
	default:
		s.reply(peer, msg, fmt.Errorf("unsupported message type %q", msg.Type))
	}
}

func (s *AgentServer) showAlert(ctx context.Context, msg models.AgentMessage) error {
	if msg.Alert == nil {
		return errors.New("SEND_ALERT without alert")
	}
	if s.notifier == nil {
		return errors.New("no platform notifier")
	}
	return s.notifier.Notify(ctx, *msg.Alert, s.expiry.For(*msg.Alert))
}

func (s *AgentServer) reply(peer *agentPeer, msg models.AgentMessage, err error) {
	ack := models.AgentMessage{Type: models.MsgAck, ID: msg.ID}
	if err != nil {
		s.log.WithError(err).WithField("type", msg.Type).Warn("agent message failed")
		ack.Error = err.Error()
	}
	if err := peer.send(ack); err != nil {
		s.log.WithError(err).Debug("acknowledging engine message")
	}
}

// Wait blocks until alerts being shown and queue syncs started by engines
// have finished.
func (s *AgentServer) Wait() { s.work.Wait() }

// DueCandidates returns the last snapshot the engine cached with the agent.
func (s *AgentServer) DueCandidates(context.Context) ([]models.DueCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DueCandidate(nil), s.cache...), nil
}

// CacheSource exposes the cached snapshot as a due source that only yields
// items while no engine is connected. A connected engine scans for itself.
func (s *AgentServer) CacheSource() core.DueSource { return agentCacheSource{s} }

type agentCacheSource struct{ server *AgentServer }

func (c agentCacheSource) DueCandidates(ctx context.Context) ([]models.DueCandidate, error) {
	if c.server.ClientCount() > 0 {
		return nil, nil
	}
	return c.server.DueCandidates(ctx)
}

// CachedAt returns when the due-item snapshot was last replaced.
func (s *AgentServer) CachedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cachedAt
}

// ClientCount returns the number of connected engines.
func (s *AgentServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ReportAction tells every connected engine that the user acted on the
// notification with the given tag.
func (s *AgentServer) ReportAction(tag string, action models.AlertActionType) error {
	s.mu.Lock()
	peers := make([]*agentPeer, 0, len(s.clients))
	for p := range s.clients {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	if len(peers) == 0 {
		return core.ErrAgentUnavailable
	}
	msg := models.AgentMessage{
		Type:   models.MsgAlertAction,
		ID:     uuid.NewString(),
		Tag:    tag,
		Action: action,
	}
	var errs []error
	for _, p := range peers {
		if err := p.send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
