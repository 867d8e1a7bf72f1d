package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dagornc/DagBot/internal/models"
	"github.com/dagornc/DagBot/internal/providers/llm"
	"github.com/dagornc/DagBot/internal/utils"
)

type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateStreaming
	StateCompleted
	StateAborted
	StateErrored
)

func (s State) Terminal() bool { return s >= StateCompleted }

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Sink receives normalized increments for one session, strictly in upstream
// arrival order. Exactly one of OnDone/OnError is called unless the session
// is cancelled first; nothing is delivered after a terminal call.
type Sink interface {
	OnToken(token string)
	OnDone(usage *llm.Usage)
	OnError(err error)
}

// TurnStore is the slice of the conversation store the relay needs: one
// idempotent append per finished (or partially finished) turn.
type TurnStore interface {
	AppendAssistantTurn(ctx context.Context, conversationID, turnID, content, provider, model string) error
}

// Relay executes streaming sessions against provider adapters.
type Relay struct {
	Store TurnStore
	Log   *logrus.Logger

	// ReadTimeout bounds the wait for the next increment so a stalled
	// upstream cannot hang a session. Zero means the 90s default.
	ReadTimeout time.Duration

	// adapters is overridable in tests; nil means llm.ForAccessMethod.
	adapters func(method string) (llm.Adapter, bool)
}

func New(store TurnStore, log *logrus.Logger) *Relay {
	return &Relay{Store: store, Log: log}
}

func (r *Relay) adapterFor(method string) (llm.Adapter, bool) {
	if r.adapters != nil {
		return r.adapters(method)
	}
	return llm.ForAccessMethod(method)
}

func (r *Relay) readTimeout() time.Duration {
	if r.ReadTimeout > 0 {
		return r.ReadTimeout
	}
	return 90 * time.Second
}

// Session is one in-flight streaming request. Owned by the request that
// created it; never shared across requests.
type Session struct {
	ID             string
	ConversationID string
	TurnID         string
	Provider       string
	Model          string

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	buf strings.Builder
}

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed after the terminal transition and persistence.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cancel requests cooperative cancellation; observed at the next read
// checkpoint on the upstream connection.
func (s *Session) Cancel() { s.cancel() }

// Text returns the accumulated assistant output so far.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *Session) append(tok string) {
	s.mu.Lock()
	s.buf.WriteString(tok)
	s.mu.Unlock()
}

// transition moves to a terminal state exactly once. The first caller wins;
// later transport data is discarded.
func (s *Session) transition(to State) bool {
	for {
		cur := s.state.Load()
		if State(cur).Terminal() {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// Start validates the selection, creates the session, and dispatches the
// outbound call asynchronously. It never blocks on the provider connection.
func (r *Relay) Start(ctx context.Context, cfg models.Provider, conversationID string, req llm.Request, sink Sink) (*Session, error) {
	const op = "Relay.Start"

	adapter, ok := r.adapterFor(cfg.AccessMethod)
	if !ok {
		return nil, utils.E(utils.CodeNotFound, op, "unknown provider access method "+cfg.AccessMethod, nil)
	}
	if err := llm.ValidateMessages(req.Messages); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, err.Error(), nil)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		TurnID:         uuid.NewString(),
		Provider:       cfg.Name,
		Model:          req.Model,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	s.state.Store(int32(StateDispatching))

	go r.run(sctx, s, adapter, cfg, req, sink)
	return s, nil
}

func (r *Relay) run(ctx context.Context, s *Session, adapter llm.Adapter, cfg models.Provider, req llm.Request, sink Sink) {
	defer close(s.done)
	defer s.cancel()

	log := r.Log.WithFields(logrus.Fields{
		"session_id": s.ID,
		"provider":   s.Provider,
		"model":      s.Model,
	})

	ch, err := adapter.StreamChat(ctx, cfg, req)
	if err != nil {
		if ctx.Err() != nil {
			r.finish(s, StateAborted)
			return
		}
		log.WithError(err).Warn("dispatch failed")
		r.fail(s, sink, utils.E(utils.CodeUnavailable, "Relay", "provider unreachable", err))
		return
	}

	timer := time.NewTimer(r.readTimeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.WithField("chars", len(s.Text())).Info("session cancelled")
			r.finish(s, StateAborted)
			return

		case <-timer.C:
			log.Warn("provider stream stalled")
			r.fail(s, sink, utils.E(utils.CodeTimeout, "Relay", "provider stream stalled", nil))
			return

		case inc, ok := <-ch:
			if !ok {
				// Upstream closed without a terminal increment.
				r.fail(s, sink, utils.E(utils.CodeUnavailable, "Relay", "provider closed the stream unexpectedly", nil))
				return
			}
			// First byte of response moves the session to streaming.
			s.state.CompareAndSwap(int32(StateDispatching), int32(StateStreaming))

			switch inc.Kind {
			case llm.KindToken:
				s.append(inc.Token)
				sink.OnToken(inc.Token)
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(r.readTimeout())

			case llm.KindDone:
				if s.transition(StateCompleted) {
					r.persist(s)
					sink.OnDone(inc.Usage)
				}
				log.WithField("chars", len(s.Text())).Info("session completed")
				return

			case llm.KindError:
				r.fail(s, sink, utils.E(utils.CodeUpstream, "Relay", inc.Reason, nil))
				return
			}
		}
	}
}

// fail reaches Errored, persists partial progress, and surfaces a single
// terminal error to the sink.
func (r *Relay) fail(s *Session, sink Sink, err error) {
	if s.transition(StateErrored) {
		r.persist(s)
		sink.OnError(err)
	}
}

// finish reaches a terminal state without a sink event (cancellation path)
// and persists partial progress.
func (r *Relay) finish(s *Session, to State) {
	if s.transition(to) {
		r.persist(s)
	}
}

// persist hands the accumulated text to the conversation store. Nothing to
// store when no token arrived. Uses a fresh context: the request context is
// usually already cancelled on the abort path.
func (r *Relay) persist(s *Session) {
	text := s.Text()
	if text == "" || s.ConversationID == "" || r.Store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.Store.AppendAssistantTurn(ctx, s.ConversationID, s.TurnID, text, s.Provider, s.Model); err != nil &&
		!errors.Is(err, context.Canceled) {
		r.Log.WithError(err).WithFields(logrus.Fields{
			"session_id":      s.ID,
			"conversation_id": s.ConversationID,
		}).Error("failed to persist turn")
	}
}
