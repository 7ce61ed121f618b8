package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"duel-quiz-service/internal/domain"
)

// ResultFeed is the client side of the replicated change feed.
type ResultFeed interface {
	SubscribeResults(ctx context.Context, matchID string) (<-chan domain.RoundResultPayload, func(), error)
}

// Callbacks are the render hooks of the match screen. All of them are
// optional and are invoked from the client's goroutines.
type Callbacks struct {
	OnRoundStart  func(domain.RoundStartPayload)
	OnPhaseChange func(domain.PhaseChangePayload)
	OnResult      func(domain.RoundResultPayload)
	OnMatchEnd    func(domain.MatchEndPayload)
	OnError       func(message string)
}

// MatchClient drives one player's side of a match. It merges the three
// delivery channels through a single Reconciler, keeps its session
// identity across transient disconnects, and only stops when the match
// ends or its context is cancelled.
type MatchClient struct {
	wsURL   string
	matchID string
	token   string

	feed     ResultFeed      // nil disables the feed channel
	fetcher  SnapshotFetcher // nil disables the poll channel
	clock    clockwork.Clock
	redial   time.Duration
	cb       Callbacks

	reconciler *Reconciler
	poller     *Poller

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

// Options tune the fallback channels; zero values take defaults.
type Options struct {
	PollGrace    time.Duration
	PollInterval time.Duration
	PollBudget   int
	RedialDelay  time.Duration
	Clock        clockwork.Clock
}

func NewMatchClient(wsURL, matchID, token string, feed ResultFeed, fetcher SnapshotFetcher, cb Callbacks, opts Options) *MatchClient {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.RedialDelay <= 0 {
		opts.RedialDelay = time.Second
	}
	c := &MatchClient{
		wsURL:   wsURL,
		matchID: matchID,
		token:   token,
		feed:    feed,
		fetcher: fetcher,
		clock:   opts.Clock,
		redial:  opts.RedialDelay,
		cb:      cb,
		done:    make(chan struct{}),
	}
	c.reconciler = NewReconciler(func(payload domain.RoundResultPayload) {
		if c.poller != nil {
			c.poller.Confirm()
		}
		if cb.OnResult != nil {
			cb.OnResult(payload)
		}
	})
	if fetcher != nil {
		c.poller = NewPoller(fetcher, c.reconciler, matchID, opts.PollGrace, opts.PollInterval, opts.PollBudget, opts.Clock)
	}
	return c
}

// Reconciler exposes the merge state for inspection.
func (c *MatchClient) Reconciler() *Reconciler { return c.reconciler }

// Done is closed when the match ends or the client is torn down.
func (c *MatchClient) Done() <-chan struct{} { return c.done }

// Run connects, joins, and processes events until the match ends or ctx
// is cancelled. A dropped connection is redialed with the same identity;
// the server rebinds the existing seat, so the match survives a
// single-sided drop.
func (c *MatchClient) Run(ctx context.Context) error {
	defer c.teardown()

	if c.feed != nil {
		feedCh, cancelFeed, err := c.feed.SubscribeResults(ctx, c.matchID)
		if err != nil {
			log.Warn().Err(err).Str("match_id", c.matchID).Msg("result feed unavailable, continuing without it")
		} else {
			defer cancelFeed()
			go c.consumeFeed(feedCh)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		err := c.runConn(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.clock.After(c.redial):
			log.Debug().Str("match_id", c.matchID).Msg("redialing match socket")
		}
	}
}

// Ready signals readiness for options during thinking.
func (c *MatchClient) Ready() error {
	return c.write(domain.Event{Type: "ready", Payload: struct{}{}})
}

// Answer submits an option for the given step.
func (c *MatchClient) Answer(stepIndex, optionIndex int) error {
	return c.write(domain.Event{Type: "answer", Payload: map[string]int{
		"stepIndex":   stepIndex,
		"optionIndex": optionIndex,
	}})
}

func (c *MatchClient) write(evt domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return domain.ErrSessionNotFound
	}
	return c.conn.WriteJSON(evt)
}

// runConn handles one websocket lifetime: dial, join, read until error
// or match end. Returns nil only when the match is over.
func (c *MatchClient) runConn(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	if err := conn.WriteJSON(domain.Event{Type: "join", Payload: map[string]string{
		"matchId": c.matchID,
		"token":   c.token,
	}}); err != nil {
		return err
	}

	for {
		var envelope domain.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return err
		}
		if finished := c.handle(ctx, envelope); finished {
			return nil
		}
	}
}

// handle dispatches one server event; returns true when the match ended.
func (c *MatchClient) handle(ctx context.Context, envelope domain.Envelope) bool {
	switch envelope.Type {
	case domain.EventRoundStart:
		var payload domain.RoundStartPayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return false
		}
		c.reconciler.TrackRoundStart(payload.RoundID)
		// Arm the fallback from the round boundary already: a socket that
		// drops both the result-phase change and the result push would
		// otherwise never start the poll loop.
		if c.poller != nil {
			c.poller.Arm(ctx)
		}
		if c.cb.OnRoundStart != nil {
			c.cb.OnRoundStart(payload)
		}

	case domain.EventPhaseChange:
		var payload domain.PhaseChangePayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return false
		}
		c.reconciler.TrackPhase(payload.Phase, payload.StepIndex)
		// Every boundary refreshes the safety net; entering result means a
		// round payload is due shortly and the push may never land.
		if c.poller != nil {
			c.poller.Arm(ctx)
		}
		if c.cb.OnPhaseChange != nil {
			c.cb.OnPhaseChange(payload)
		}

	case domain.EventRoundResult:
		var payload domain.RoundResultPayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return false
		}
		c.reconciler.Apply(CandidateUpdate{Channel: ChannelPush, Payload: payload})

	case domain.EventMatchEnd:
		var payload domain.MatchEndPayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return false
		}
		if c.cb.OnMatchEnd != nil {
			c.cb.OnMatchEnd(payload)
		}
		c.finish()
		return true

	case domain.EventValidationError, domain.EventGameError:
		var payload domain.ErrorPayload
		if json.Unmarshal(envelope.Payload, &payload) != nil {
			return false
		}
		if c.cb.OnError != nil {
			c.cb.OnError(payload.Message)
		}
	}
	return false
}

func (c *MatchClient) consumeFeed(feedCh <-chan domain.RoundResultPayload) {
	for payload := range feedCh {
		accepted := c.reconciler.Apply(CandidateUpdate{Channel: ChannelFeed, Payload: payload})
		if accepted && payload.MatchOver {
			c.finish()
			return
		}
	}
}

func (c *MatchClient) finish() {
	c.once.Do(func() { close(c.done) })
}

func (c *MatchClient) teardown() {
	if c.poller != nil {
		c.poller.Stop()
	}
	c.finish()
}
