package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"duel-quiz-service/internal/app"
	"duel-quiz-service/internal/domain"
)

// WSHandler upgrades HTTP requests to websockets and speaks the match
// protocol: join, ready, answer inbound; phase/result events outbound.
type WSHandler struct {
	service  *app.MatchService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.MatchService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type joinPayload struct {
	MatchID string `json:"matchId"`
	Token   string `json:"token"`
}

type answerPayload struct {
	StepIndex   int `json:"stepIndex"`
	OptionIndex int `json:"optionIndex"`
}

// connSink adapts the buffered send channel to app.Sink. Send never
// blocks the round controller: a full buffer drops the event and relies
// on the feed/poll channels to cover the loss.
type connSink struct {
	mu     sync.Mutex
	closed bool
	send   chan domain.Event
}

func newConnSink() *connSink {
	return &connSink{send: make(chan domain.Event, 32)}
}

func (s *connSink) Send(evt domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- evt:
	default:
		log.Warn().Str("event", evt.Type).Msg("ws send buffer full, dropping event")
	}
}

func (s *connSink) close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
	s.mu.Unlock()
}

// ServeWS runs one connection: a writer goroutine drains the sink while
// the read loop dispatches inbound messages. The first message must be a
// join; a reconnecting client re-sends join on its new connection to
// rebind the existing session seat.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	sink := newConnSink()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range sink.send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	var inbound domain.Envelope
	if err := conn.ReadJSON(&inbound); err != nil || inbound.Type != "join" {
		sink.Send(domain.Event{Type: domain.EventValidationError, Payload: domain.ErrorPayload{Message: "expected join"}})
		sink.close()
		<-writerDone
		return
	}
	var join joinPayload
	if err := json.Unmarshal(inbound.Payload, &join); err != nil || join.MatchID == "" {
		sink.Send(domain.Event{Type: domain.EventValidationError, Payload: domain.ErrorPayload{Message: "invalid join payload"}})
		sink.close()
		<-writerDone
		return
	}

	playerID, role, err := h.service.Join(r.Context(), join.MatchID, join.Token, sink)
	if err != nil {
		h.reject(sink, err)
		sink.close()
		<-writerDone
		return
	}
	sink.Send(domain.Event{Type: domain.EventConnected, Payload: domain.ConnectedPayload{
		MatchID:  join.MatchID,
		PlayerID: playerID,
		Role:     role,
	}})

	for {
		var inbound domain.Envelope
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "ready":
			if err := h.service.Ready(r.Context(), join.MatchID, playerID); err != nil {
				h.reject(sink, err)
			}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				sink.Send(domain.Event{Type: domain.EventValidationError, Payload: domain.ErrorPayload{Message: "invalid answer payload"}})
				continue
			}
			if err := h.service.SubmitAnswer(r.Context(), join.MatchID, playerID, payload.StepIndex, payload.OptionIndex); err != nil {
				h.reject(sink, err)
			}
		case "join":
			sink.Send(domain.Event{Type: domain.EventValidationError, Payload: domain.ErrorPayload{Message: "already joined"}})
		default:
			sink.Send(domain.Event{Type: domain.EventValidationError, Payload: domain.ErrorPayload{Message: "unsupported message type"}})
		}
	}

	h.service.Leave(r.Context(), join.MatchID, playerID, sink)
	sink.close()
	<-writerDone
}

// reject maps protocol violations to validation errors on the offending
// connection only; anything else surfaces as a game error.
func (h *WSHandler) reject(sink *connSink, err error) {
	switch {
	case errors.Is(err, domain.ErrOutOfPhase),
		errors.Is(err, domain.ErrStepMismatch),
		errors.Is(err, domain.ErrOptionOutOfRange),
		errors.Is(err, domain.ErrDuplicateAnswer),
		errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrTokenRejected),
		errors.Is(err, domain.ErrSessionNotFound):
		sink.Send(domain.Event{Type: domain.EventValidationError, Payload: domain.ErrorPayload{Message: err.Error()}})
	default:
		sink.Send(domain.Event{Type: domain.EventGameError, Payload: domain.ErrorPayload{Message: err.Error()}})
	}
}
