package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/openshift/sippy-chat/internal/agent"
	"github.com/openshift/sippy-chat/internal/correlate"
)

const wsWriteTimeout = 10 * time.Second

// Stream frame types.
const (
	frameThinkingStep  = "thinking_step"
	frameFinalResponse = "final_response"
	frameError         = "error"
	frameCancel        = "cancel"
)

type streamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type finalResponseData struct {
	Response       string                `json:"response"`
	ToolsUsed      []string              `json:"tools_used"`
	Visualizations []agent.Visualization `json:"visualizations"`
	Status         agent.Status          `json:"status"`
	Timestamp      string                `json:"timestamp"`
}

type errorData struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// SafeConn serializes writes; gorilla connections allow one concurrent
// writer only.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteFrame(frameType string, data any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_ = sc.Conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return sc.Conn.WriteJSON(streamMessage{Type: frameType, Data: data})
}

// streamSession is one websocket connection. At most one turn runs at a
// time and one more may wait behind it; a cancel frame or a disconnect
// cancels both.
type streamSession struct {
	conn *SafeConn
	log  *log.Entry

	mu      sync.Mutex
	nextID  int
	cancels map[int]context.CancelFunc
}

// streamTurn is a queued request. Its context exists from the moment the
// request is read, so a cancel frame reaches it even before it starts.
type streamTurn struct {
	id  int
	req chatRequest
	ctx context.Context
}

func (ss *streamSession) track(cancel context.CancelFunc) int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.cancels == nil {
		ss.cancels = make(map[int]context.CancelFunc)
	}
	ss.nextID++
	ss.cancels[ss.nextID] = cancel
	return ss.nextID
}

// release cancels and forgets one turn.
func (ss *streamSession) release(id int) {
	ss.mu.Lock()
	cancel := ss.cancels[id]
	delete(ss.cancels, id)
	ss.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// cancelAll cancels every queued or running turn and reports how many there
// were.
func (ss *streamSession) cancelAll() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, cancel := range ss.cancels {
		cancel()
	}
	return len(ss.cancels)
}

func (ss *streamSession) sendError(msg string) {
	if err := ss.conn.WriteFrame(frameError, errorData{Error: msg, Timestamp: now()}); err != nil {
		ss.log.WithError(err).Debug("write error frame")
	}
}

func (s *chatServer) handleStream(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	conn := &SafeConn{Conn: raw}
	defer conn.Close()

	closeSession := s.metrics.SessionOpened()
	defer closeSession()

	ctx, disconnect := context.WithCancel(r.Context())
	defer disconnect()

	ss := &streamSession{conn: conn, log: s.log.WithField("remote", r.RemoteAddr)}
	requests := make(chan streamTurn, 1)
	go s.readFrames(ctx, ss, requests, disconnect)

	for turn := range requests {
		s.runStreamTurn(ss, turn)
	}
}

// readFrames reads client frames until the connection fails. Cancel frames
// act immediately; chat frames are queued for the turn loop.
func (s *chatServer) readFrames(ctx context.Context, ss *streamSession, requests chan<- streamTurn, disconnect context.CancelFunc) {
	defer close(requests)
	defer disconnect()
	for {
		_, data, err := ss.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ss.log.WithError(err).Debug("websocket read")
			}
			return
		}
		var req chatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			ss.sendError("invalid message: " + err.Error())
			continue
		}
		if req.Type == frameCancel {
			if n := ss.cancelAll(); n > 0 {
				ss.log.WithField("turns", n).Info("turn cancelled by client")
			}
			continue
		}
		turnCtx, cancel := context.WithCancel(ctx)
		turn := streamTurn{id: ss.track(cancel), req: req, ctx: turnCtx}
		select {
		case requests <- turn:
		default:
			ss.release(turn.id)
			ss.sendError("a request is already in progress")
		}
	}
}

func (s *chatServer) runStreamTurn(ss *streamSession, turn streamTurn) {
	defer ss.release(turn.id)
	req := turn.req
	s.metrics.MessageReceived("websocket")
	s.metrics.MessageSize("request", len(req.Message))

	in, err := s.rt.turnInput(req.Message, req.ChatHistory, req.ShowThinking, req.Persona, req.PageContext)
	if err != nil {
		ss.sendError(err.Error())
		return
	}

	start := time.Now()
	res, err := s.rt.driver.Handle(turn.ctx, in, func(step correlate.Step) {
		if werr := ss.conn.WriteFrame(frameThinkingStep, step); werr != nil {
			ss.log.WithError(werr).Debug("write thinking step")
		}
	})
	s.metrics.ObserveResponse("websocket", time.Since(start).Seconds())

	switch {
	case errors.Is(err, agent.ErrCancelled):
		s.metrics.Cancelled("websocket")
		return
	case err != nil:
		ss.log.WithError(err).Error("error in websocket chat")
		s.metrics.Error("agent_error")
		ss.sendError(err.Error())
		return
	}

	s.metrics.MessageSize("response", len(res.FinalText))
	err = ss.conn.WriteFrame(frameFinalResponse, finalResponseData{
		Response:       res.FinalText,
		ToolsUsed:      nonNil(res.ToolsUsed),
		Visualizations: nonNil(res.Visualizations),
		Status:         res.Status,
		Timestamp:      now(),
	})
	if err != nil {
		ss.log.WithError(err).Debug("write final response")
	}
}

func now() string {
	return time.Now().Format(time.RFC3339)
}
