package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard UI may be served from anywhere.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsEmitter serializes event writes to one observer connection. Delivery
// is best-effort, at-most-once: a write error is logged and the event is
// gone.
type wsEmitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsEmitter) Emit(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.conn.WriteJSON(ev); err != nil {
		log.Printf("ws write error kind=%s: %v", ev.Kind, err)
	}
}

// observer owns one websocket connection and at most one active run.
type observer struct {
	srv  *Server
	emit *wsEmitter

	mu  sync.Mutex
	run *Run
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	obs := &observer{srv: s, emit: &wsEmitter{conn: conn}}
	log.Printf("ws observer connected remote=%s", conn.RemoteAddr())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("ws observer disconnected remote=%s: %v", conn.RemoteAddr(), err)
			return
		}
		obs.dispatch(data)
	}
}

// dispatch decodes one inbound control message and routes it. A malformed
// message produces a targeted error event; it never crashes the worker or
// affects in-flight items.
func (o *observer) dispatch(data []byte) {
	var ctl Control
	if err := json.Unmarshal(data, &ctl); err != nil {
		emitError(o.emit, fmt.Sprintf("Malformed control message: %v", err))
		return
	}

	switch ctl.Kind {
	case ControlStartRun:
		o.handleStartRun(ctl.Data)
	case ControlSubmitBatch:
		o.handleSubmitBatch(ctl.Data)
	case ControlAskAssistant:
		o.handleAskAssistant(ctl.Data)
	case ControlRequestRemovalText:
		o.handleRequestRemovalText(ctl.Data)
	default:
		emitError(o.emit, fmt.Sprintf("Unknown control kind %q", ctl.Kind))
	}
}

func (o *observer) handleStartRun(data json.RawMessage) {
	var ctl StartRunControl
	if err := json.Unmarshal(data, &ctl); err != nil {
		emitError(o.emit, fmt.Sprintf("Malformed startRun message: %v", err))
		return
	}
	if ctl.Channel == "" {
		emitError(o.emit, "Please enter a subreddit name")
		return
	}

	queue, ok := o.srv.queueSource()
	if !ok {
		emitError(o.emit, "Please authenticate first")
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != nil && !o.run.Finished() {
		// Single run per observer at a time; the core does not arbitrate
		// concurrent runs against the same channel identity.
		emitError(o.emit, fmt.Sprintf("A moderation run for r/%s is still active", o.run.Channel()))
		return
	}

	limit := ctl.Limit
	if limit < 1 {
		limit = o.srv.cfg.DefaultItemLimit
	}
	humanReview := true
	if ctl.HumanReviewMode != nil {
		humanReview = *ctl.HumanReviewMode
	}

	run := NewRun(RunOptions{
		Channel:     ctl.Channel,
		Limit:       limit,
		HumanReview: humanReview,
		Queue:       queue,
		Classifier:  o.srv.llm,
		Emitter:     o.emit,
		ApplyPause:  o.srv.cfg.ApplyPause(),
		BatchPause:  o.srv.cfg.BatchPause(),
		History:     o.srv.history,
		OnComplete:  o.srv.notifier.RunComplete,
	})
	o.run = run
	run.Start()
}

func (o *observer) handleSubmitBatch(data json.RawMessage) {
	var ctl SubmitBatchControl
	if err := json.Unmarshal(data, &ctl); err != nil {
		emitError(o.emit, fmt.Sprintf("Malformed submitBatch message: %v", err))
		return
	}
	if len(ctl.Decisions) == 0 {
		emitError(o.emit, "submitBatch requires a decisions mapping")
		return
	}

	o.mu.Lock()
	run := o.run
	o.mu.Unlock()
	if run == nil {
		emitError(o.emit, "No active moderation session")
		return
	}
	if ctl.Channel != "" && ctl.Channel != run.Channel() {
		emitError(o.emit, fmt.Sprintf("No active moderation session for r/%s", ctl.Channel))
		return
	}

	go run.ProcessBatch(context.Background(), parseDecisionKeys(ctl.Decisions), ctl.DryRun)
}

func (o *observer) handleAskAssistant(data json.RawMessage) {
	var ctl AskAssistantControl
	if err := json.Unmarshal(data, &ctl); err != nil {
		emitError(o.emit, fmt.Sprintf("Malformed askAssistant message: %v", err))
		return
	}
	if ctl.Question == "" {
		emitError(o.emit, "askAssistant requires a question")
		return
	}

	go func() {
		text := o.srv.llm.AnswerQuestion(context.Background(), ctl.Context, ctl.Question)
		o.emit.Emit(Event{Kind: EventAssistantReply, Payload: AssistantReplyPayload{
			Ordinal: ctl.Ordinal,
			Text:    text,
		}})
	}()
}

func (o *observer) handleRequestRemovalText(data json.RawMessage) {
	var ctl RequestRemovalTextControl
	if err := json.Unmarshal(data, &ctl); err != nil {
		emitError(o.emit, fmt.Sprintf("Malformed requestRemovalText message: %v", err))
		return
	}

	go func() {
		text := o.srv.llm.DraftRemovalReason(context.Background(), ctl.Context)
		o.emit.Emit(Event{Kind: EventRemovalText, Payload: RemovalTextPayload{
			Ordinal: ctl.Ordinal,
			Text:    text,
		}})
	}()
}
