package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeAssistant satisfies AssistantClient on top of the shared classifier
// fake.
type fakeAssistant struct {
	fakeClassifier
}

func (a *fakeAssistant) AnswerQuestion(ctx context.Context, itemCtx ItemContext, question string) string {
	return "Because of: " + question
}

func (a *fakeAssistant) DraftRemovalReason(ctx context.Context, itemCtx ItemContext) string {
	return "Removed for rule violations."
}

type wsTestConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialTestServer(t *testing.T, srv *Server) *wsTestConn {
	t.Helper()
	server := httptest.NewServer(srv.Routes())
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsTestConn{t: t, conn: conn}
}

func (c *wsTestConn) send(kind ControlKind, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshaling control data: %v", err)
	}
	if err := c.conn.WriteJSON(Control{Kind: kind, Data: raw}); err != nil {
		c.t.Fatalf("writing control message: %v", err)
	}
}

// wireEvent re-decodes the outbound envelope with a raw payload so tests
// can inspect individual fields.
type wireEvent struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (c *wsTestConn) next() wireEvent {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev wireEvent
	if err := c.conn.ReadJSON(&ev); err != nil {
		c.t.Fatalf("reading event: %v", err)
	}
	return ev
}

// collectUntil reads events until one of the given kind arrives.
func (c *wsTestConn) collectUntil(kind EventKind) []wireEvent {
	c.t.Helper()
	var events []wireEvent
	for {
		ev := c.next()
		events = append(events, ev)
		if ev.Kind == kind {
			return events
		}
	}
}

func newWSTestServer(t *testing.T, queue QueueSource) *Server {
	t.Helper()
	srv := NewServer(Config{DefaultItemLimit: 5}, &fakeAssistant{}, nil, nil)
	srv.newQueue = func(token, identity string) QueueSource { return queue }
	srv.setAuthenticated("test-token", "testmod")
	return srv
}

func TestWSStartRunStreamsFullSession(t *testing.T) {
	queue := &fakeQueue{items: testItems(2)}
	conn := dialTestServer(t, newWSTestServer(t, queue))

	humanReview := false
	conn.send(ControlStartRun, StartRunControl{Channel: "testchannel", Limit: 5, HumanReviewMode: &humanReview})

	events := conn.collectUntil(EventCompletion)

	kinds := make(map[EventKind]int)
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	if kinds[EventItemAnalyzing] != 2 || kinds[EventVerdictRendered] != 2 || kinds[EventActionResult] != 2 {
		t.Fatalf("unexpected event mix: %v", kinds)
	}
	if kinds[EventError] != 0 {
		t.Fatalf("no errors expected, got %v", kinds)
	}

	var completion CompletionPayload
	if err := json.Unmarshal(events[len(events)-1].Payload, &completion); err != nil {
		t.Fatalf("decoding completion: %v", err)
	}
	if completion.ProcessedCount != 2 {
		t.Fatalf("expected processedCount=2, got %d", completion.ProcessedCount)
	}
}

func TestWSStartRunRequiresChannel(t *testing.T) {
	conn := dialTestServer(t, newWSTestServer(t, &fakeQueue{}))

	conn.send(ControlStartRun, StartRunControl{})

	ev := conn.next()
	if ev.Kind != EventError {
		t.Fatalf("expected error event, got %s", ev.Kind)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if !strings.Contains(payload.Message, "subreddit name") {
		t.Fatalf("unexpected error message %q", payload.Message)
	}
}

func TestWSStartRunRequiresAuth(t *testing.T) {
	srv := NewServer(Config{DefaultItemLimit: 5}, &fakeAssistant{}, nil, nil)
	conn := dialTestServer(t, srv)

	conn.send(ControlStartRun, StartRunControl{Channel: "testchannel"})

	ev := conn.next()
	if ev.Kind != EventError {
		t.Fatalf("expected error event, got %s", ev.Kind)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if !strings.Contains(payload.Message, "authenticate") {
		t.Fatalf("unexpected error message %q", payload.Message)
	}
}

func TestWSRejectsSecondActiveRun(t *testing.T) {
	// A fetch that blocks keeps the first run active while the second
	// startRun arrives.
	release := make(chan struct{})
	queue := &blockingQueue{release: release}
	conn := dialTestServer(t, newWSTestServer(t, queue))

	conn.send(ControlStartRun, StartRunControl{Channel: "testchannel"})
	// First status event confirms the run started.
	if ev := conn.next(); ev.Kind != EventStatus {
		t.Fatalf("expected status event, got %s", ev.Kind)
	}

	conn.send(ControlStartRun, StartRunControl{Channel: "otherchannel"})

	for {
		ev := conn.next()
		if ev.Kind != EventError {
			continue
		}
		var payload ErrorPayload
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			t.Fatalf("decoding error payload: %v", err)
		}
		if !strings.Contains(payload.Message, "still active") {
			t.Fatalf("unexpected error message %q", payload.Message)
		}
		break
	}
	close(release)
}

// blockingQueue parks FetchPending until released.
type blockingQueue struct {
	release chan struct{}
}

func (q *blockingQueue) FetchPending(ctx context.Context, channel string, limit int) ([]*Item, error) {
	<-q.release
	return nil, nil
}

func (q *blockingQueue) Apply(ctx context.Context, item *Item, action Action) error { return nil }

func TestWSSubmitBatchRoundTrip(t *testing.T) {
	queue := &fakeQueue{items: testItems(2)}
	conn := dialTestServer(t, newWSTestServer(t, queue))

	conn.send(ControlStartRun, StartRunControl{Channel: "testchannel"})
	conn.collectUntil(EventCompletion)

	conn.send(ControlSubmitBatch, SubmitBatchControl{
		Channel:   "testchannel",
		Decisions: map[string]Decision{"1": DecisionApprove, "2": DecisionRemove},
	})

	events := conn.collectUntil(EventCompletion)
	var progress int
	for _, ev := range events {
		if ev.Kind == EventBatchProgress {
			progress++
		}
	}
	if progress != 2 {
		t.Fatalf("expected 2 batchProgress events, got %d", progress)
	}
	calls := queue.applyCalls()
	if len(calls) != 2 || calls[1].Action != ActionRemove {
		t.Fatalf("unexpected apply calls: %+v", calls)
	}
}

func TestWSSubmitBatchWithoutSession(t *testing.T) {
	conn := dialTestServer(t, newWSTestServer(t, &fakeQueue{}))

	conn.send(ControlSubmitBatch, SubmitBatchControl{
		Decisions: map[string]Decision{"1": DecisionApprove},
	})

	ev := conn.next()
	if ev.Kind != EventError {
		t.Fatalf("expected error event, got %s", ev.Kind)
	}
	var payload ErrorPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if !strings.Contains(payload.Message, "No active moderation session") {
		t.Fatalf("unexpected error message %q", payload.Message)
	}
}

func TestWSAskAssistant(t *testing.T) {
	conn := dialTestServer(t, newWSTestServer(t, &fakeQueue{}))

	conn.send(ControlAskAssistant, AskAssistantControl{
		Ordinal:  3,
		Question: "why remove?",
		Context:  ItemContext{Action: ActionRemove},
	})

	ev := conn.next()
	if ev.Kind != EventAssistantReply {
		t.Fatalf("expected assistantReply, got %s", ev.Kind)
	}
	var payload AssistantReplyPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.Ordinal != 3 || payload.Text != "Because of: why remove?" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestWSRequestRemovalText(t *testing.T) {
	conn := dialTestServer(t, newWSTestServer(t, &fakeQueue{}))

	conn.send(ControlRequestRemovalText, RequestRemovalTextControl{Ordinal: 1})

	ev := conn.next()
	if ev.Kind != EventRemovalText {
		t.Fatalf("expected removalText, got %s", ev.Kind)
	}
	var payload RemovalTextPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.Text != "Removed for rule violations." {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestWSMalformedControl(t *testing.T) {
	conn := dialTestServer(t, newWSTestServer(t, &fakeQueue{}))

	if err := conn.conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("writing raw message: %v", err)
	}

	ev := conn.next()
	if ev.Kind != EventError {
		t.Fatalf("expected error event, got %s", ev.Kind)
	}

	conn.send(ControlKind("bogus"), map[string]any{})
	ev = conn.next()
	if ev.Kind != EventError {
		t.Fatalf("expected error event for unknown kind, got %s", ev.Kind)
	}
}
