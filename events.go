package main

import "encoding/json"

// EventKind names one outbound event on the wire. The kind strings and the
// payload field names below are the protocol surface a remote UI integrates
// against.
type EventKind string

const (
	EventStatus          EventKind = "status"
	EventItemAnalyzing   EventKind = "itemAnalyzing"
	EventVerdictRendered EventKind = "verdictRendered"
	EventActionResult    EventKind = "actionResult"
	EventBatchProgress   EventKind = "batchProgress"
	EventCompletion      EventKind = "completion"
	EventError           EventKind = "error"
	EventAssistantReply  EventKind = "assistantReply"
	EventRemovalText     EventKind = "removalText"
)

// Event is the outbound wire envelope.
type Event struct {
	Kind    EventKind `json:"kind"`
	Payload any       `json:"payload"`
}

type StatusPayload struct {
	Message  string `json:"message"`
	Severity string `json:"severity"` // "info" | "success" | "warning"
}

type ItemAnalyzingPayload struct {
	Ordinal      int      `json:"ordinal"`
	TotalItems   int      `json:"totalItems"`
	Kind         ItemKind `json:"kind"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	Score        int      `json:"score"`
	Preview      string   `json:"preview"`
	FullBody     string   `json:"fullBody"`
	URL          string   `json:"url"`
	Reports      []Report `json:"reports"`
	PriorRemoval string   `json:"priorRemoval,omitempty"`
	CreatedAt    int64    `json:"createdAt"`
}

type VerdictRenderedPayload struct {
	Ordinal    int    `json:"ordinal"`
	Action     Action `json:"action"`
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
}

type ActionResultPayload struct {
	Ordinal     int    `json:"ordinal"`
	Action      Action `json:"action"`
	Applied     bool   `json:"applied"`
	HumanReview bool   `json:"humanReview"`
	Error       string `json:"error,omitempty"`
}

type BatchProgressPayload struct {
	Ordinal int    `json:"ordinal"`
	Action  Action `json:"action"`
	Success bool   `json:"success"`
	DryRun  bool   `json:"dryRun,omitempty"`
	Error   string `json:"error,omitempty"`
}

type CompletionPayload struct {
	Message        string `json:"message"`
	ProcessedCount int    `json:"processedCount"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type AssistantReplyPayload struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

type RemovalTextPayload struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// Emitter is the sink a run or reconciler reports progress into. Writes
// must be safe for use from multiple goroutines.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

func emitStatus(e Emitter, severity, message string) {
	e.Emit(Event{Kind: EventStatus, Payload: StatusPayload{Message: message, Severity: severity}})
}

func emitError(e Emitter, message string) {
	e.Emit(Event{Kind: EventError, Payload: ErrorPayload{Message: message}})
}

// ControlKind names one inbound control message.
type ControlKind string

const (
	ControlStartRun           ControlKind = "startRun"
	ControlSubmitBatch        ControlKind = "submitBatch"
	ControlAskAssistant       ControlKind = "askAssistant"
	ControlRequestRemovalText ControlKind = "requestRemovalText"
)

// Control is the inbound wire envelope. Data is decoded per Kind.
type Control struct {
	Kind ControlKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type StartRunControl struct {
	Channel string `json:"channel"`
	Limit   int    `json:"limit"`
	// Pointer so an absent field defaults to true.
	HumanReviewMode *bool `json:"humanReviewMode"`
}

// SubmitBatchControl carries ordinal -> decision as JSON object keys,
// which are always strings on the wire.
type SubmitBatchControl struct {
	Decisions map[string]Decision `json:"decisions"`
	Channel   string              `json:"channel"`
	DryRun    bool                `json:"dryRun"`
}

// ItemContext is the stored per-item context a reviewer's client echoes
// back with assistant requests. Assistant calls are stateless; each call
// carries everything it needs.
type ItemContext struct {
	Kind        ItemKind `json:"kind"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Content     string   `json:"content"`
	Channel     string   `json:"channel"`
	Action      Action   `json:"action"`
	Reason      string   `json:"reason"`
	UserReports []string `json:"userReports,omitempty"`
	ModReports  []string `json:"modReports,omitempty"`
}

type AskAssistantControl struct {
	Ordinal  int         `json:"ordinal"`
	Question string      `json:"question"`
	Context  ItemContext `json:"itemContext"`
}

type RequestRemovalTextControl struct {
	Ordinal int         `json:"ordinal"`
	Context ItemContext `json:"itemContext"`
}
