package main

import (
	"fmt"
	"strings"
	"time"
)

type ItemKind string

const (
	KindPost    ItemKind = "post"
	KindComment ItemKind = "comment"
)

// ItemState tracks an item through one moderation run. Transitions only
// move forward; only the apply step can fail an item.
type ItemState string

const (
	StateFetched       ItemState = "fetched"
	StateAnalyzing     ItemState = "analyzing"
	StateAnalyzed      ItemState = "analyzed"
	StateAutoApplied   ItemState = "auto_applied"
	StateAwaitingHuman ItemState = "awaiting_human"
	StateHumanDecided  ItemState = "human_decided"
	StateApplied       ItemState = "applied"
	StateSkipped       ItemState = "skipped"
	StateFailed        ItemState = "failed"
)

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionRemove  Action = "REMOVE"
)

// Decision is a human reviewer's choice for one ordinal in a batch.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionRemove  Decision = "remove"
	DecisionSkip    Decision = "skip"
)

func (d Decision) ToAction() (Action, bool) {
	switch d {
	case DecisionApprove:
		return ActionApprove, true
	case DecisionRemove:
		return ActionRemove, true
	}
	return "", false
}

type ReportSource string

const (
	ReportFromUser      ReportSource = "user"
	ReportFromModerator ReportSource = "moderator"
)

// Report is one normalized entry from the provider's user_reports /
// mod_reports pairs. Count is set for user reports, Moderator for mod
// reports.
type Report struct {
	Source    ReportSource `json:"source"`
	Reason    string       `json:"reason"`
	Count     int          `json:"count,omitempty"`
	Moderator string       `json:"moderator,omitempty"`
}

// Item is one unit of content awaiting moderation. Everything but State,
// Verdict and FailureReason is immutable after normalization.
type Item struct {
	Ordinal      int // 1-based position within the fetched batch
	Kind         ItemKind
	FullName     string // provider thing id, e.g. "t3_abc123"
	Title        string
	Body         string
	Author       string
	Score        int
	CreatedAt    time.Time
	Permalink    string
	Reports      []Report
	PriorRemoval string // empty when the item was never removed before

	State         ItemState
	Verdict       *Verdict
	FailureReason string
}

const (
	commentPreviewMax     = 100
	parentTitlePreviewMax = 50
)

// Preview returns the short display text for an item: a comment body is
// truncated to 100 characters, a post falls back to its title when the
// body is empty.
func (it *Item) Preview() string {
	if it.Kind == KindComment {
		return truncate(it.Body, commentPreviewMax)
	}
	if strings.TrimSpace(it.Body) == "" {
		return it.Title
	}
	return it.Body
}

// URL returns the absolute permalink for the item.
func (it *Item) URL() string {
	if it.Permalink == "" {
		return ""
	}
	return "https://reddit.com" + it.Permalink
}

// commentTitle synthesizes a comment's display title from its parent
// post's title.
func commentTitle(parentTitle string) string {
	if parentTitle == "" {
		parentTitle = "Unknown"
	}
	if runes := []rune(parentTitle); len(runes) > parentTitlePreviewMax {
		parentTitle = string(runes[:parentTitlePreviewMax])
	}
	return "Comment on: " + parentTitle + "..."
}

// truncate cuts on rune boundaries so multi-byte text never yields an
// invalid suffix.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// Verdict is the classifier's structured output for one item.
// Confidence runs from 1 (guess) to 10 (certain).
type Verdict struct {
	Action     Action `json:"action"`
	Reason     string `json:"reason"`
	Confidence int    `json:"confidence"`
}

// FallbackVerdict is substituted whenever the classifier call fails or
// returns unparseable output. A classification failure must never become
// a pipeline failure.
func FallbackVerdict(err error) Verdict {
	return Verdict{
		Action:     ActionApprove,
		Reason:     fmt.Sprintf("Error in analysis: %v", err),
		Confidence: 1,
	}
}

// Channel is one community the authenticated identity moderates.
type Channel struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Subscribers int    `json:"subscribers"`
}
