package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAnswerQuestion(t *testing.T) {
	var gotReq openAIRequest
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, openAIReply("I removed it because it was promotional."))
	})

	reply := client.AnswerQuestion(context.Background(), ItemContext{
		Author:  "spammer",
		Content: "Buy my grill covers",
		Action:  ActionRemove,
		Reason:  "Promotional content",
	}, "Why did you remove this?")

	if reply != "I removed it because it was promotional." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if gotReq.Temperature != chatTemperature {
		t.Fatalf("expected chat temperature %v, got %v", chatTemperature, gotReq.Temperature)
	}
	if gotReq.MaxTokens != chatMaxTokens {
		t.Fatalf("expected chat max_tokens %d, got %d", chatMaxTokens, gotReq.MaxTokens)
	}
	user := gotReq.Messages[1].Content
	if !strings.Contains(user, "Post by u/spammer: Buy my grill covers") {
		t.Fatal("prompt missing item context")
	}
	if !strings.Contains(user, "AI Decision: REMOVE - Promotional content") {
		t.Fatal("prompt missing prior decision")
	}
	if !strings.Contains(user, "Why did you remove this?") {
		t.Fatal("prompt missing the question")
	}
}

func TestAnswerQuestionErrorBecomesReply(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"message": "quota exceeded"}}`)
	})

	reply := client.AnswerQuestion(context.Background(), ItemContext{}, "anything")
	if !strings.HasPrefix(reply, "Error in AI chat:") {
		t.Fatalf("provider failure should come back as an error reply, got %q", reply)
	}
}

func TestDraftRemovalReason(t *testing.T) {
	var gotReq openAIRequest
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		fmt.Fprint(w, openAIReply("Your post was removed for being promotional."))
	})

	reason := client.DraftRemovalReason(context.Background(), ItemContext{
		Kind:        KindComment,
		Author:      "spammer",
		Content:     "Buy this",
		Action:      ActionRemove,
		Reason:      "Spam",
		UserReports: []string{"Spam", "Self promotion"},
		ModReports:  []string{"Ban evasion"},
	})

	if reason != "Your post was removed for being promotional." {
		t.Fatalf("unexpected reason %q", reason)
	}
	if gotReq.Temperature != removalTemperature {
		t.Fatalf("expected removal temperature %v, got %v", removalTemperature, gotReq.Temperature)
	}
	user := gotReq.Messages[1].Content
	if !strings.Contains(user, "Comment by u/spammer") {
		t.Fatal("prompt should capitalize the item kind")
	}
	if !strings.Contains(user, "User reports: Spam, Self promotion") {
		t.Fatal("prompt missing user reports")
	}
	if !strings.Contains(user, "Mod reports: Ban evasion") {
		t.Fatal("prompt missing mod reports")
	}
	if !strings.Contains(user, "AI recommended: REMOVE - Spam") {
		t.Fatal("prompt missing the verdict")
	}
}

func TestDraftRemovalReasonErrorFallsBackToGeneric(t *testing.T) {
	client := newOpenAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	reason := client.DraftRemovalReason(context.Background(), ItemContext{})
	if !strings.HasPrefix(reason, "Content removed for violating subreddit rules.") {
		t.Fatalf("provider failure should fall back to the generic reason, got %q", reason)
	}
}

func TestBuildRemovalPromptDefaultsKind(t *testing.T) {
	prompt := buildRemovalPrompt(ItemContext{Author: "someone"})
	if !strings.Contains(prompt, "removal reason for a Reddit post") {
		t.Fatal("empty kind should default to post")
	}
	if !strings.Contains(prompt, "Post by u/someone") {
		t.Fatal("prompt missing author line")
	}
}
