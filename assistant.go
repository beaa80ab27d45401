package main

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const (
	chatTemperature = 0.7
	chatMaxTokens   = 300

	removalTemperature = 0.5
	removalMaxTokens   = 200
)

// AnswerQuestion explains a moderation verdict to the human reviewer. The
// call is stateless: the full item context arrives with every question.
// A provider failure comes back as a user-visible error string, never as
// an aborted session.
func (c *VerdictClient) AnswerQuestion(ctx context.Context, itemCtx ItemContext, question string) string {
	postInfo := fmt.Sprintf("Post by u/%s: %s", authorOrDeleted(itemCtx.Author), itemCtx.Content)
	decision := fmt.Sprintf("AI Decision: %s - %s", itemCtx.Action, itemCtx.Reason)

	systemPrompt := "You are a helpful Reddit moderation assistant having a conversation with a human moderator."
	userPrompt := fmt.Sprintf(`You are a Reddit moderation assistant. You previously analyzed this content:

%s

%s

The human moderator is asking: %s

Please provide a helpful response about your moderation decision, the content, or any follow-up questions they have. Be conversational and explain your reasoning clearly.`,
		postInfo, decision, question)

	reply, err := c.complete(ctx, systemPrompt, userPrompt, chatTemperature, chatMaxTokens)
	if err != nil {
		log.Printf("assistant chat error: %v", err)
		return fmt.Sprintf("Error in AI chat: %v", err)
	}
	return reply
}

// DraftRemovalReason writes the human-readable removal reason that gets
// posted back to the author of removed content.
func (c *VerdictClient) DraftRemovalReason(ctx context.Context, itemCtx ItemContext) string {
	systemPrompt := "You are writing professional Reddit removal reasons for moderators."
	userPrompt := buildRemovalPrompt(itemCtx)

	reason, err := c.complete(ctx, systemPrompt, userPrompt, removalTemperature, removalMaxTokens)
	if err != nil {
		log.Printf("assistant removal-reason error: %v", err)
		return fmt.Sprintf("Content removed for violating subreddit rules. (Error generating detailed reason: %v)", err)
	}
	return reason
}

func buildRemovalPrompt(itemCtx ItemContext) string {
	kind := string(itemCtx.Kind)
	if kind == "" {
		kind = "post"
	}

	var complaints strings.Builder
	if len(itemCtx.UserReports) > 0 {
		complaints.WriteString("\nUser reports: " + strings.Join(itemCtx.UserReports, ", "))
	}
	if len(itemCtx.ModReports) > 0 {
		complaints.WriteString("\nMod reports: " + strings.Join(itemCtx.ModReports, ", "))
	}

	postInfo := fmt.Sprintf("%s by u/%s", capitalize(kind), authorOrDeleted(itemCtx.Author))
	if itemCtx.Title != "" && itemCtx.Title != itemCtx.Content {
		postInfo += "\nTitle: " + itemCtx.Title
	}
	if itemCtx.Content != "" {
		postInfo += "\nContent: " + itemCtx.Content
	}

	decision := fmt.Sprintf("AI recommended: %s - %s", itemCtx.Action, itemCtx.Reason)

	return fmt.Sprintf(`You are writing a removal reason for a Reddit %s. Here's the full context:

%s
%s
%s

Write a professional, clear removal reason that:
1. Explains why the content was removed
2. References the specific complaints/reports if relevant
3. Is respectful but firm
4. Helps the user understand what they did wrong

Keep it concise (2-3 sentences) and professional. This will be posted as the official removal reason.`,
		kind, postInfo, complaints.String(), decision)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
