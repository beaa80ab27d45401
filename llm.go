package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"

const (
	verdictTemperature = 0.3
	verdictMaxTokens   = 200
)

// Classifier is the narrow contract the pipeline has with the
// classification provider. Classify never fails: provider errors are
// contained here and converted into a fallback verdict.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) Verdict
}

type ClassifyRequest struct {
	Title   string
	Body    string
	Author  string
	Score   int
	Channel string
}

// ChannelRules is the named rule-set for one channel: a description of the
// community plus its enumerated removal criteria.
type ChannelRules struct {
	Context string
	Rules   string
}

var channelRules = map[string]ChannelRules{
	"grillsgonewild": {
		Context: "r/grillsgonewild, a subreddit about BBQ grills and grilling equipment",
		Rules: `- Spam or promotional content (especially affiliate links, discount codes)
- Off-topic content (not about grills/grilling/BBQ)
- Self-promotion without community engagement
- Low-effort posts
- Legitimate grilling content should be approved`,
	},
	"complainaboutanything": {
		Context: "r/complainaboutanything, a subreddit where people can complain about anything",
		Rules: `- REMOVE: Hate speech or harassment targeting individuals
- REMOVE: Personal attacks or doxxing
- REMOVE: Spam or promotional content
- REMOVE: Threats or incitement to violence
- REMOVE: Content promoting illegal activities
- APPROVE: Complaints and venting are generally allowed, even if heated
- APPROVE: Political complaints and criticism
- APPROVE: Personal frustrations and rants`,
	},
}

// rulesFor returns the channel's named rule-set, or the generic one for
// unrecognized channels.
func rulesFor(channel string) ChannelRules {
	if rules, ok := channelRules[channel]; ok {
		return rules
	}
	return ChannelRules{
		Context: fmt.Sprintf("r/%s, a Reddit community", channel),
		Rules: `- Hate speech or harassment
- Personal attacks
- Spam or promotional content
- Threats or violence
- Misinformation
- Rule violations`,
	}
}

// VerdictClient wraps the external classifier behind the provider switch
// the config selects.
type VerdictClient struct {
	cfg Config
	// openAIBaseURL is overridable in tests.
	openAIBaseURL string
}

func NewVerdictClient(cfg Config) *VerdictClient {
	return &VerdictClient{cfg: cfg, openAIBaseURL: "https://api.openai.com"}
}

// Classify submits one item to the classifier and returns its verdict.
// Any transport or parse failure yields the fallback verdict; the failure
// is logged, never propagated.
func (c *VerdictClient) Classify(ctx context.Context, req ClassifyRequest) Verdict {
	systemPrompt, userPrompt := buildVerdictPrompts(req, rulesFor(req.Channel))

	responseText, err := c.complete(ctx, systemPrompt, userPrompt, verdictTemperature, verdictMaxTokens)
	if err != nil {
		log.Printf("llm classify error channel=%s author=%s: %v", req.Channel, req.Author, err)
		return FallbackVerdict(err)
	}

	verdict, err := parseVerdictResponse(responseText)
	if err != nil {
		log.Printf("llm classify parse error channel=%s: %v", req.Channel, err)
		return FallbackVerdict(err)
	}
	return verdict
}

// buildVerdictPrompts is a pure function of the request and rule-set.
func buildVerdictPrompts(req ClassifyRequest, rules ChannelRules) (string, string) {
	postText := "Title: " + req.Title
	if strings.TrimSpace(req.Body) != "" {
		postText += "\nContent: " + req.Body
	}

	systemPrompt := "You are a helpful Reddit moderation assistant. Always respond with valid JSON."

	userPrompt := fmt.Sprintf(`You are a Reddit moderator for %s. Analyze this post and decide whether to APPROVE or REMOVE it.

Consider these factors:
%s

Post by u/%s (Score: %d):
%s

Respond with a JSON object containing:
- "action": "APPROVE" or "REMOVE"
- "reason": Brief explanation of your decision
- "confidence": Number from 1-10 (10 = very confident)

Example response:
{"action": "REMOVE", "reason": "Promotional content with discount code", "confidence": 9}`,
		rules.Context, rules.Rules, req.Author, req.Score, postText)

	return systemPrompt, userPrompt
}

// rawVerdict is the exact wire shape the classifier must return.
// Confidence arrives as a number; some models emit it as a float.
type rawVerdict struct {
	Action     string   `json:"action"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

func parseVerdictResponse(responseText string) (Verdict, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	var raw rawVerdict
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		return Verdict{}, fmt.Errorf("parsing verdict response: %w (response: %s)", err, responseText)
	}

	var action Action
	switch strings.ToUpper(strings.TrimSpace(raw.Action)) {
	case "APPROVE":
		action = ActionApprove
	case "REMOVE":
		action = ActionRemove
	default:
		return Verdict{}, fmt.Errorf("verdict action must be APPROVE or REMOVE, got %q", raw.Action)
	}

	if raw.Confidence == nil {
		return Verdict{}, fmt.Errorf("verdict response missing confidence")
	}
	confidence := int(*raw.Confidence)
	if confidence < 1 {
		confidence = 1
	}
	if confidence > 10 {
		confidence = 10
	}

	return Verdict{Action: action, Reason: strings.TrimSpace(raw.Reason), Confidence: confidence}, nil
}

// complete dispatches one system+user prompt pair to the configured
// provider and returns the raw response text.
func (c *VerdictClient) complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	switch c.cfg.LLMProvider {
	case "openai":
		model := c.cfg.LLMModel
		if model == "" {
			model = defaultOpenAIModel
		}
		return c.callOpenAI(ctx, model, systemPrompt, userPrompt, temperature, maxTokens)
	default:
		model := c.cfg.LLMModel
		if model == "" {
			model = defaultAnthropicModel
		}
		return c.callAnthropic(ctx, model, systemPrompt, userPrompt, temperature, maxTokens)
	}
}

// --- Anthropic ---

func (c *VerdictClient) callAnthropic(ctx context.Context, model, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(c.cfg.AnthropicAPIKey))

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}

// --- OpenAI ---

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *VerdictClient) callOpenAI(ctx context.Context, model, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.openAIBaseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(respBody, &openAIResp); err != nil {
		return "", fmt.Errorf("parsing OpenAI response: %w", err)
	}

	if openAIResp.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", openAIResp.Error.Message)
	}
	if len(openAIResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}

	log.Printf("llm openai response size=%d", len(openAIResp.Choices[0].Message.Content))
	return openAIResp.Choices[0].Message.Content, nil
}
