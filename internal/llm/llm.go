package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GeneratedQuestion is a single multiple-choice question produced by the LLM.
type GeneratedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
}

type generationResponse struct {
	Questions []GeneratedQuestion `json:"questions"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping checks that the LLM endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// GenerateQuestions asks the LLM for count multiple-choice questions on the
// given topic at the given difficulty.
func (c *Client) GenerateQuestions(ctx context.Context, topic, difficulty string, count int) ([]GeneratedQuestion, error) {
	systemPrompt := buildGenerationPrompt(topic, difficulty, count)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Generate %d questions now.", count)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	var result generationResponse
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	valid := make([]GeneratedQuestion, 0, len(result.Questions))
	for _, q := range result.Questions {
		if err := validateGenerated(q); err != nil {
			slog.Warn("discarding malformed generated question", "error", err)
			continue
		}
		valid = append(valid, q)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("LLM produced no usable questions (raw: %s)", raw)
	}
	return valid, nil
}

func validateGenerated(q GeneratedQuestion) error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("empty question text")
	}
	if len(q.Options) < 4 || len(q.Options) > 5 {
		return fmt.Errorf("expected 4 or 5 options, got %d", len(q.Options))
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("option %d is empty", i+1)
		}
	}
	answer := strings.ToLower(strings.TrimSpace(q.CorrectAnswer))
	if len(answer) != 1 || answer[0] < 'a' || int(answer[0]-'a') >= len(q.Options) {
		return fmt.Errorf("correct_answer %q does not name an option", q.CorrectAnswer)
	}
	return nil
}

func buildGenerationPrompt(topic, difficulty string, count int) string {
	var sb strings.Builder
	sb.WriteString("You are a question author for a certification exam question bank.\n\n")
	sb.WriteString("TOPIC: " + topic + "\n")
	sb.WriteString("DIFFICULTY: " + difficulty + "\n")
	sb.WriteString(fmt.Sprintf("COUNT: %d\n\n", count))

	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Write clear, unambiguous multiple-choice questions on the topic above.\n")
	sb.WriteString("- Each question has 4 or 5 answer options with exactly one correct option.\n")
	sb.WriteString("- Distractors must be plausible but verifiably wrong.\n")
	sb.WriteString("- Match the requested difficulty: easy questions test recall, medium questions test application, hard questions test analysis.\n")
	sb.WriteString("- Do not repeat questions or reuse the same stem with swapped options.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"questions": [{"question": "<text>", "options": ["<a>", "<b>", "<c>", "<d>"], "correct_answer": "<a|b|c|d|e>", "explanation": "<why the answer is correct>"}]}`)
	sb.WriteString("\n")

	return sb.String()
}
