package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
)

const anthropicVersion = "2023-06-01"

type anthropicDialect struct {
	model string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicReply struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (anthropicDialect) path() string { return "/v1/messages" }

func (anthropicDialect) headers(h http.Header, apiKey string) {
	h.Set("X-API-Key", apiKey)
	h.Set("Anthropic-Version", anthropicVersion)
}

func (d anthropicDialect) body(prompt string, maxTokens int) any {
	return anthropicRequest{
		Model:       d.model,
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
}

// text returns the first text block.
func (anthropicDialect) text(body []byte) (string, error) {
	var reply anthropicReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("parse anthropic reply: %w", err)
	}
	for _, block := range reply.Content {
		if (block.Type == "text" || block.Type == "") && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}
