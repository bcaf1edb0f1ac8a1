package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
)

type openAIDialect struct {
	model string
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (openAIDialect) path() string { return "/v1/chat/completions" }

func (openAIDialect) headers(h http.Header, apiKey string) {
	h.Set("Authorization", "Bearer "+apiKey)
}

func (d openAIDialect) body(prompt string, maxTokens int) any {
	return chatRequest{
		Model:       d.model,
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}
}

// text returns the first choice.
func (openAIDialect) text(body []byte) (string, error) {
	var reply struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return "", fmt.Errorf("parse chat completion: %w", err)
	}
	if len(reply.Choices) == 0 || reply.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return reply.Choices[0].Message.Content, nil
}
