package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/models"
	"github.com/tmc/langchaingo/llms"
)

// ChatPersona is the fixed system instruction for the chat assistant.
const ChatPersona = "You are a friendly, enthusiastic, and helpful AI assistant for children. Keep answers simple, safe, and encouraging."

// FallbackReply is returned when the chat model answers with no text.
const FallbackReply = "I couldn't think of a response!"

// ChatReply sends message plus the prior transcript to the chat model and returns its reply.
func (c *Client) ChatReply(ctx context.Context, key credential.Key, message string, history []models.HistoryEntry) (string, error) {
	model, err := c.chatModel(ctx, key)
	if err != nil {
		if errors.Is(err, credential.ErrCredentialMissing) {
			return "", err
		}
		return "", generationError(KindChat, fmt.Errorf("init chat model: %w", err))
	}

	log.Debug().
		Str("model", c.modelChat).
		Int("history", len(history)).
		Str("message", preview(message, 50)).
		Msg("Sending chat message")

	resp, err := model.GenerateContent(ctx, chatMessages(message, history), llms.WithTemperature(0.7))
	if err != nil {
		return "", generationError(KindChat, err)
	}
	if len(resp.Choices) == 0 {
		log.Warn().Str("model", c.modelChat).Msg("Chat model returned no choices, using fallback reply")
		return FallbackReply, nil
	}

	reply := resp.Choices[0].Content
	logGeminiResponse("ChatReply", reply)
	if strings.TrimSpace(reply) == "" {
		log.Warn().Str("model", c.modelChat).Msg("Chat model returned empty reply, using fallback reply")
		return FallbackReply, nil
	}
	return reply, nil
}

// chatMessages builds the persona, the role-tagged history, then the new user message.
func chatMessages(message string, history []models.HistoryEntry) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeSystem,
		Parts: []llms.ContentPart{llms.TextContent{Text: ChatPersona}},
	})
	for _, entry := range history {
		role := llms.ChatMessageTypeHuman
		if entry.Role == models.RoleModel {
			role = llms.ChatMessageTypeAI
		}
		parts := make([]llms.ContentPart, 0, len(entry.Parts))
		for _, p := range entry.Parts {
			parts = append(parts, llms.TextContent{Text: p})
		}
		if len(parts) == 0 {
			continue
		}
		messages = append(messages, llms.MessageContent{Role: role, Parts: parts})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: message}},
	})
	return messages
}
