package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/models"
)

// GenerateStory asks the story model for a title and exactly three pages about topic.
// The response is constrained by a JSON schema and validated before it is returned.
func (c *Client) GenerateStory(ctx context.Context, key credential.Key, topic string) (models.Story, error) {
	client, err := c.genaiClient(ctx, key)
	if err != nil {
		if errors.Is(err, credential.ErrCredentialMissing) {
			return models.Story{}, err
		}
		return models.Story{}, generationError(KindStory, fmt.Errorf("init genai client: %w", err))
	}
	defer client.Close()

	log.Debug().
		Str("model", c.modelStory).
		Str("topic", preview(topic, 80)).
		Msg("Generating story")

	model := client.GenerativeModel(c.modelStory)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = storyResponseSchema()

	resp, err := model.GenerateContent(ctx, genai.Text(buildStoryPrompt(topic)))
	if err != nil {
		return models.Story{}, generationError(KindStory, err)
	}

	raw := extractTextFromGenaiResponse(resp)
	logGeminiResponse("GenerateStory", raw)

	story, err := parseStory(raw)
	if err != nil {
		return models.Story{}, generationError(KindStory, err)
	}

	log.Info().
		Str("caller", "GenerateStory").
		Str("title", story.Title).
		Int("pages", len(story.Pages)).
		Msg("Story generated")

	return story, nil
}

// buildStoryPrompt returns the instruction sent to the story model.
func buildStoryPrompt(topic string) string {
	return fmt.Sprintf(`Write a short, engaging children's story about: %q.
The story should be suitable for young children (ages 4-8).
It should have exactly %d pages (short paragraphs).
For each page, provide the text of the story and a detailed visual description (image prompt) for an illustration that matches the text.

Return the result as a JSON object with this structure:
{
  "title": "The Title of the Story",
  "pages": [
    {
      "text": "Story text for page 1...",
      "imagePrompt": "A detailed description of the illustration..."
    }
  ]
}`, topic, models.StoryPageCount)
}

// storyResponseSchema returns the genai.Schema for the story JSON: {"title": "...", "pages": [{"text", "imagePrompt"}]}.
func storyResponseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": {Type: genai.TypeString},
			"pages": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"text":        {Type: genai.TypeString},
						"imagePrompt": {Type: genai.TypeString},
					},
					Required: []string{"text", "imagePrompt"},
				},
			},
		},
		Required: []string{"title", "pages"},
	}
}

// parseStory decodes and validates the model's story document.
func parseStory(raw string) (models.Story, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.Story{}, ErrNoText
	}

	var story models.Story
	if err := json.Unmarshal([]byte(raw), &story); err != nil {
		return models.Story{}, fmt.Errorf("%w: parse JSON: %v", ErrMalformedStory, err)
	}
	// Images are attached later; drop anything the model may have invented.
	for i := range story.Pages {
		story.Pages[i].ImageURL = ""
	}
	if err := story.Validate(); err != nil {
		return models.Story{}, fmt.Errorf("%w: %v", ErrMalformedStory, err)
	}
	return story, nil
}

// extractTextFromGenaiResponse returns the concatenated text from the first candidate's parts.
func extractTextFromGenaiResponse(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String()
}
