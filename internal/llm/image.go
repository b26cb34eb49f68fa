package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/credential"
	"github.com/snappy-loop/storytime/internal/models"
	unifiedgenai "google.golang.org/genai"
)

// illustrationStyle is prepended to every page's image prompt.
const illustrationStyle = "A colorful, charming children's book illustration, vibrant colors, friendly style. Scene: "

// illustrationAspectRatio is fixed for every page.
const illustrationAspectRatio = "1:1"

// GenerateIllustration generates one page illustration and returns it as a base64 data URI.
func (c *Client) GenerateIllustration(ctx context.Context, key credential.Key, prompt string, size models.ImageSize) (string, error) {
	client, err := c.unifiedClient(ctx, key)
	if err != nil {
		if errors.Is(err, credential.ErrCredentialMissing) {
			return "", err
		}
		return "", generationError(KindImage, fmt.Errorf("init genai client: %w", err))
	}
	if size == "" {
		size = models.DefaultImageSize
	}

	log.Debug().
		Str("model", c.modelImage).
		Str("image_size", string(size)).
		Str("prompt", preview(prompt, 50)).
		Msg("Generating illustration")

	config := &unifiedgenai.GenerateContentConfig{
		ImageConfig: &unifiedgenai.ImageConfig{
			AspectRatio: illustrationAspectRatio,
			ImageSize:   string(size),
		},
	}
	resp, err := client.Models.GenerateContent(ctx, c.modelImage, unifiedgenai.Text(illustrationStyle+prompt), config)
	if err != nil {
		return "", generationError(KindImage, err)
	}

	uri, err := imageDataURI(resp)
	if err != nil {
		log.Warn().
			Str("model", c.modelImage).
			Int("candidates", len(resp.Candidates)).
			Msg("No image part in Gemini response")
		return "", generationError(KindImage, err)
	}
	return uri, nil
}

// imageDataURI scans the response parts for inline image data and encodes the first hit as a data URI.
func imageDataURI(resp *unifiedgenai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrNoImage
	}
	for i, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for j, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mimeType := part.InlineData.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			log.Info().
				Str("caller", "GenerateIllustration").
				Int("image_size_bytes", len(part.InlineData.Data)).
				Str("mime_type", mimeType).
				Int("candidate", i).
				Int("part", j).
				Msg("Gemini response (image blob)")
			return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(part.InlineData.Data), nil
		}
	}
	return "", ErrNoImage
}
