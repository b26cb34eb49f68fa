package llm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/storytime/internal/credential"
	unifiedgenai "google.golang.org/genai"
)

var pcmMimePattern = regexp.MustCompile(`audio/L(\d+)`)

// GenerateSpeech narrates text with the configured prebuilt voice and returns the audio bytes.
// Raw PCM output is wrapped in a WAV container so it can be decoded for playback.
func (c *Client) GenerateSpeech(ctx context.Context, key credential.Key, text string) ([]byte, error) {
	client, err := c.unifiedClient(ctx, key)
	if err != nil {
		if errors.Is(err, credential.ErrCredentialMissing) {
			return nil, err
		}
		return nil, generationError(KindSpeech, fmt.Errorf("init genai client: %w", err))
	}

	contents := []*unifiedgenai.Content{
		{
			Role: "user",
			Parts: []*unifiedgenai.Part{
				unifiedgenai.NewPartFromText(text),
			},
		},
	}
	config := &unifiedgenai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &unifiedgenai.SpeechConfig{
			VoiceConfig: &unifiedgenai.VoiceConfig{
				PrebuiltVoiceConfig: &unifiedgenai.PrebuiltVoiceConfig{
					VoiceName: c.ttsVoice,
				},
			},
		},
	}

	log.Debug().
		Str("model", c.modelTTS).
		Str("voice", c.ttsVoice).
		Int("text_length", len(text)).
		Msg("Generating speech")

	resp, err := client.Models.GenerateContent(ctx, c.modelTTS, contents, config)
	if err != nil {
		return nil, generationError(KindSpeech, err)
	}

	audio, mimeType, err := audioFromResponse(resp)
	if err != nil {
		return nil, generationError(KindSpeech, err)
	}

	if strings.HasPrefix(mimeType, "audio/L") {
		log.Debug().Str("mime_type", mimeType).Msg("Converting raw PCM to WAV")
		audio = convertToWAV(audio, mimeType)
	}

	log.Info().
		Str("caller", "GenerateSpeech").
		Int("audio_size_bytes", len(audio)).
		Str("voice", c.ttsVoice).
		Str("mime_type", mimeType).
		Msg("TTS audio generated")

	return audio, nil
}

// audioFromResponse concatenates the inline audio data of the first candidate.
func audioFromResponse(resp *unifiedgenai.GenerateContentResponse) ([]byte, string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil, "", ErrNoAudio
	}
	var buf bytes.Buffer
	var mimeType string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		buf.Write(part.InlineData.Data)
		if part.InlineData.MIMEType != "" {
			mimeType = part.InlineData.MIMEType
		}
	}
	if buf.Len() == 0 {
		return nil, "", ErrNoAudio
	}
	return buf.Bytes(), mimeType, nil
}

// convertToWAV converts raw PCM audio data to WAV format.
func convertToWAV(audioData []byte, mimeType string) []byte {
	params := parseAudioMimeType(mimeType)
	bitsPerSample := params.bitsPerSample
	sampleRate := params.rate
	numChannels := 1
	dataSize := len(audioData)
	bytesPerSample := bitsPerSample / 8
	blockAlign := numChannels * bytesPerSample
	byteRate := sampleRate * blockAlign
	chunkSize := 36 + dataSize

	header := new(bytes.Buffer)
	header.Grow(44 + dataSize)
	header.WriteString("RIFF")
	binary.Write(header, binary.LittleEndian, uint32(chunkSize))
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	binary.Write(header, binary.LittleEndian, uint32(16))
	binary.Write(header, binary.LittleEndian, uint16(1))
	binary.Write(header, binary.LittleEndian, uint16(numChannels))
	binary.Write(header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(header, binary.LittleEndian, uint32(byteRate))
	binary.Write(header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(header, binary.LittleEndian, uint16(bitsPerSample))
	header.WriteString("data")
	binary.Write(header, binary.LittleEndian, uint32(dataSize))
	header.Write(audioData)

	return header.Bytes()
}

type audioParams struct {
	bitsPerSample int
	rate          int
}

// parseAudioMimeType parses bits per sample and rate from an audio MIME type
// such as "audio/L16;codec=pcm;rate=24000".
func parseAudioMimeType(mimeType string) audioParams {
	params := audioParams{bitsPerSample: 16, rate: 24000}

	for _, part := range strings.Split(mimeType, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(part), "rate=") {
			if rate, err := strconv.Atoi(strings.SplitN(part, "=", 2)[1]); err == nil && rate > 0 {
				params.rate = rate
			}
		} else if matches := pcmMimePattern.FindStringSubmatch(part); len(matches) > 1 {
			if bits, err := strconv.Atoi(matches[1]); err == nil && bits > 0 {
				params.bitsPerSample = bits
			}
		}
	}
	return params
}
