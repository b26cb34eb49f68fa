package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned when the buffer is not a RIFF/WAVE PCM stream.
var ErrNotWAV = errors.New("not a PCM WAV stream")

// Format describes decoded PCM audio.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Audio is a decoded WAV clip.
type Audio struct {
	Format Format
	PCM    []byte
}

// Duration returns the clip length in seconds.
func (a Audio) Duration() float64 {
	frame := a.Format.Channels * a.Format.BitsPerSample / 8
	if frame == 0 || a.Format.SampleRate == 0 {
		return 0
	}
	return float64(len(a.PCM)/frame) / float64(a.Format.SampleRate)
}

// DecodeWAV parses a RIFF/WAVE buffer with an uncompressed PCM fmt chunk.
// Chunks other than fmt and data are skipped.
func DecodeWAV(data []byte) (Audio, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Audio{}, ErrNotWAV
	}

	var (
		audio   Audio
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if size < 0 || end > len(data) {
			// Streams written before the final length is known carry 0xFFFFFFFF; take what is there.
			if id == "data" {
				end = len(data)
			} else {
				return Audio{}, fmt.Errorf("%w: chunk %q overruns buffer", ErrNotWAV, id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Audio{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if tag := binary.LittleEndian.Uint16(data[body : body+2]); tag != 1 {
				return Audio{}, fmt.Errorf("%w: unsupported format tag %d", ErrNotWAV, tag)
			}
			audio.Format = Format{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Audio{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			audio.PCM = data[body:end]
			return audio, nil
		}

		off = end
		if size%2 == 1 {
			off++
		}
	}
	return Audio{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}
