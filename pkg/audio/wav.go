// Package audio decodes and encodes the 16 kHz mono PCM WAV files the
// capture devices upload.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// SampleRate is the only rate the pipeline accepts.
const SampleRate = 16000

const (
	headerSize    = 44
	pcmFormat     = 1
	bitsPerSample = 16
)

// PCM is decoded mono audio.
type PCM struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the clip length in seconds.
func (p *PCM) Duration() float64 {
	if p.SampleRate == 0 {
		return 0
	}
	return float64(len(p.Samples)) / float64(p.SampleRate)
}

// Decode parses a canonical 44-byte-header PCM WAV file. Multi-channel
// input is downmixed by taking the first channel.
func Decode(data []byte) (*PCM, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("wav: file too short (%d bytes)", len(data))
	}
	if !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, fmt.Errorf("wav: not a RIFF/WAVE file")
	}
	if !bytes.Equal(data[12:16], []byte("fmt ")) {
		return nil, fmt.Errorf("wav: missing fmt chunk")
	}

	format := binary.LittleEndian.Uint16(data[20:22])
	if format != pcmFormat {
		return nil, fmt.Errorf("wav: unsupported audio format %d", format)
	}
	channels := int(binary.LittleEndian.Uint16(data[22:24]))
	if channels < 1 {
		return nil, fmt.Errorf("wav: invalid channel count %d", channels)
	}
	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))
	bits := int(binary.LittleEndian.Uint16(data[34:36]))
	if bits != bitsPerSample {
		return nil, fmt.Errorf("wav: unsupported bit depth %d", bits)
	}
	if !bytes.Equal(data[36:40], []byte("data")) {
		return nil, fmt.Errorf("wav: missing data chunk")
	}
	dataLen := int(binary.LittleEndian.Uint32(data[40:44]))
	if dataLen > len(data)-headerSize {
		dataLen = len(data) - headerSize
	}

	frameBytes := channels * 2
	frames := dataLen / frameBytes
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		off := headerSize + i*frameBytes
		samples[i] = int16(binary.LittleEndian.Uint16(data[off : off+2]))
	}
	return &PCM{Samples: samples, SampleRate: sampleRate}, nil
}

// Encode renders mono PCM as a canonical WAV file.
func Encode(p *PCM) []byte {
	dataLen := len(p.Samples) * 2
	out := make([]byte, headerSize+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], pcmFormat)
	binary.LittleEndian.PutUint16(out[22:24], 1)
	binary.LittleEndian.PutUint32(out[24:28], uint32(p.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(p.SampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))

	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(out[headerSize+i*2:], uint16(s))
	}
	return out
}

// ExtractSpans cuts the given time spans out of the clip and concatenates
// them in order. Spans outside the clip are clamped.
func ExtractSpans(p *PCM, spans []models.Span) *PCM {
	var out []int16
	for _, span := range spans {
		start := int(span.Start * float64(p.SampleRate))
		end := int(span.End * float64(p.SampleRate))
		if start < 0 {
			start = 0
		}
		if end > len(p.Samples) {
			end = len(p.Samples)
		}
		if start >= end {
			continue
		}
		out = append(out, p.Samples[start:end]...)
	}
	return &PCM{Samples: out, SampleRate: p.SampleRate}
}

// Concat joins clips in order. All clips must share a sample rate.
func Concat(clips []*PCM) (*PCM, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("wav: nothing to concatenate")
	}
	rate := clips[0].SampleRate
	total := 0
	for _, c := range clips {
		if c.SampleRate != rate {
			return nil, fmt.Errorf("wav: sample rate mismatch %d vs %d", c.SampleRate, rate)
		}
		total += len(c.Samples)
	}
	out := make([]int16, 0, total)
	for _, c := range clips {
		out = append(out, c.Samples...)
	}
	return &PCM{Samples: out, SampleRate: rate}, nil
}
