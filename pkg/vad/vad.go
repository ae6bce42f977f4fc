// Package vad finds speech spans in a PCM clip with a frame-energy
// detector: frames whose normalized RMS clears a threshold are speech,
// short gaps are bridged, short blips are dropped, and surviving spans
// get a little padding.
package vad

import (
	"math"

	"github.com/lifetrace-ai/lifetrace/pkg/audio"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// Config tunes the detector. Zero values fall back to the defaults.
type Config struct {
	// Threshold is the normalized RMS level a frame must reach to count
	// as speech. Default 0.08.
	Threshold float64
	// MinSpeech drops speech runs shorter than this, in seconds.
	// Default 0.25.
	MinSpeech float64
	// MinSilence merges speech runs separated by gaps shorter than this,
	// in seconds. Default 0.10.
	MinSilence float64
	// Pad extends each span on both sides, in seconds. Default 0.10.
	Pad float64
	// FrameLen is the analysis window, in seconds. Default 0.02.
	FrameLen float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		Threshold:  0.08,
		MinSpeech:  0.25,
		MinSilence: 0.10,
		Pad:        0.10,
		FrameLen:   0.02,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold == 0 {
		c.Threshold = d.Threshold
	}
	if c.MinSpeech == 0 {
		c.MinSpeech = d.MinSpeech
	}
	if c.MinSilence == 0 {
		c.MinSilence = d.MinSilence
	}
	if c.Pad == 0 {
		c.Pad = d.Pad
	}
	if c.FrameLen == 0 {
		c.FrameLen = d.FrameLen
	}
	return c
}

// Result summarizes one clip's detection.
type Result struct {
	Segments       []models.Span
	SpeechDuration float64
	TotalDuration  float64
	SpeechRatio    float64
}

// Detect runs the detector over a clip.
func Detect(p *audio.PCM, cfg Config) Result {
	cfg = cfg.withDefaults()
	total := p.Duration()
	res := Result{TotalDuration: total}
	if total == 0 {
		return res
	}

	frameSamples := int(cfg.FrameLen * float64(p.SampleRate))
	if frameSamples < 1 {
		frameSamples = 1
	}

	// Frame-level speech flags.
	numFrames := (len(p.Samples) + frameSamples - 1) / frameSamples
	active := make([]bool, numFrames)
	for i := 0; i < numFrames; i++ {
		start := i * frameSamples
		end := start + frameSamples
		if end > len(p.Samples) {
			end = len(p.Samples)
		}
		active[i] = rms(p.Samples[start:end]) >= cfg.Threshold
	}

	spans := collectRuns(active, cfg.FrameLen)
	spans = bridgeGaps(spans, cfg.MinSilence)
	spans = dropShort(spans, cfg.MinSpeech)
	spans = pad(spans, cfg.Pad, total)

	for _, s := range spans {
		res.SpeechDuration += s.Duration()
	}
	res.Segments = spans
	if total > 0 {
		res.SpeechRatio = res.SpeechDuration / total
	}
	return res
}

// rms computes root-mean-square energy normalized to [0, 1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func collectRuns(active []bool, frameLen float64) []models.Span {
	var spans []models.Span
	start := -1
	for i, on := range active {
		switch {
		case on && start < 0:
			start = i
		case !on && start >= 0:
			spans = append(spans, models.Span{
				Start: float64(start) * frameLen,
				End:   float64(i) * frameLen,
			})
			start = -1
		}
	}
	if start >= 0 {
		spans = append(spans, models.Span{
			Start: float64(start) * frameLen,
			End:   float64(len(active)) * frameLen,
		})
	}
	return spans
}

func bridgeGaps(spans []models.Span, minSilence float64) []models.Span {
	if len(spans) < 2 {
		return spans
	}
	out := []models.Span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.Start-last.End < minSilence {
			last.End = s.End
		} else {
			out = append(out, s)
		}
	}
	return out
}

func dropShort(spans []models.Span, minSpeech float64) []models.Span {
	out := spans[:0]
	for _, s := range spans {
		if s.Duration() >= minSpeech {
			out = append(out, s)
		}
	}
	return out
}

func pad(spans []models.Span, amount, total float64) []models.Span {
	if len(spans) == 0 {
		return nil
	}
	for i := range spans {
		spans[i].Start = math.Max(0, spans[i].Start-amount)
		spans[i].End = math.Min(total, spans[i].End+amount)
	}
	// Padding can make neighbors touch.
	out := []models.Span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.Start <= last.End {
			last.End = math.Max(last.End, s.End)
		} else {
			out = append(out, s)
		}
	}
	return out
}
