package transcribe

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// sentenceGap is the pause, in seconds, that ends a sentence when the
// previous word already carried terminal punctuation.
const sentenceGap = 1.0

// defaultSpeaker labels words no diarization turn accounts for.
const defaultSpeaker = "0"

// Sentence is one speaker-attributed line of the merged transcript.
type Sentence struct {
	Speaker string
	Start   float64
	End     float64
	Text    string
}

// MergeWords attributes recognized words to diarization turns and assembles
// them into sentences. Attribution picks the turn with the largest temporal
// overlap, falling back to the turn whose midpoint is closest; with no turns
// at all every word belongs to speaker "0". Vendor speaker labels are
// renumbered "0", "1", ... in order of first appearance.
func MergeWords(words []Word, turns []Turn) []Sentence {
	if len(words) == 0 {
		return nil
	}

	labels := renumberSpeakers(turns)
	var sentences []Sentence
	var current *Sentence
	var prev *Word

	for i := range words {
		word := &words[i]
		speaker := assignSpeaker(word, turns, labels)

		boundary := current == nil || speaker != current.Speaker ||
			(word.Start-prev.End > sentenceGap && endsSentence(prev.PunctuatedWord))
		if boundary {
			if current != nil {
				sentences = append(sentences, *current)
			}
			current = &Sentence{Speaker: speaker, Start: word.Start}
		}

		text := word.PunctuatedWord
		if text == "" {
			text = word.Word
		}
		if current.Text != "" {
			current.Text += " "
		}
		current.Text += text
		current.End = word.End
		prev = word
	}
	if current != nil {
		sentences = append(sentences, *current)
	}
	return sentences
}

// assignSpeaker picks the diarization turn a word belongs to.
func assignSpeaker(word *Word, turns []Turn, labels map[string]string) string {
	if len(turns) == 0 {
		return defaultSpeaker
	}

	bestOverlap := 0.0
	bestIdx := -1
	for i, turn := range turns {
		overlap := min(word.End, turn.End) - max(word.Start, turn.Start)
		if overlap > bestOverlap {
			bestOverlap = overlap
			bestIdx = i
		}
	}
	if bestIdx >= 0 {
		return labels[turns[bestIdx].Speaker]
	}

	// No overlap anywhere: closest turn midpoint wins.
	wordMid := (word.Start + word.End) / 2
	bestDist := -1.0
	for i, turn := range turns {
		dist := math.Abs(wordMid - (turn.Start+turn.End)/2)
		if bestDist < 0 || dist < bestDist {
			bestDist = dist
			bestIdx = i
		}
	}
	return labels[turns[bestIdx].Speaker]
}

// renumberSpeakers maps vendor labels to "0", "1", ... by first appearance.
func renumberSpeakers(turns []Turn) map[string]string {
	labels := make(map[string]string)
	for _, turn := range turns {
		if _, ok := labels[turn.Speaker]; !ok {
			labels[turn.Speaker] = fmt.Sprintf("%d", len(labels))
		}
	}
	return labels
}

// endsSentence reports whether a word carries terminal punctuation.
func endsSentence(word string) bool {
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// FormatTranscript renders sentences as timestamped speaker lines. baseTime
// anchors the batch's zero second; offsets render in baseTime's location, so
// pass a local time to get wall-clock markers.
func FormatTranscript(sentences []Sentence, baseTime time.Time) string {
	var b strings.Builder
	for i, s := range sentences {
		if i > 0 {
			b.WriteByte('\n')
		}
		start := baseTime.Add(time.Duration(s.Start * float64(time.Second)))
		end := baseTime.Add(time.Duration(s.End * float64(time.Second)))
		fmt.Fprintf(&b, "[%s-%s] %s: %s",
			start.Format("15:04:05"), end.Format("15:04:05"), s.Speaker, cleanText(s.Text))
	}
	return b.String()
}

var (
	spaceBeforePunct  = regexp.MustCompile(`\s+([.,!?;:])`)
	missingSpaceAfter = regexp.MustCompile(`([.!?])([A-Z])`)
)

// cleanText collapses runs of whitespace left by the recognizer, pulls stray
// spaces off punctuation, and restores the space after a sentence end that
// runs straight into the next capitalized word.
func cleanText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	return missingSpaceAfter.ReplaceAllString(s, "$1 $2")
}

