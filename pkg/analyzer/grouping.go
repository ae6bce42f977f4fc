package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// RawGroup is a gap-free run of transcript material: the unit an event is
// continued or created from.
type RawGroup struct {
	Start time.Time
	End   time.Time
	Text  string
}

// userDayGroup is one (user, UTC day) work set of claimed transcripts.
type userDayGroup struct {
	Username    string
	Day         string
	Transcripts []*models.TranscriptionResult
}

// groupByUserDay buckets transcripts by user and the UTC date of their start
// time, ordered by user then day so cycles are deterministic.
func groupByUserDay(ts []*models.TranscriptionResult) []userDayGroup {
	buckets := make(map[string]*userDayGroup)
	for _, t := range ts {
		day := t.StartTime.UTC().Format("2006-01-02")
		key := t.Username + "|" + day
		g, ok := buckets[key]
		if !ok {
			g = &userDayGroup{Username: t.Username, Day: day}
			buckets[key] = g
		}
		g.Transcripts = append(g.Transcripts, t)
	}

	groups := make([]userDayGroup, 0, len(buckets))
	for _, g := range buckets {
		sortTranscripts(g.Transcripts)
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Username != groups[j].Username {
			return groups[i].Username < groups[j].Username
		}
		return groups[i].Day < groups[j].Day
	})
	return groups
}

// rawGroupsFromTranscripts splits a sorted transcript run at silences longer
// than gap. Each transcript contributes its text under a [HH:MM] marker.
func rawGroupsFromTranscripts(ts []*models.TranscriptionResult, gap time.Duration) []RawGroup {
	var groups []RawGroup
	var current *RawGroup
	for _, t := range ts {
		if current == nil || t.StartTime.Sub(current.End) > gap {
			if current != nil {
				groups = append(groups, *current)
			}
			current = &RawGroup{Start: t.StartTime, End: t.EndTime}
		}
		if current.Text != "" {
			current.Text += "\n"
		}
		current.Text += fmt.Sprintf("[%s] %s", t.StartTime.UTC().Format("15:04"), t.Text)
		if t.EndTime.After(current.End) {
			current.End = t.EndTime
		}
	}
	if current != nil {
		groups = append(groups, *current)
	}
	return groups
}

// timedLine is one payload line with its resolved timestamp.
type timedLine struct {
	At   time.Time
	Text string
}

var (
	isoMarkerRe   = regexp.MustCompile(`^\[?(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:\d{2})?)\]?\s*(.*)$`)
	clockMarkerRe = regexp.MustCompile(`^\[(\d{2}):(\d{2})(?::(\d{2}))?(?:-\d{2}:\d{2}(?::\d{2})?)?\]\s*(.*)$`)
)

// ParsePayload resolves the time markers of a pushed transcript payload.
// Lines may carry ISO-8601 markers or bare [HH:MM] / [HH:MM:SS] clock
// markers; clock markers are anchored to now's UTC date. Lines without a
// marker inherit the previous line's time.
func ParsePayload(payload string, now time.Time) ([]timedLine, error) {
	var lines []timedLine
	last := now.UTC()

	for _, raw := range strings.Split(payload, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		if m := isoMarkerRe.FindStringSubmatch(raw); m != nil {
			at, err := parseISOMarker(m[1])
			if err != nil {
				return nil, fmt.Errorf("bad time marker %q: %w", m[1], err)
			}
			last = at
			lines = append(lines, timedLine{At: at, Text: m[2]})
			continue
		}
		if m := clockMarkerRe.FindStringSubmatch(raw); m != nil {
			at, err := anchorClock(now.UTC(), m[1], m[2], m[3])
			if err != nil {
				return nil, fmt.Errorf("bad time marker in %q: %w", raw, err)
			}
			last = at
			lines = append(lines, timedLine{At: at, Text: m[4]})
			continue
		}
		// Unmarked lines inherit the previous line's time.
		lines = append(lines, timedLine{At: last, Text: raw})
	}
	return lines, nil
}

func parseISOMarker(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp")
}

func anchorClock(day time.Time, hh, mm, ss string) (time.Time, error) {
	var h, m, s int
	if _, err := fmt.Sscanf(hh+" "+mm, "%d %d", &h, &m); err != nil {
		return time.Time{}, err
	}
	if ss != "" {
		if _, err := fmt.Sscanf(ss, "%d", &s); err != nil {
			return time.Time{}, err
		}
	}
	if h > 23 || m > 59 || s > 59 {
		return time.Time{}, fmt.Errorf("clock out of range")
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, time.UTC), nil
}

// rawGroupsFromLines splits resolved payload lines at gaps longer than gap.
func rawGroupsFromLines(lines []timedLine, gap time.Duration) []RawGroup {
	var groups []RawGroup
	var current *RawGroup
	for _, line := range lines {
		if current == nil || line.At.Sub(current.End) > gap {
			if current != nil {
				groups = append(groups, *current)
			}
			current = &RawGroup{Start: line.At, End: line.At}
		}
		if current.Text != "" {
			current.Text += "\n"
		}
		current.Text += fmt.Sprintf("[%s] %s", line.At.UTC().Format("15:04"), line.Text)
		if line.At.After(current.End) {
			current.End = line.At
		}
	}
	if current != nil {
		groups = append(groups, *current)
	}
	return groups
}

// AnalyzePayload runs the event fold over a pushed transcript payload,
// bypassing the transcription store. Used by the immediate-analysis API.
func (w *Worker) AnalyzePayload(ctx context.Context, username, payload string) (Counts, error) {
	lines, err := ParsePayload(payload, time.Now())
	if err != nil {
		return Counts{}, err
	}
	if len(lines) == 0 {
		return Counts{}, nil
	}
	return w.ProcessGroups(ctx, username, rawGroupsFromLines(lines, w.cfg.EventGap))
}
