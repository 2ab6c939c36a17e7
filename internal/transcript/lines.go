// Package transcript reads and writes the human-review interchange formats:
// the "Speaker | Timestamp | Text" review file and the reviewed CSV with
// Text, Speaker and Timestamp columns.
package transcript

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/snarg/interview-kb/internal/kb"
)

// Separator joins the fields of a review line.
const Separator = " | "

// Line is one utterance as it appears in an interchange file. Start is the
// numeric position used for ordering; it is not written to review lines.
type Line struct {
	Speaker   string
	Timestamp string
	Text      string
	Start     float64
}

// FromUtterances converts consolidator output to interchange lines.
func FromUtterances(utts []kb.Utterance) []Line {
	lines := make([]Line, len(utts))
	for i, u := range utts {
		lines[i] = Line{Speaker: u.Speaker, Timestamp: u.Timestamp(), Text: u.Text, Start: u.Start}
	}
	return lines
}

// WriteLines writes one "Speaker | Timestamp | Text" line per utterance.
// Newlines inside text are folded to spaces so each utterance stays on one line.
func WriteLines(w io.Writer, lines []Line) error {
	bw := bufio.NewWriter(w)
	for _, l := range lines {
		if _, err := fmt.Fprintf(bw, "%s%s%s%s%s\n",
			oneLine(l.Speaker), Separator, oneLine(l.Timestamp), Separator, oneLine(l.Text)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ParseStats counts lines ParseLines ignored.
type ParseStats struct {
	Blank     int `json:"blank"`
	Malformed int `json:"malformed"`
}

// ParseLines reads a review file. Blank lines and lines with fewer than three
// fields are skipped. Text may itself contain the separator; everything after
// the second separator is text. Start is parsed from the timestamp when
// possible and otherwise falls back to the line's position in the file.
func ParseLines(r io.Reader) ([]Line, ParseStats, error) {
	var (
		lines []Line
		stats ParseStats
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	first := true
	for sc.Scan() {
		raw := sc.Text()
		if first {
			raw = strings.TrimPrefix(raw, "\ufeff")
			first = false
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			stats.Blank++
			continue
		}
		parts := strings.SplitN(raw, Separator, 3)
		if len(parts) < 3 {
			stats.Malformed++
			continue
		}
		l := Line{
			Speaker:   strings.TrimSpace(parts[0]),
			Timestamp: strings.TrimSpace(parts[1]),
			Text:      parts[2],
		}
		l.Start = startFor(l.Timestamp, len(lines))
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("read review lines: %w", err)
	}
	return lines, stats, nil
}

// Review marks a set of lines as human-reviewed for one recording. This is
// the only way to produce a kb.ReviewedBatch.
func Review(sourceID string, lines []Line) kb.ReviewedBatch {
	utts := make([]kb.ReviewedUtterance, len(lines))
	for i, l := range lines {
		utts[i] = kb.ReviewedUtterance{
			Speaker:   l.Speaker,
			Timestamp: l.Timestamp,
			Start:     l.Start,
			Text:      l.Text,
		}
	}
	return kb.ReviewedBatch{SourceID: sourceID, Utterances: utts}
}

func startFor(timestamp string, index int) float64 {
	if s, ok := kb.ParseTimestamp(timestamp); ok {
		return s
	}
	return float64(index)
}

func oneLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}
