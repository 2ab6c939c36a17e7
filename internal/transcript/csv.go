package transcript

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSV column names of the reviewed-utterance record.
const (
	ColText      = "Text"
	ColSpeaker   = "Speaker"
	ColTimestamp = "Timestamp"
	ColStart     = "Start"
)

// Defaults applied to reviewed rows with empty fields.
const (
	DefaultSpeaker   = "Unknown"
	DefaultTimestamp = "00:00:00"
)

// CSVStats counts reviewed rows ReadCSV ignored.
type CSVStats struct {
	Rows      int `json:"rows"`
	EmptyText int `json:"empty_text"`
}

// WriteCSV writes reviewed-utterance records with a Text,Speaker,Timestamp,Start header.
func WriteCSV(w io.Writer, lines []Line) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColText, ColSpeaker, ColTimestamp, ColStart}); err != nil {
		return err
	}
	for _, l := range lines {
		rec := []string{l.Text, l.Speaker, l.Timestamp, strconv.FormatFloat(l.Start, 'f', -1, 64)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads reviewed-utterance records. Column positions come from the
// header row, which must contain Text; Speaker, Timestamp and Start are
// optional and other columns are ignored. Rows with blank text are skipped.
func ReadCSV(r io.Reader) ([]Line, CSVStats, error) {
	var stats CSVStats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []Line{}, stats, nil
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		cols[strings.ToLower(h)] = i
	}
	textIdx, ok := cols[strings.ToLower(ColText)]
	if !ok {
		return nil, stats, fmt.Errorf("csv header %v has no %s column", header, ColText)
	}

	field := func(rec []string, name string) string {
		i, ok := cols[strings.ToLower(name)]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	lines := []Line{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read csv row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		var text string
		if textIdx < len(rec) {
			text = strings.TrimSpace(rec[textIdx])
		}
		if text == "" {
			stats.EmptyText++
			continue
		}
		l := Line{
			Text:      text,
			Speaker:   field(rec, ColSpeaker),
			Timestamp: field(rec, ColTimestamp),
		}
		if l.Speaker == "" {
			l.Speaker = DefaultSpeaker
		}
		if l.Timestamp == "" {
			l.Timestamp = DefaultTimestamp
		}
		if v, err := strconv.ParseFloat(field(rec, ColStart), 64); err == nil {
			l.Start = v
		} else {
			l.Start = startFor(l.Timestamp, len(lines))
		}
		lines = append(lines, l)
	}
	return lines, stats, nil
}
