// Package consolidate collapses speaker-attributed fragments into utterances.
package consolidate

import (
	"sort"
	"strings"

	"github.com/snarg/interview-kb/internal/kb"
)

// DefaultGapThreshold is the silence, in seconds, after which two fragments
// from the same speaker are treated as separate thoughts.
const DefaultGapThreshold = 1.5

// Options configures a Consolidator.
type Options struct {
	GapThreshold float64
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{GapThreshold: DefaultGapThreshold}
}

// Consolidator is a pure, stateless-between-calls reducer from aligned
// triples to utterances. It is safe for concurrent use.
type Consolidator struct {
	opts Options
}

// New creates a Consolidator. A negative gap threshold is treated as 0.
func New(opts Options) *Consolidator {
	if opts.GapThreshold < 0 {
		opts.GapThreshold = 0
	}
	return &Consolidator{opts: opts}
}

// GapThreshold returns the configured silence threshold in seconds.
func (c *Consolidator) GapThreshold() float64 { return c.opts.GapThreshold }

// Consolidate merges consecutive triples into utterances. A new utterance
// starts when the speaker changes, however short the other speaker's turn, or
// when the silence between the previous triple's end and the current triple's
// start exceeds the gap threshold.
// Triples with blank text are dropped. Output is ordered by start and no two
// utterances overlap in time.
func (c *Consolidator) Consolidate(triples []kb.AlignedTriple) []kb.Utterance {
	if !sort.SliceIsSorted(triples, func(i, j int) bool { return triples[i].Span.Start < triples[j].Span.Start }) {
		sorted := make([]kb.AlignedTriple, len(triples))
		copy(sorted, triples)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Span.Start < sorted[j].Span.Start })
		triples = sorted
	}

	r := reducer{opts: c.opts}
	for _, t := range triples {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		t.Text = text
		r.push(t)
	}
	r.finish()
	if r.out == nil {
		return []kb.Utterance{}
	}
	return r.out
}

// reducer holds the running utterance for a single Consolidate call.
type reducer struct {
	opts Options
	out  []kb.Utterance

	has     bool
	cur     kb.Utterance
	text    strings.Builder
	prevEnd float64
}

func (r *reducer) push(t kb.AlignedTriple) {
	switch {
	case !r.has:
		r.begin(t)
	case t.Speaker != r.cur.Speaker, t.Span.Start-r.prevEnd > r.opts.GapThreshold:
		r.flush(t.Span.Start)
		r.begin(t)
	default:
		r.appendTriple(t)
	}
}

func (r *reducer) begin(t kb.AlignedTriple) {
	r.has = true
	r.cur = kb.Utterance{Speaker: t.Speaker, Start: t.Span.Start, End: t.Span.End}
	r.text.Reset()
	r.text.WriteString(t.Text)
	r.prevEnd = t.Span.End
}

func (r *reducer) appendTriple(t kb.AlignedTriple) {
	r.text.WriteByte(' ')
	r.text.WriteString(t.Text)
	if t.Span.End > r.cur.End {
		r.cur.End = t.Span.End
	}
	r.prevEnd = t.Span.End
}

// flush emits the running utterance. nextStart clamps its end so that it never
// overlaps the utterance that follows.
func (r *reducer) flush(nextStart float64) {
	if !r.has {
		return
	}
	r.has = false
	text := strings.TrimSpace(r.text.String())
	if text == "" {
		return
	}
	u := r.cur
	u.Text = text
	if nextStart < u.End {
		u.End = nextStart
		if u.End < u.Start {
			u.End = u.Start
		}
	}
	r.out = append(r.out, u)
}

func (r *reducer) finish() {
	if r.has {
		r.flush(r.cur.End)
	}
}
