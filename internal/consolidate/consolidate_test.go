package consolidate

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/interview-kb/internal/align"
	"github.com/snarg/interview-kb/internal/kb"
)

func triple(speaker, text string, start, end float64) kb.AlignedTriple {
	return kb.AlignedTriple{Speaker: speaker, Text: text, Span: kb.TimeSpan{Start: start, End: end}}
}

func TestConsolidate_Scenarios(t *testing.T) {
	frags := []kb.TranscriptFragment{
		{Text: "hi", Span: kb.TimeSpan{Start: 0, End: 1}},
		{Text: "there", Span: kb.TimeSpan{Start: 1.2, End: 2}},
	}
	diar := []kb.DiarizationSegment{{Speaker: "A", Span: kb.TimeSpan{Start: 0, End: 2}}}
	triples, err := align.Align(diar, frags)
	require.NoError(t, err)

	t.Run("default threshold merges", func(t *testing.T) {
		got := New(Options{GapThreshold: 1.5}).Consolidate(triples)
		assert.Equal(t, []kb.Utterance{{Speaker: "A", Start: 0, End: 2, Text: "hi there"}}, got)
	})

	t.Run("small threshold splits", func(t *testing.T) {
		got := New(Options{GapThreshold: 0.1}).Consolidate(triples)
		assert.Equal(t, []kb.Utterance{
			{Speaker: "A", Start: 0, End: 1, Text: "hi"},
			{Speaker: "A", Start: 1.2, End: 2, Text: "there"},
		}, got)
	})
}

func TestConsolidate_SpeakerChangeSplits(t *testing.T) {
	got := New(DefaultOptions()).Consolidate([]kb.AlignedTriple{
		triple("A", "so what", 0, 1),
		triple("A", "happened", 1, 2),
		triple("B", "well the pump failed", 2.1, 4),
		triple("A", "I see", 4.2, 5),
	})
	require.Len(t, got, 3)
	assert.Equal(t, "so what happened", got[0].Text)
	assert.Equal(t, "B", got[1].Speaker)
	assert.Equal(t, "I see", got[2].Text)
}

func TestConsolidate_DropsBlankFragments(t *testing.T) {
	got := New(DefaultOptions()).Consolidate([]kb.AlignedTriple{
		triple("A", "  ", 0, 1),
		triple("B", "", 1, 2),
		triple("A", " hello ", 2, 3),
		triple("A", "\t", 3, 4),
		triple("A", "world", 4, 5),
	})
	assert.Equal(t, []kb.Utterance{{Speaker: "A", Start: 2, End: 5, Text: "hello world"}}, got)
}

func TestConsolidate_EmptyInput(t *testing.T) {
	got := New(DefaultOptions()).Consolidate(nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestConsolidate_ShortInterjectionKeepsItsSpeaker(t *testing.T) {
	in := []kb.AlignedTriple{
		triple("A", "so", 0, 1),
		triple("B", "no", 1.0, 1.2),
		triple("A", "anyway", 1.3, 2),
	}
	for name, opts := range map[string]Options{
		"defaults": DefaultOptions(),
		"wide_gap": {GapThreshold: 10},
		"zero_gap": {GapThreshold: 0},
	} {
		t.Run(name, func(t *testing.T) {
			got := New(opts).Consolidate(in)
			assert.Equal(t, []kb.Utterance{
				{Speaker: "A", Start: 0, End: 1, Text: "so"},
				{Speaker: "B", Start: 1.0, End: 1.2, Text: "no"},
				{Speaker: "A", Start: 1.3, End: 2, Text: "anyway"},
			}, got)
		})
	}
}

func TestConsolidate_ShortTurnStartsNewUtterance(t *testing.T) {
	got := New(DefaultOptions()).Consolidate([]kb.AlignedTriple{
		triple("A", "are you sure", 0, 1),
		triple("B", "yes", 1.1, 1.2),
		triple("B", "completely", 1.2, 2),
		triple("C", "ok", 2.1, 2.2),
	})
	require.Len(t, got, 3)
	assert.Equal(t, "B", got[1].Speaker)
	assert.Equal(t, "yes completely", got[1].Text)
	assert.Equal(t, kb.Utterance{Speaker: "C", Start: 2.1, End: 2.2, Text: "ok"}, got[2])
}

func TestConsolidate_ClampsOverlapBetweenSpeakers(t *testing.T) {
	got := New(Options{GapThreshold: 1.5}).Consolidate([]kb.AlignedTriple{
		triple("A", "I was saying", 0, 2),
		triple("B", "sorry to cut in", 1.5, 3),
	})
	require.Len(t, got, 2)
	assert.Equal(t, 1.5, got[0].End)
	assert.Equal(t, 1.5, got[1].Start)
}

func TestConsolidate_SortsUnorderedInput(t *testing.T) {
	got := New(DefaultOptions()).Consolidate([]kb.AlignedTriple{
		triple("A", "second", 1, 2),
		triple("A", "first", 0, 1),
	})
	assert.Equal(t, []kb.Utterance{{Speaker: "A", Start: 0, End: 2, Text: "first second"}}, got)
}

func TestConsolidate_OrderingAndNoOverlapProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	speakers := []string{"A", "B", "C"}
	for run := 0; run < 200; run++ {
		var triples []kb.AlignedTriple
		at := 0.0
		n := rng.Intn(40)
		for i := 0; i < n; i++ {
			at += rng.Float64() * 2.5
			dur := rng.Float64()*1.5 + 0.01
			text := "w"
			if rng.Intn(10) == 0 {
				text = " "
			}
			// occasional overlap with the previous fragment
			start := at - rng.Float64()*0.3
			if start < 0 {
				start = 0
			}
			triples = append(triples, triple(speakers[rng.Intn(len(speakers))], text, start, start+dur))
		}
		got := New(Options{GapThreshold: rng.Float64() * 2}).Consolidate(triples)

		// Every word of an utterance came from a fragment of that speaker.
		words := map[string]int{}
		for _, tr := range triples {
			if strings.TrimSpace(tr.Text) != "" {
				words[tr.Speaker]++
			}
		}
		for _, u := range got {
			words[u.Speaker] -= len(strings.Fields(u.Text))
		}
		for sp, n := range words {
			require.Zero(t, n, "run %d: speaker %s word count drifted", run, sp)
		}

		for i := 1; i < len(got); i++ {
			prev, cur := got[i-1], got[i]
			require.LessOrEqual(t, prev.Start, cur.Start, "run %d: ordering", run)
			require.LessOrEqual(t, prev.End, cur.Start, "run %d: overlap between %v and %v", run, prev, cur)
		}
		for _, u := range got {
			require.NotEmpty(t, u.Text)
			require.LessOrEqual(t, u.Start, u.End)
		}
	}
}
