package align

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/interview-kb/internal/kb"
)

func seg(speaker string, start, end float64) kb.DiarizationSegment {
	return kb.DiarizationSegment{Speaker: speaker, Span: kb.TimeSpan{Start: start, End: end}}
}

func frag(text string, start, end float64) kb.TranscriptFragment {
	return kb.TranscriptFragment{Text: text, Span: kb.TimeSpan{Start: start, End: end}}
}

func speakers(triples []kb.AlignedTriple) []string {
	out := make([]string, len(triples))
	for i, tr := range triples {
		out[i] = tr.Speaker
	}
	return out
}

func TestAlign_MaxOverlapWins(t *testing.T) {
	segs := []kb.DiarizationSegment{seg("A", 0, 2), seg("B", 2, 5)}
	frags := []kb.TranscriptFragment{
		frag("mostly a", 1.0, 2.4), // 1.0 with A, 0.4 with B
		frag("mostly b", 1.8, 3.0), // 0.2 with A, 1.0 with B
	}

	got, err := Align(segs, frags)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, speakers(got))
	assert.Equal(t, "mostly a", got[0].Text)
	assert.Equal(t, frags[1].Span, got[1].Span)
}

func TestAlign_TiePrefersEarlierStart(t *testing.T) {
	segs := []kb.DiarizationSegment{seg("B", 2, 4), seg("A", 0, 2)}
	got, err := Align(segs, []kb.TranscriptFragment{frag("split", 1, 3)})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, speakers(got))
}

func TestAlign_SingleSegmentCoversRecording(t *testing.T) {
	segs := []kb.DiarizationSegment{seg("A", 0, 100)}
	frags := []kb.TranscriptFragment{
		frag("one", 0, 1), frag("two", 10, 12), frag("three", 50, 51), frag("four", 99, 100),
	}
	got, err := Align(segs, frags)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A", "A", "A"}, speakers(got))
}

func TestAlign_GapFallsBackToPrecedingSpeaker(t *testing.T) {
	segs := []kb.DiarizationSegment{seg("A", 0, 2), seg("B", 3, 4), seg("C", 10, 12)}
	frags := []kb.TranscriptFragment{
		frag("in gap after B", 5, 6),
		frag("in gap after A", 2.2, 2.8),
	}
	got, err := Align(segs, frags)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, speakers(got))
}

func TestAlign_BeforeFirstSegmentIsUnknown(t *testing.T) {
	segs := []kb.DiarizationSegment{seg("A", 5, 8)}
	got, err := Align(segs, []kb.TranscriptFragment{frag("early", 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{kb.UnknownSpeaker}, speakers(got))
}

func TestAlign_PointFragment(t *testing.T) {
	segs := []kb.DiarizationSegment{seg("A", 0, 2), seg("B", 2, 4)}
	got, err := Align(segs, []kb.TranscriptFragment{frag("x", 2, 2), frag("y", 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, speakers(got))
}

func TestAlign_OnePerFragmentInOrder(t *testing.T) {
	segs := []kb.DiarizationSegment{seg("A", 0, 1), seg("B", 1, 2)}
	frags := []kb.TranscriptFragment{frag("a", 0, 0.5), frag("b", 1.2, 1.5), frag("c", 0.5, 0.9)}
	got, err := Align(segs, frags)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Text, got[1].Text, got[2].Text})
}

func TestAlign_MismatchedInputs(t *testing.T) {
	_, err := Align(nil, []kb.TranscriptFragment{frag("hi", 0, 1)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kb.ErrAlignment))

	_, err = Align([]kb.DiarizationSegment{seg("A", 0, 1)}, nil)
	assert.True(t, errors.Is(err, kb.ErrAlignment))

	got, err := Align(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAlign_DoesNotMutateInput(t *testing.T) {
	segs := []kb.DiarizationSegment{seg("B", 2, 4), seg("A", 0, 2)}
	_, err := Align(segs, []kb.TranscriptFragment{frag("x", 0, 1)})
	require.NoError(t, err)
	assert.Equal(t, "B", segs[0].Speaker)
}
