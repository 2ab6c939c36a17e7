// Package align attributes transcript fragments to diarized speakers.
package align

import (
	"sort"

	"github.com/snarg/interview-kb/internal/kb"
)

// Align assigns each transcript fragment the speaker whose diarization segment
// overlaps it the most. Ties go to the segment that starts first. Fragments
// that overlap no segment take the speaker of the nearest segment ending at or
// before the fragment start, or kb.UnknownSpeaker when there is none.
//
// The output has exactly one triple per fragment, in input order. Align fails
// only when one input is empty and the other is not, which means the two
// upstream services processed different audio.
func Align(segments []kb.DiarizationSegment, fragments []kb.TranscriptFragment) ([]kb.AlignedTriple, error) {
	if len(segments) == 0 && len(fragments) == 0 {
		return []kb.AlignedTriple{}, nil
	}
	if len(segments) == 0 {
		return nil, kb.Errorf(kb.KindAlignment, "align", "%d transcript fragments but no diarization segments", len(fragments))
	}
	if len(fragments) == 0 {
		return nil, kb.Errorf(kb.KindAlignment, "align", "%d diarization segments but no transcript fragments", len(segments))
	}

	segs := make([]kb.DiarizationSegment, len(segments))
	copy(segs, segments)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Span.Start < segs[j].Span.Start })

	triples := make([]kb.AlignedTriple, len(fragments))
	for i, f := range fragments {
		triples[i] = kb.AlignedTriple{
			Speaker: speakerFor(f.Span, segs),
			Span:    f.Span,
			Text:    f.Text,
		}
	}
	return triples, nil
}

// speakerFor picks the speaker for one fragment span. segs must be sorted by start.
func speakerFor(span kb.TimeSpan, segs []kb.DiarizationSegment) string {
	// Only segments starting before the fragment ends can intersect it.
	hi := sort.Search(len(segs), func(i int) bool { return segs[i].Span.Start >= span.End })
	if span.End <= span.Start {
		// Point fragment: containment instead of overlap.
		hi = sort.Search(len(segs), func(i int) bool { return segs[i].Span.Start > span.Start })
		for i := 0; i < hi; i++ {
			if span.Start >= segs[i].Span.Start && span.Start < segs[i].Span.End {
				return segs[i].Speaker
			}
		}
		return precedingSpeaker(span.Start, segs[:hi])
	}

	best := -1
	bestOverlap := 0.0
	for i := 0; i < hi; i++ {
		ov := span.Overlap(segs[i].Span)
		if ov > bestOverlap {
			best = i
			bestOverlap = ov
		}
	}
	if best >= 0 {
		return segs[best].Speaker
	}
	return precedingSpeaker(span.Start, segs[:hi])
}

// precedingSpeaker returns the speaker of the segment whose end is closest to,
// and not after, t. candidates must all start at or before t.
func precedingSpeaker(t float64, candidates []kb.DiarizationSegment) string {
	best := -1
	for i, s := range candidates {
		if s.Span.End > t {
			continue
		}
		if best < 0 || s.Span.End > candidates[best].Span.End {
			best = i
		}
	}
	if best < 0 {
		return kb.UnknownSpeaker
	}
	return candidates[best].Speaker
}
