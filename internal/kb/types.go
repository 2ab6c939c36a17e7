// Package kb holds the data model shared by the transcript consolidation and
// retrieval stages: time spans, speaker segments, utterances, chunks and answers.
package kb

import (
	"fmt"
	"math"
)

// UnknownSpeaker labels text that no diarization segment can be attributed to.
const UnknownSpeaker = "unknown"

// TimeSpan is a half-open interval of recording time in seconds.
type TimeSpan struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Valid reports whether the span has positive length.
func (s TimeSpan) Valid() bool { return s.Start < s.End }

// Duration returns End-Start.
func (s TimeSpan) Duration() float64 { return s.End - s.Start }

// Overlap returns the length of the intersection of two spans, or 0.
func (s TimeSpan) Overlap(o TimeSpan) float64 {
	lo := math.Max(s.Start, o.Start)
	hi := math.Min(s.End, o.End)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// DiarizationSegment is one speaker turn reported by the diarization service.
// Labels are local to a single recording.
type DiarizationSegment struct {
	Speaker string   `json:"speaker"`
	Span    TimeSpan `json:"span"`
}

// TranscriptFragment is one piece of recognized text with its timing.
type TranscriptFragment struct {
	Text string   `json:"text"`
	Span TimeSpan `json:"span"`
}

// AlignedTriple is a transcript fragment attributed to a speaker.
type AlignedTriple struct {
	Speaker string   `json:"speaker"`
	Span    TimeSpan `json:"span"`
	Text    string   `json:"text"`
}

// Utterance is a consolidated, speaker-attributed run of speech awaiting review.
type Utterance struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// Timestamp returns the display timestamp for the utterance start.
func (u Utterance) Timestamp() string { return FormatTimestamp(u.Start) }

// ReviewedUtterance is an utterance after human review. Speaker and Text are
// ground truth; Timestamp is an opaque display string and Start is kept only
// for ordering and identity.
type ReviewedUtterance struct {
	Speaker   string  `json:"speaker"`
	Timestamp string  `json:"timestamp"`
	Start     float64 `json:"start"`
	Text      string  `json:"text"`
}

// ReviewedBatch is the set of reviewed utterances for one recording. Only a
// ReviewedBatch can be indexed.
type ReviewedBatch struct {
	SourceID   string              `json:"source_id"`
	Utterances []ReviewedUtterance `json:"utterances"`
}

// KnowledgeChunk is a retrieval unit stored in the vector index.
type KnowledgeChunk struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Speaker   string    `json:"speaker"`
	Timestamp string    `json:"timestamp"`
	SourceID  string    `json:"source_id"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Embedding []float32 `json:"-"`
}

// SpeakerKey identifies a speaker within its recording. Speaker labels are
// never compared across recordings without the source id.
func (c KnowledgeChunk) SpeakerKey() string { return c.SourceID + "/" + c.Speaker }

// Citation returns the trace of this chunk back to its origin.
func (c KnowledgeChunk) Citation() Citation {
	return Citation{SourceID: c.SourceID, Speaker: c.Speaker, Timestamp: c.Timestamp}
}

// ScoredChunk pairs a chunk with its similarity to the query (higher is closer).
type ScoredChunk struct {
	Chunk KnowledgeChunk `json:"chunk"`
	Score float64        `json:"score"`
}

// QueryResult is the ranked context retrieved for one question.
type QueryResult struct {
	Question string        `json:"question"`
	Chunks   []ScoredChunk `json:"chunks"`
}

// Citation points from answer text back to an originating chunk.
type Citation struct {
	SourceID  string `json:"source_id"`
	Speaker   string `json:"speaker"`
	Timestamp string `json:"timestamp"`
}

// Tag renders the citation in the bracketed form used in prompts and answers.
func (c Citation) Tag() string {
	return fmt.Sprintf("[%s, %s, %s]", c.SourceID, c.Speaker, c.Timestamp)
}

// SynthesizedAnswer is a cited answer. Unverified is only populated when the
// flag citation policy is active.
type SynthesizedAnswer struct {
	Answer         string     `json:"answer"`
	Citations      []Citation `json:"citations"`
	Unverified     []Citation `json:"unverified_citations,omitempty"`
	ConsensusNotes []string   `json:"consensus_notes"`
}

// FormatTimestamp renders seconds as HH:MM:SS, truncating fractions.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
