// Package transcribe holds the clients for the external speech services:
// diarization (who spoke when) and transcription (what was said when).
package transcribe

import (
	"context"

	"github.com/snarg/interview-kb/internal/kb"
)

// Transcriber is the speech-to-text collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]kb.TranscriptFragment, error)
	Name() string  // "whisper"
	Model() string // model identifier for logs
}

// Diarizer is the speaker-segmentation collaborator.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]kb.DiarizationSegment, error)
	Name() string
}
