package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/retry"
)

// DiarizerOptions configures a DiarizationClient.
type DiarizerOptions struct {
	URL         string // endpoint accepting a multipart "file" upload
	APIKey      string
	Timeout     time.Duration
	NumSpeakers int // 0 lets the service decide
	Retry       retry.Policy
	Log         zerolog.Logger
}

// DiarizationClient calls an HTTP speaker-diarization service (for example a
// pyannote wrapper). The service answers with either a bare JSON array of
// {start, end, speaker} or an object with a "segments" array of the same.
type DiarizationClient struct {
	opts   DiarizerOptions
	client *http.Client
}

type diarizedTurn struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// NewDiarizationClient creates a diarization HTTP client.
func NewDiarizationClient(opts DiarizerOptions) *DiarizationClient {
	return &DiarizationClient{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

// Name returns the provider name.
func (dc *DiarizationClient) Name() string { return "diarization" }

// Diarize uploads the audio and returns speaker segments sorted by start.
// Turns with no positive duration are dropped.
func (dc *DiarizationClient) Diarize(ctx context.Context, audioPath string) ([]kb.DiarizationSegment, error) {
	fields := map[string]string{}
	if dc.opts.NumSpeakers > 0 {
		fields["num_speakers"] = fmt.Sprintf("%d", dc.opts.NumSpeakers)
	}
	body, contentType, err := audioForm(audioPath, "file", fields)
	if err != nil {
		return nil, err
	}

	raw, err := retry.DoValue(ctx, dc.opts.Retry, func(ctx context.Context) ([]byte, error) {
		return postForm(ctx, dc.client, "diarization", dc.opts.URL, dc.opts.APIKey, body, contentType)
	})
	if err != nil {
		return nil, err
	}

	turns, err := decodeTurns(raw)
	if err != nil {
		return nil, err
	}

	segs := make([]kb.DiarizationSegment, 0, len(turns))
	for _, t := range turns {
		span := kb.TimeSpan{Start: t.Start, End: t.End}
		if !span.Valid() {
			dc.opts.Log.Debug().Float64("start", t.Start).Float64("end", t.End).Msg("dropping empty diarization turn")
			continue
		}
		segs = append(segs, kb.DiarizationSegment{Speaker: t.Speaker, Span: span})
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Span.Start < segs[j].Span.Start })
	return segs, nil
}

func decodeTurns(raw []byte) ([]diarizedTurn, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var turns []diarizedTurn
		if err := json.Unmarshal(raw, &turns); err != nil {
			return nil, fmt.Errorf("decode diarization response: %w", err)
		}
		return turns, nil
	}
	var wrapped struct {
		Segments []diarizedTurn `json:"segments"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode diarization response: %w", err)
	}
	return wrapped.Segments, nil
}
