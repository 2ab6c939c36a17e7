package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/retry"
)

// WhisperOptions configures a WhisperClient.
type WhisperOptions struct {
	URL         string // OpenAI-compatible /v1/audio/transcriptions endpoint
	Model       string
	APIKey      string
	Timeout     time.Duration
	Language    string // interviews are single-language; default "en"
	Temperature float64
	Prompt      string // initial prompt / domain vocabulary
	Preprocess  bool   // resample with sox before upload when available
	Retry       retry.Policy
	Log         zerolog.Logger
}

// WhisperClient calls an OpenAI-compatible transcription endpoint and returns
// word-level fragments.
type WhisperClient struct {
	opts   WhisperOptions
	client *http.Client
	log    zerolog.Logger
}

// whisperResponse is the verbose_json response body.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Words    []whisperWord    `json:"words"`
	Segments []whisperSegment `json:"segments"`
}

type whisperWord struct {
	Word  string  `json:"word"`
	Text  string  `json:"text"` // some servers use "text" for the word field
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type whisperSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(opts WhisperOptions) *WhisperClient {
	if opts.Language == "" {
		opts.Language = "en"
	}
	return &WhisperClient{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		log:    opts.Log,
	}
}

// Name returns the provider name.
func (wc *WhisperClient) Name() string { return "whisper" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.opts.Model }

// Transcribe uploads the audio and returns fragments ordered by start time.
// Word timestamps are used when the server returns them; otherwise segment
// text is split into words with evenly interpolated timing.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string) ([]kb.TranscriptFragment, error) {
	path := audioPath
	if wc.opts.Preprocess {
		processed, cleanup, err := Preprocess(ctx, audioPath)
		if err != nil {
			wc.log.Warn().Err(err).Str("audio", audioPath).Msg("preprocessing failed, using original audio")
		} else {
			path = processed
			defer cleanup()
		}
	}

	body, contentType, err := audioForm(path, "file", map[string]string{
		"model":                     wc.opts.Model,
		"language":                  wc.opts.Language,
		"temperature":               fmt.Sprintf("%.2f", wc.opts.Temperature),
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
		"prompt":                    wc.opts.Prompt,
	})
	if err != nil {
		return nil, err
	}

	raw, err := retry.DoValue(ctx, wc.opts.Retry, func(ctx context.Context) ([]byte, error) {
		return postForm(ctx, wc.client, "whisper", wc.opts.URL, wc.opts.APIKey, body, contentType)
	})
	if err != nil {
		return nil, err
	}

	var result whisperResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}
	return fragmentsFromResponse(&result), nil
}

func fragmentsFromResponse(r *whisperResponse) []kb.TranscriptFragment {
	if len(r.Words) > 0 {
		frags := make([]kb.TranscriptFragment, 0, len(r.Words))
		for _, w := range r.Words {
			text := w.Word
			if text == "" {
				text = w.Text
			}
			frags = append(frags, kb.TranscriptFragment{
				Text: strings.TrimSpace(text),
				Span: kb.TimeSpan{Start: w.Start, End: w.End},
			})
		}
		return frags
	}
	if len(r.Segments) > 0 {
		return wordsFromSegments(r.Segments)
	}
	text := strings.TrimSpace(r.Text)
	if text == "" || r.Duration <= 0 {
		return []kb.TranscriptFragment{}
	}
	return wordsFromSegments([]whisperSegment{{Text: text, Start: 0, End: r.Duration}})
}

// wordsFromSegments synthesizes word-level fragments from segment-level
// timestamps, interpolating evenly across each segment's time range. Finer
// fragments let alignment split a segment that spans a speaker change.
func wordsFromSegments(segments []whisperSegment) []kb.TranscriptFragment {
	frags := []kb.TranscriptFragment{}
	for _, seg := range segments {
		tokens := strings.Fields(seg.Text)
		if len(tokens) == 0 {
			continue
		}
		wordDur := (seg.End - seg.Start) / float64(len(tokens))
		for i, tok := range tokens {
			frags = append(frags, kb.TranscriptFragment{
				Text: tok,
				Span: kb.TimeSpan{
					Start: seg.Start + float64(i)*wordDur,
					End:   seg.Start + float64(i+1)*wordDur,
				},
			})
		}
	}
	return frags
}
