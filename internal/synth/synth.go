// Package synth turns a question and its retrieved context into a cited
// answer, validating every citation against the chunks that were retrieved.
package synth

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/llm"
	"github.com/snarg/interview-kb/internal/metrics"
	"github.com/snarg/interview-kb/internal/query"
)

const DefaultMaxConcurrent = 4

var (
	// ErrNoContext is wrapped when synthesis is asked to answer from nothing.
	ErrNoContext = errors.New("no retrieved context")

	// ErrNoValidCitations is wrapped when the completion cites nothing that
	// was retrieved.
	ErrNoValidCitations = errors.New("answer contains no valid citations")
)

// Options configures an Engine.
type Options struct {
	Prompts       Prompts
	Policy        Policy
	Temperature   float64
	MaxTokens     int
	MaxConcurrent int // completion calls in flight, DefaultMaxConcurrent when <= 0
	Log           zerolog.Logger
}

// Engine calls the completion service and post-processes its answer.
type Engine struct {
	completer llm.Completer
	opts      Options
	sem       chan struct{}
	log       zerolog.Logger
}

// New creates an Engine.
func New(completer llm.Completer, opts Options) *Engine {
	if opts.Policy == "" {
		opts.Policy = PolicyDrop
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Engine{
		completer: completer,
		opts:      opts,
		sem:       make(chan struct{}, opts.MaxConcurrent),
		log:       opts.Log,
	}
}

// Policy returns the active citation policy.
func (e *Engine) Policy() Policy { return e.opts.Policy }

// Synthesize answers question from res. The answer is withheld with a
// synthesis error when the completion fails or cites nothing that was
// retrieved.
func (e *Engine) Synthesize(ctx context.Context, question string, res kb.QueryResult) (kb.SynthesizedAnswer, error) {
	if len(res.Chunks) == 0 {
		return kb.SynthesizedAnswer{}, e.fail("synthesize", ErrNoContext)
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return kb.SynthesizedAnswer{}, e.fail("wait for completion slot", ctx.Err())
	}
	start := time.Now()
	raw, err := e.completer.Complete(ctx, llm.CompletionRequest{
		System:      e.opts.Prompts.System,
		User:        e.opts.Prompts.Render(question, query.FormatContext(res.Chunks)),
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	})
	<-e.sem
	metrics.ObserveStage("complete", start)
	if err != nil {
		return kb.SynthesizedAnswer{}, e.fail("complete", err)
	}

	ans := e.parse(raw, newCitationSet(res))
	metrics.CitationsTotal.WithLabelValues("valid").Add(float64(len(ans.Citations)))
	metrics.CitationsTotal.WithLabelValues("unverified").Add(float64(len(ans.Unverified)))
	if len(ans.Citations) == 0 {
		e.log.Warn().Int("chunks", len(res.Chunks)).Msg("completion cited no retrieved chunk, answer withheld")
		return kb.SynthesizedAnswer{}, e.fail("validate citations", ErrNoValidCitations)
	}
	if len(ans.Unverified) > 0 {
		e.log.Warn().
			Int("unverified", len(ans.Unverified)).
			Str("policy", string(e.opts.Policy)).
			Msg("answer cited chunks that were not retrieved")
	}
	if e.opts.Policy == PolicyDrop {
		ans.Unverified = nil
	}

	metrics.QueriesTotal.WithLabelValues("answered").Inc()
	return ans, nil
}

func (e *Engine) fail(op string, err error) error {
	metrics.QueriesTotal.WithLabelValues("synthesis_error").Inc()
	return &kb.Error{Kind: kb.KindSynthesis, Op: op, Err: err}
}

// notePattern matches a consensus line, optionally bulleted.
var notePattern = regexp.MustCompile(`(?i)^\s*(?:[-*]\s*)?(AGREE|DISAGREE|CONSENSUS|DISAGREEMENT)\s*:\s*(.+)$`)

// parse splits consensus lines from the answer body and validates citations
// in both.
func (e *Engine) parse(raw string, set citationSet) kb.SynthesizedAnswer {
	ans := kb.SynthesizedAnswer{Citations: []kb.Citation{}, ConsensusNotes: []string{}}

	var (
		body           []string
		noteValid      []kb.Citation
		noteUnverified []kb.Citation
	)
	for _, line := range strings.Split(raw, "\n") {
		m := notePattern.FindStringSubmatch(line)
		if m == nil {
			body = append(body, line)
			continue
		}
		checked := checkCitations(strings.TrimSpace(m[2]), set, e.opts.Policy)
		noteValid = append(noteValid, checked.valid...)
		noteUnverified = append(noteUnverified, checked.unverified...)
		if note := strings.TrimSpace(checked.text); note != "" {
			ans.ConsensusNotes = append(ans.ConsensusNotes, strings.ToUpper(m[1])+": "+note)
		}
	}

	checked := checkCitations(strings.TrimSpace(strings.Join(body, "\n")), set, e.opts.Policy)
	ans.Answer = strings.TrimSpace(checked.text)
	// Body citations first so the list follows reading order.
	ans.Citations = appendUnique(appendUnique(ans.Citations, checked.valid...), noteValid...)
	ans.Unverified = appendUnique(appendUnique(nil, checked.unverified...), noteUnverified...)
	return ans
}
