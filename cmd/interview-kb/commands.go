package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snarg/interview-kb/internal/audio"
	"github.com/snarg/interview-kb/internal/config"
	"github.com/snarg/interview-kb/internal/indexer"
	"github.com/snarg/interview-kb/internal/ingest"
	"github.com/snarg/interview-kb/internal/kb"
	"github.com/snarg/interview-kb/internal/pipeline"
	"github.com/snarg/interview-kb/internal/query"
)

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newProcessCmd(overrides *config.Overrides) *cobra.Command {
	var (
		sourceID string
		workers  int
	)
	cmd := &cobra.Command{
		Use:   "process AUDIO...",
		Short: "Diarize, transcribe and consolidate recordings into review files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceID != "" && len(args) > 1 {
				return errors.New("--source-id requires exactly one recording")
			}
			a, err := loadApp(overrides, true)
			if err != nil {
				return err
			}
			defer a.close()
			proc, err := a.newProcessor()
			if err != nil {
				return err
			}
			if workers <= 0 {
				workers = a.cfg.RecordingWorkers
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			recs := make([]pipeline.Recording, len(args))
			for i, arg := range args {
				recs[i] = pipeline.Recording{SourceID: sourceID, Audio: arg}
			}
			sum := proc.ProcessAll(ctx, recs, workers)
			if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
				return err
			}
			if sum.Failed > 0 {
				return fmt.Errorf("%d of %d recordings failed", sum.Failed, len(recs))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source id (default: audio file name)")
	cmd.Flags().IntVar(&workers, "workers", 0, "recordings processed concurrently (default RECORDING_WORKERS)")
	return cmd
}

func newIngestCmd(overrides *config.Overrides) *cobra.Command {
	var (
		sourceID string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Index reviewed transcripts (.txt review lines or .csv records)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceID != "" && len(args) > 1 {
				return errors.New("--source-id requires exactly one file")
			}
			a, err := loadApp(overrides, true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			index, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			svc := ingest.NewService(a.newIndexer(index), store, nil, a.component("ingest"))

			var failed int
			results := make([]ingest.Result, 0, len(args))
			for _, path := range args {
				res, err := ingestOne(ctx, svc, path, sourceID, format)
				if err != nil {
					failed++
					a.log.Error().Err(err).Str("path", path).Msg("ingest failed")
					continue
				}
				results = append(results, res)
			}
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceID, "source-id", "", "source id (default: file name)")
	cmd.Flags().StringVar(&format, "format", "", "csv or lines (default: from file extension)")
	return cmd
}

func ingestOne(ctx context.Context, svc *ingest.Service, path, sourceID, format string) (ingest.Result, error) {
	if sourceID == "" && format == "" {
		return svc.IngestFile(ctx, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return ingest.Result{}, err
	}
	defer f.Close()

	fmtv, ok := ingest.FormatFor(path)
	if format != "" {
		if fmtv, err = ingest.ParseFormat(format); err != nil {
			return ingest.Result{}, err
		}
	} else if !ok {
		return ingest.Result{}, fmt.Errorf("%s: unknown reviewed format, use --format", path)
	}
	if sourceID == "" {
		sourceID = audio.SourceID(path)
	}
	return svc.Ingest(ctx, sourceID, fmtv, f)
}

func newReindexCmd(overrides *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Re-ingest every archived reviewed batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(overrides, true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			index, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			sum, err := ingest.NewService(a.newIndexer(index), store, nil, a.component("ingest")).Reindex(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
}

// queryFlags are shared by ask and search.
type queryFlags struct {
	topK          int
	exclude       []string
	minSimilarity float64
	asJSON        bool
}

func (qf *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&qf.topK, "top-k", 0, "chunks to retrieve (default QUERY_TOP_K)")
	cmd.Flags().StringSliceVar(&qf.exclude, "exclude", nil, "speakers to leave out of the context")
	cmd.Flags().Float64Var(&qf.minSimilarity, "min-similarity", 0, "drop chunks below this similarity")
	cmd.Flags().BoolVar(&qf.asJSON, "json", false, "print JSON")
}

func (qf *queryFlags) request(cmd *cobra.Command, args []string) query.Request {
	req := query.Request{
		Question:         strings.Join(args, " "),
		TopK:             qf.topK,
		ExcludedSpeakers: qf.exclude,
	}
	if cmd.Flags().Changed("min-similarity") {
		v := qf.minSimilarity
		req.MinSimilarity = &v
	}
	return req
}

func newAskCmd(overrides *config.Overrides) *cobra.Command {
	var qf queryFlags
	var showContext bool
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Answer a question from the indexed interviews with citations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(overrides, true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			index, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			engine, err := a.newSynth()
			if err != nil {
				return err
			}
			res, err := a.newQueryEngine(index).Search(ctx, qf.request(cmd, args))
			if err != nil {
				return err
			}
			ans, err := engine.Synthesize(ctx, res.Question, res)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if qf.asJSON {
				return printJSON(out, ans)
			}
			printAnswer(out, ans)
			if showContext {
				fmt.Fprintln(out, "\nContext:")
				fmt.Fprintln(out, query.FormatContext(res.Chunks))
			}
			return nil
		},
	}
	qf.register(cmd)
	cmd.Flags().BoolVar(&showContext, "show-context", false, "print the retrieved context after the answer")
	return cmd
}

func printAnswer(w io.Writer, ans kb.SynthesizedAnswer) {
	fmt.Fprintln(w, ans.Answer)
	if len(ans.ConsensusNotes) > 0 {
		fmt.Fprintln(w, "\nConsensus:")
		for _, n := range ans.ConsensusNotes {
			fmt.Fprintf(w, "  - %s\n", n)
		}
	}
	fmt.Fprintln(w, "\nSources:")
	for _, c := range ans.Citations {
		fmt.Fprintf(w, "  %s\n", c.Tag())
	}
	for _, c := range ans.Unverified {
		fmt.Fprintf(w, "  %s (unverified)\n", c.Tag())
	}
}

func newSearchCmd(overrides *config.Overrides) *cobra.Command {
	var qf queryFlags
	cmd := &cobra.Command{
		Use:   "search QUESTION...",
		Short: "Show the ranked context retrieved for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(overrides, true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			index, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			res, err := a.newQueryEngine(index).Search(ctx, qf.request(cmd, args))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if qf.asJSON {
				return printJSON(out, res)
			}
			for _, sc := range res.Chunks {
				fmt.Fprintf(out, "%.3f  %s\n", sc.Score, query.ContextLine(sc.Chunk))
			}
			return nil
		},
	}
	qf.register(cmd)
	return cmd
}

func newResetSchemaCmd(overrides *config.Overrides) *cobra.Command {
	var confirm string
	cmd := &cobra.Command{
		Use:   "reset-schema",
		Short: "Drop and recreate the vector index, deleting every chunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if confirm != indexer.ResetConfirmation {
				return fmt.Errorf("refusing to reset: pass --confirm %s", indexer.ResetConfirmation)
			}
			a, err := loadApp(overrides, true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext(cmd)
			defer cancel()

			index, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			if err := a.newIndexer(index).ResetSchema(ctx, confirm); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "vector index reset")
			return nil
		},
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", "must equal "+indexer.ResetConfirmation)
	return cmd
}
