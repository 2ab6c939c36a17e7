package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/snarg/interview-kb/internal/config"
	"github.com/snarg/interview-kb/internal/storage"
	"github.com/snarg/interview-kb/internal/vectorindex"
)

func newCheckCmd(overrides *config.Overrides) *cobra.Command {
	var (
		pruneStale bool
		apply      bool
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report index contents per source and find stale chunks",
		Long: "Prints chunk counts per source and the reviewed archives in the artifact store.\n" +
			"With --prune-stale, lists chunks superseded by a re-ingested copy of the same\n" +
			"utterance; add --apply to delete them.",
		Args: cobra.NoArgs,
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
			out := cmd.OutOrStdout()

			if pruneStale {
				stale, err := index.StaleChunks(ctx)
				if err != nil {
					return fmt.Errorf("find stale chunks: %w", err)
				}
				return pruneStaleChunks(ctx, out, index, stale, apply)
			}

			stats, err := index.SourceStats(ctx)
			if err != nil {
				return fmt.Errorf("source stats: %w", err)
			}
			printSourceStats(out, stats)

			store, err := a.openStore()
			if err != nil {
				return err
			}
			keys, err := store.List(ctx, storage.ReviewedPrefix)
			if err != nil {
				a.log.Warn().Err(err).Msg("failed to list reviewed archives")
				return nil
			}
			fmt.Fprintf(out, "\nReviewed archives (%s): %d\n", store.Type(), len(keys))
			return nil
		},
	}
	cmd.Flags().BoolVar(&pruneStale, "prune-stale", false, "find chunks superseded by a newer copy")
	cmd.Flags().BoolVar(&apply, "apply", false, "with --prune-stale, delete the stale chunks")
	return cmd
}

func printSourceStats(w io.Writer, stats []vectorindex.SourceStat) {
	var total int64
	fmt.Fprintln(w, "Source                   Chunks  Speakers  Last ingested")
	fmt.Fprintln(w, "────────────────────────────────────────────────────────────")
	for _, st := range stats {
		fmt.Fprintf(w, "%-24s %7d %9d  %s\n", st.SourceID, st.Chunks, st.Speakers, st.LastIngested.Format("2006-01-02 15:04"))
		total += st.Chunks
	}
	fmt.Fprintf(w, "%d sources, %d chunks\n", len(stats), total)
}

func pruneStaleChunks(ctx context.Context, w io.Writer, index *vectorindex.Store, stale []vectorindex.StaleChunk, apply bool) error {
	fmt.Fprintf(w, "Found %d stale chunks\n", len(stale))
	if len(stale) == 0 {
		return nil
	}

	if !apply {
		fmt.Fprintln(w, "Dry run, no changes made. Run with --apply to delete.")
		for i, c := range stale {
			if i >= 10 {
				fmt.Fprintf(w, "  ... and %d more\n", len(stale)-10)
				break
			}
			fmt.Fprintf(w, "  %s %s @%.1fs: delete %s, keep %s\n", c.SourceID, c.Speaker, c.Start, c.ID, c.KeepID)
		}
		return nil
	}

	ids := make([]string, len(stale))
	for i, c := range stale {
		ids[i] = c.ID
	}
	n, err := index.DeleteChunks(ctx, ids)
	if err != nil {
		return fmt.Errorf("delete stale chunks: %w", err)
	}
	fmt.Fprintf(w, "Deleted %d stale chunks\n", n)
	return nil
}
