package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/gesture/internal/db"
)

func (a *app) newRecordingsCmd() *cobra.Command {
	var (
		label   string
		summary bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "List catalogued recording sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Recording.DBPath == "" {
				return fmt.Errorf("recording.db_path is not set")
			}
			store, err := db.NewDB(a.cfg.Recording.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if summary {
				sums, err := store.SummarizeLabels(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, sums)
				}
				return printSummary(out, sums)
			}

			recs, err := store.ListRecordings(cmd.Context(), label)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(out, recs)
			}
			return printRecordings(out, recs)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Only list sessions of this gesture")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show per-label totals instead of sessions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecordings(w io.Writer, recs []db.Recording) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tSAMPLES\tRATE\tSTARTED\tDURATION")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%g\t%s\t%s\n",
			r.ID, r.Label, r.Samples, r.RateHz,
			r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

func printSummary(w io.Writer, sums []db.LabelSummary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tSESSIONS\tSAMPLES")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", s.Label, s.Recordings, s.Samples)
	}
	return tw.Flush()
}
