package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"shadowcam/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var clear bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.OpenFromConfig(cfg)
			if errors.Is(err, history.ErrDisabled) {
				return errors.New("verdict history is disabled (set history.enabled = true)")
			}
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if clear {
				removed, err := store.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d entries\n", removed)
				return nil
			}

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				if entries == nil {
					entries = []history.Entry{}
				}
				return writeJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No verdicts recorded")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					e.CreatedAt.Local().Format(time.DateTime),
					e.Kind,
					e.Verdict,
					fmt.Sprintf("%.1f%%", e.Probability*100),
					e.RiskLevel,
					shortID(e.SessionID),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Time", "Kind", "Verdict", "Probability", "Risk", "Session"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().BoolVar(&clear, "clear", false, "Delete all recorded verdicts")
	return cmd
}
