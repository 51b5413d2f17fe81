package commands

import (
	"time"

	"cargotrack-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "The number of lookups to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <container>",
	Short: "Lists the recorded lookups of a container, newest first.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd.Context())
		defer a.Close()

		entries, err := a.Tracker.History(cmd.Context(), args[0], historyLimit)
		if err != nil {
			serviceutil.Fatal("history", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Time", "Carrier", "Source", "Status", "Live ETA", "Summary"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.Time.Local().Format(time.DateTime),
				e.Carrier,
				e.Source,
				e.Status,
				e.LiveETA,
				e.Summary,
			})
		}
		t.Render()
	},
}
