package commands

import (
	"strconv"

	"cargotrack-backend/internal/tracking"
	"cargotrack-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	trackCarrier   string
	trackSystemEta string
)

func init() {
	trackCmd.Flags().StringVarP(&trackCarrier, "carrier", "c", "Unknown", "The carrier of the containers.")
	trackCmd.Flags().StringVar(&trackSystemEta, "system-eta", "", "The ETA on record, used for the shift and holidays.")
	rootCmd.AddCommand(trackCmd)
}

var trackCmd = &cobra.Command{
	Use:   "track <container>...",
	Short: "Tracks containers through the api, then the carrier's driver.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd.Context())
		defer a.Close()

		results, err := a.Tracker.TrackBatch(cmd.Context(), tracking.BatchRequest{
			Numbers:   args,
			Carrier:   trackCarrier,
			SystemETA: trackSystemEta,
		})
		if err != nil {
			serviceutil.Fatal("track", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Container", "Status", "Live ETA", "Shift", "Summary", "Source"})
		for _, res := range results {
			shift := ""
			if res.ETAShiftDays != nil {
				shift = strconv.Itoa(*res.ETAShiftDays)
			}
			summary := res.SmartSummary
			if summary == "" {
				summary = res.Message
			}
			source := res.RawDataSnippet
			if source == "" {
				source = res.Source
			}
			t.AppendRow(table.Row{res.TrackingNumber, res.Status, res.LiveETA, shift, summary, source})
		}
		t.Render()
	},
}
