package commands

import (
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var originsWarm bool

func init() {
	originsCmd.Flags().BoolVar(&originsWarm, "warm", false, "Warm up every driver before printing its status.")
	rootCmd.AddCommand(originsCmd)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

var originsCmd = &cobra.Command{
	Use:   "origins",
	Short: "Lists the configured carrier drivers, their aliases and session state.",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd.Context())
		defer a.Close()

		if originsWarm {
			a.Registry.WarmUpAll(cmd.Context())
		}

		aliases := map[string]string{}
		for _, name := range a.Registry.Names() {
			aliases[name] = strings.Join(a.Registry.Aliases(name), ", ")
		}

		t := newTable()
		t.AppendHeader(table.Row{"Origin", "Aliases", "Valid", "Token acquired", "Launches", "Refreshes", "Last error"})
		for _, status := range a.Registry.Status() {
			t.AppendRow(table.Row{
				status.Origin,
				aliases[status.Origin],
				status.Valid,
				formatTime(status.TokenAcquiredAt),
				status.Launches,
				status.Refreshes,
				status.LastError,
			})
		}
		t.Render()
	},
}
