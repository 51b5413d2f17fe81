package commands

import (
	"fmt"
	"log/slog"
	"os"

	"cargotrack-backend/lib/serviceutil"
	"cargotrack-backend/lib/textutil"

	"github.com/spf13/cobra"
)

var fetchMax int

func init() {
	fetchCmd.Flags().IntVar(&fetchMax, "max", 0, "Truncate the printed payload to this many bytes.")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <carrier> <container>...",
	Short: "Queries a carrier's driver directly and prints the raw payload.",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(cmd.Context())
		defer a.Close()

		scraper, ok := a.Registry.Lookup(args[0])
		if !ok {
			serviceutil.Fatal("fetch", fmt.Errorf("no driver for carrier %q", args[0]))
		}
		keys := make([]string, 0, len(args)-1)
		for _, k := range args[1:] {
			keys = append(keys, textutil.CleanContainerNumber(k))
		}

		result := scraper.Track(cmd.Context(), keys)
		slog.Info(
			"fetched",
			"origin", scraper.Name(),
			"attempts", result.Attempts,
			"refreshes", result.Refreshes,
		)
		if !result.Ok() {
			serviceutil.Fatal("fetch", result.Error())
		}

		payload := string(result.Payload)
		if fetchMax > 0 {
			payload = textutil.Truncate(payload, fetchMax)
		}
		fmt.Fprintln(os.Stdout, payload)
	},
}
