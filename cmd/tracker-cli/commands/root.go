package commands

import (
	"context"
	"fmt"
	"os"

	"cargotrack-backend/internal/app"
	"cargotrack-backend/internal/components/telemetry"
	"cargotrack-backend/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	outputDir string
)

var rootCmd = &cobra.Command{
	Use:   "tracker-cli",
	Short: "tracker-cli looks up containers and inspects carrier drivers from the terminal.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output", "", "Write every outgoing http exchange to this directory.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openApp builds the components from config.json5, the caller closes it.
func openApp(ctx context.Context) *app.App {
	cfg, err := app.LoadConfig()
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	a, err := app.New(ctx, cfg, app.Options{
		Tel:       telemetry.SlogAPI{},
		OutputDir: outputDir,
	})
	if err != nil {
		serviceutil.Fatal("init app", err)
	}
	return a
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
