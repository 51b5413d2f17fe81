package main

import (
	"context"

	"cargotrack-backend/cmd/tracker-cli/commands"
	"cargotrack-backend/internal/components/telemetry"
)

func main() {
	telemetry.SetupFromEnv(context.Background(), "tracker-cli")
	commands.ExecuteContext(context.Background())
}
