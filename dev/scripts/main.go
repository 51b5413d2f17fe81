package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"slices"

	"cargotrack-backend/lib/configutil/dbconfig"
	"cargotrack-backend/lib/lookupstore"

	"github.com/playwright-community/playwright-go"
)

func printScripts() {
	fmt.Println("Scripts:")
	names := make([]string, 0, len(scriptMap))
	for key := range scriptMap {
		names = append(names, key)
	}
	slices.Sort(names)
	for _, key := range names {
		fmt.Println("\t" + key)
	}
}

func main() {
	flag.Parse()

	script := flag.Arg(0)
	fn, ok := scriptMap[script]
	if !ok {
		fmt.Printf(
			"you must specify a valid script, '%s' is not a valid script.\n",
			script,
		)
		printScripts()
		os.Exit(1)
	}

	fn()
}

func cmd(name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fullCmd := name
	for _, a := range args {
		fullCmd += " "
		fullCmd += a
	}

	fmt.Printf("$ %s\n", fullCmd)
	err := cmd.Run()
	if err != nil {
		os.Exit(1)
	}
}

const devDb = "dev/.state/history.db"

var scriptMap = map[string]func(){
	"dev:apply_db_schema":  migrateDb,
	"dev:create_db":        createDb,
	"dev:install_browsers": installBrowsers,
	"dev:sqlc":             sqlcGenerate,
}

// migrateDb diffs the dev database against schema.sql and applies the
// changes.
func migrateDb() {
	cmd(
		"atlas", "schema", "apply",
		"-u", "sqlite://"+devDb,
		"--to", "file://internal/db/schema.sql",
		"--dev-url", "sqlite://dev?mode=memory",
	)
}

func createDb() {
	database, err := dbconfig.Config{File: devDb}.OpenDB()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer database.Close()
	err = lookupstore.NewStore(database).Migrate(context.Background())
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Println("created", devDb)
}

func installBrowsers() {
	err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func sqlcGenerate() {
	cmd("sqlc", "generate", "-f", "internal/db/sqlc.yaml")
}
