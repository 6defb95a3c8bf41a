package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"

	"github.com/lunara-app/service-cycle-go/internal/config"
	"github.com/lunara-app/service-cycle-go/migrations"
	"github.com/lunara-app/service-cycle-go/pkg/database"
)

// migrate applies the embedded goose migrations to the configured database.
// Usage: migrate [up|down|status], defaulting to up.
func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Database.Driver == "memory" {
		fmt.Fprintln(os.Stderr, "memory driver needs no migrations")
		os.Exit(1)
	}

	db, err := database.Connect(database.Config{
		Driver:   cfg.Database.Driver,
		DSN:      cfg.Database.DSN,
		MaxConns: 1,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "db connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	dialect := goose.DialectPostgres
	if cfg.Database.Driver == "sqlite" {
		dialect = goose.DialectSQLite3
	}

	provider, err := goose.NewProvider(dialect, db, migrations.FS)
	if err != nil {
		fmt.Fprintf(os.Stderr, "goose provider: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch command {
	case "up":
		_, err = provider.Up(ctx)
	case "down":
		_, err = provider.Down(ctx)
	case "status":
		var statuses []*goose.MigrationStatus
		statuses, err = provider.Status(ctx)
		for _, st := range statuses {
			fmt.Printf("%-60s %s\n", st.Source.Path, st.State)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("migrate %s: ok\n", command)
}
