// migrate применяет и откатывает встроенные миграции схемы product-service.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/akriventsev/shopsaga/framework/migrations"
	"github.com/akriventsev/shopsaga/internal/product"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	_ = godotenv.Load()
	dbURL := flag.String("database-url", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (default: $POSTGRES_DSN)")
	if err := flag.CommandLine.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	if command == "validate" {
		runValidate(product.Migrations)
		return
	}
	if *dbURL == "" {
		fmt.Fprintf(os.Stderr, "Error: --database-url or POSTGRES_DSN is required\n")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := migrations.OpenDB(ctx, *dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	src := product.Migrations
	switch command {
	case "up":
		err = runUp(ctx, src, db, stepsArg(0))
	case "down":
		err = runDown(ctx, src, db, stepsArg(1))
	case "status":
		err = runStatus(ctx, src, db)
	case "version":
		err = runVersion(ctx, src, db)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: migrate <command> [flags] [N]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up [N]     - Apply all pending migrations (or N migrations)")
	fmt.Println("  down [N]   - Rollback N migrations (default: 1)")
	fmt.Println("  status     - Show status of all migrations")
	fmt.Println("  version    - Show current migration version")
	fmt.Println("  validate   - Check embedded migration files")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --database-url  - PostgreSQL connection string (default: $POSTGRES_DSN)")
}

func stepsArg(def int64) int64 {
	if flag.NArg() == 0 {
		return def
	}
	n, err := strconv.ParseInt(flag.Arg(0), 10, 64)
	if err != nil || n < 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid step count %q\n", flag.Arg(0))
		os.Exit(1)
	}
	return n
}

func runUp(ctx context.Context, src migrations.Source, db *sql.DB, steps int64) error {
	if err := src.UpBy(ctx, db, steps); err != nil {
		return err
	}
	fmt.Println("Migrations applied successfully")
	return runVersion(ctx, src, db)
}

func runDown(ctx context.Context, src migrations.Source, db *sql.DB, steps int64) error {
	for i := int64(0); i < steps; i++ {
		if err := src.Down(ctx, db); err != nil {
			return err
		}
	}
	fmt.Printf("Rolled back %d migration(s)\n", steps)
	return nil
}

func runStatus(ctx context.Context, src migrations.Source, db *sql.DB) error {
	statuses, err := src.Status(ctx, db)
	if err != nil {
		return err
	}
	fmt.Println("Migration Status:")
	for _, s := range statuses {
		icon := "[ ]"
		if s.Status == "applied" {
			icon = "[x]"
		}
		fmt.Printf("%s %d - %s", icon, s.Version, s.Name)
		if s.AppliedAt != nil {
			fmt.Printf(" (applied at %s)", s.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

func runVersion(ctx context.Context, src migrations.Source, db *sql.DB) error {
	v, err := src.Version(ctx, db)
	if err != nil {
		return err
	}
	fmt.Printf("Current version: %d\n", v)
	return nil
}

func runValidate(src migrations.Source) {
	statuses, err := src.Collect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, s := range statuses {
		fmt.Printf("  %d - %s\n", s.Version, s.Name)
	}
	fmt.Printf("%d migration(s) valid\n", len(statuses))
}
