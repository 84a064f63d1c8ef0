package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"caremesh.org/internal/migrate"
)

func main() {
	var (
		dsn           = flag.String("dsn", os.Getenv("CAREMESH_POSTGRES_DSN"), "postgres DSN")
		migrationsDir = flag.String("migrations", "migrations", "migrations directory")
		seedsDir      = flag.String("seeds", "migrations/seeds", "seeds directory")
	)
	flag.Parse()

	if *dsn == "" {
		fail("dsn is required (flag -dsn or CAREMESH_POSTGRES_DSN)")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		fail("command is required: up | down | seed | status")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fail("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr := migrate.NewManager(db, *migrationsDir, *seedsDir)

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			fail("migrate up: %v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			fail("migrate down: %v", err)
		}
		fmt.Println("last migration rolled back")
	case "seed":
		if err := mgr.Seed(ctx); err != nil {
			fail("seed: %v", err)
		}
		fmt.Println("seeds applied")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			fail("status: %v", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		fail("unknown command %q: want up | down | seed | status", cmd)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
