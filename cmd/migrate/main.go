package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/migrate"
)

func main() {
	var (
		dsn = flag.String("dsn", os.Getenv("KHANAN_PG_DSN"), "Postgres DSN")
		dir = flag.String("dir", "migrations", "migrations directory")
	)
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}
	if *dsn == "" {
		log.Fatal("dsn is required (flag -dsn or KHANAN_PG_DSN)")
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mgr := migrate.NewManager(db, *dir)
	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("rolled back one migration")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatalf("migrate status: %v", err)
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q (want up, down, or status)", cmd)
	}
}
