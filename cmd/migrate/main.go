package main

import (
	"context"
	"flag"
	"log"

	"fridge-service/config"
	"fridge-service/internal/store"
)

func main() {
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	var args []string
	if flag.NArg() > 1 {
		args = flag.Args()[1:]
	}

	cfg := config.Load()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db.GetDB().DB, command, args...); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Printf("Migration %q completed", command)
}
