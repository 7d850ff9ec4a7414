package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"furitingoasis/wiredin/internal/history"
)

func main() {
	addr := flag.String("addr", ":8080", "HTTP network address")
	dbPath := flag.String("db", "./data/telemetry.db", "telemetry history database written by the hub")
	maxPoints := flag.Int("max-points", 200, "maximum readings returned by /api/telemetry")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	store, err := history.Open(context.Background(), *dbPath)
	if err != nil {
		logger.Error("error opening database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	logger.Info("starting history API", "addr", *addr)
	if err := newRouter(store, *maxPoints).Run(*addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
