package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/mivanovs/telegate/internal/logging"
	"github.com/mivanovs/telegate/internal/server"
	"github.com/mivanovs/telegate/internal/server/config"
)

func main() {

	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(cfg, logger)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}

}
