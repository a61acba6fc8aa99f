package main

import (
	"context"

	"github.com/locvowork/appendsheet/internal/bootstrap"
	"github.com/locvowork/appendsheet/internal/logger"
)

func main() {
	ctx := context.Background()

	app := bootstrap.NewApp()
	if err := app.Initialize(ctx); err != nil {
		logger.ErrorLog(ctx, err, "Failed to initialize application")
		panic(err)
	}

	if err := app.Run(); err != nil {
		logger.ErrorLog(ctx, err, "Server stopped")
		panic(err)
	}
}
