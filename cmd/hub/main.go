package main

import (
	"context"
	"os"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/bootstrap"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	srv "github.com/AlibekovAA/realtime-hub/backend/internal/common/server"
)

func main() {
	app, err := bootstrap.NewHubApp(context.Background())
	if err != nil {
		logger.GetInstance().Errorf("failed to start hub: %v", err)
		os.Exit(1)
	}

	server := srv.NewServer(app.Config.HTTPPort, app.Handler)

	srv.StartWithGracefulShutdownAndHooks(server, app.Log, "hub", app.ShutdownHooks())
}
