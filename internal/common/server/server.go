package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
)

// NewServer applies the hub's HTTP timeouts. They cover the upgrade request
// only: once a websocket is hijacked its deadlines belong to the client pumps.
func NewServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
		ReadTimeout:       constants.ServerReadTimeout,
		WriteTimeout:      constants.ServerWriteTimeout,
		IdleTimeout:       constants.ServerIdleTimeout,
		MaxHeaderBytes:    constants.ServerMaxHeaderBytes,
	}
}

type ShutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}

func StartWithGracefulShutdown(
	server *http.Server,
	log *logger.Logger,
	serviceName string,
) {
	StartWithGracefulShutdownAndHooks(server, log, serviceName, nil)
}

// StartWithGracefulShutdownAndHooks blocks until SIGINT or SIGTERM, then runs
// hooks in order before shutting the listener down. Hijacked websocket
// connections are not tracked by http.Server, so closing them is a hook's job.
func StartWithGracefulShutdownAndHooks(
	server *http.Server,
	log *logger.Logger,
	serviceName string,
	hooks []ShutdownHook,
) {
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("%s service listening on %s", serviceName, server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Infof("shutting down %s service (signal %v)", serviceName, sig)
	case err := <-serveErr:
		log.Errorf("%s service failed: %v", serviceName, err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer shutdownCancel()

	server.SetKeepAlivesEnabled(false)

	RunHooks(shutdownCtx, log, serviceName, hooks)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("%s service forced to shutdown: %v", serviceName, err)
	} else {
		log.Infof("%s service stopped gracefully", serviceName)
	}
}

// RunHooks gives each hook its own drain window; a failing hook does not stop the rest.
func RunHooks(ctx context.Context, log *logger.Logger, serviceName string, hooks []ShutdownHook) {
	for _, hook := range hooks {
		drainCtx, cancel := context.WithTimeout(ctx, constants.DrainTimeout)
		err := hook.Fn(drainCtx)
		cancel()
		if err != nil {
			log.WithFields(ctx, logger.Fields{
				"hook":   hook.Name,
				"action": "shutdown_hook_failed",
			}).Errorf("%s service: shutdown hook %s failed: %v", serviceName, hook.Name, err)
			continue
		}
		log.Debugf("%s service: shutdown hook %s done", serviceName, hook.Name)
	}
}
