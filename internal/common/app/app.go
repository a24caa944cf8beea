package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// CreateContextWithShutdown returns a context that will report done when SIGINT or SIGTERM is received.
// A second signal is left to the default handler, so a stuck shutdown can still be interrupted.
func CreateContextWithShutdown() context.Context {
	return contextWithShutdown(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func contextWithShutdown(parent context.Context, signals ...os.Signal) context.Context {
	ctx, cancel := context.WithCancel(parent)
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)
	go func() {
		defer signal.Stop(c)
		select {
		case s := <-c:
			log.Infof("Received %s, shutting down", s)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
