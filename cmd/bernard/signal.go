package main

import (
	"os"
	"os/signal"
	"syscall"

	bernard "github.com/mattkeenan/bernard/pkg"
)

// setupSignalHandler returns a channel that is closed on the first SIGINT,
// SIGTERM or SIGPIPE. A run that sees it closed stops without saving.
func setupSignalHandler() <-chan struct{} {
	shutdown := make(chan struct{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGPIPE)

	go func() {
		sig := <-sigChan
		signal.Stop(sigChan)
		bernard.Logger().Warn().Str("signal", sig.String()).Msg("shutting down, map file will not be updated")
		close(shutdown)
	}()

	return shutdown
}
