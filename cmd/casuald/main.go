// Command casuald boots one casual domain from a TOML configuration
// file and blocks until a shutdown signal arrives. It exists to
// exercise the domain package end to end, not as a CLI product — flag
// parsing, subcommands, and daemonization are explicitly out of scope.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casual-go/casual/domain"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: casuald <domain-config.toml>")
		os.Exit(2)
	}

	domainHome := os.Getenv("CASUAL_DOMAIN_HOME")
	if domainHome == "" {
		domainHome = "."
	}

	model, err := domain.LoadModel(os.Args[1])
	if err != nil {
		logger.Fatal().Err(err).Msg("load domain configuration")
	}

	orch, err := domain.NewOrchestrator(model, domainHome)
	if err != nil {
		logger.Fatal().Err(err).Msg("build orchestrator")
	}

	sub := orch.Events().Subscribe("", 256)
	go func() {
		for ev := range sub.Ch {
			logger.Info().Str("topic", ev.Topic).Interface("payload", ev.Payload).Msg("domain event")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sup := domain.NewSupervisor(orch, func(alias string, restart domain.RestartPolicy) (*domain.Process, error) {
		return nil, fmt.Errorf("restart for %q requires re-entering Boot, not implemented by this example entry point", alias)
	})
	go sup.Run()
	defer sup.Stop()

	logger.Info().Str("domain", model.DomainName).Msg("booting")
	if err := orch.Boot(ctx, 10*time.Second); err != nil {
		logger.Fatal().Err(err).Msg("boot failed")
	}
	logger.Info().Msg("domain booted")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	if err := orch.Shutdown(domain.DefaultShutdownConfig()); err != nil {
		logger.Error().Err(err).Msg("shutdown encountered errors")
		os.Exit(1)
	}
	logger.Info().Msg("domain stopped")
}
