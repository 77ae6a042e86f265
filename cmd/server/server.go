package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"fenrir/internal/audit"
	"fenrir/internal/config"
	"fenrir/internal/economy"
	"fenrir/internal/engine"
	"fenrir/internal/exchange"
	"fenrir/internal/idmap"
	"fenrir/internal/netproto"
	"fenrir/internal/persistence"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg := config.ParseServerConfig()

	eng := engine.New()
	econ := economy.New()
	users := idmap.NewUserMapper()
	orderRefs := idmap.NewOrderRefMapper()

	if err := persistence.LoadFromFile(cfg.StatePath, eng, econ, users); err != nil {
		log.Error().Err(err).Msg("failed to load saved state, starting fresh")
	}

	auditor := audit.New(eng, econ)
	coordinator := exchange.New(eng, econ, auditor)

	srv := netproto.New(cfg.Address, cfg.Port, coordinator, users, orderRefs)

	go srv.Run(ctx)
	<-ctx.Done()

	if err := persistence.SaveToFile(cfg.StatePath, eng, econ, users); err != nil {
		log.Error().Err(err).Msg("failed to save world state on shutdown")
	}
}
