package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/paysplit-experiment/paysplit/config"
	"github.com/paysplit-experiment/paysplit/internal/events"
	"github.com/paysplit-experiment/paysplit/internal/gate"
	"github.com/paysplit-experiment/paysplit/internal/ledger"
	"github.com/paysplit-experiment/paysplit/internal/protocol"
	"github.com/paysplit-experiment/paysplit/internal/registry"
	"github.com/paysplit-experiment/paysplit/internal/server"
	"github.com/paysplit-experiment/paysplit/internal/splitter"
	"github.com/paysplit-experiment/paysplit/internal/store"
	"github.com/paysplit-experiment/paysplit/internal/token"
)

func main() {
	configPath := flag.String("config", "config/config.json", "Config file path")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	memory := flag.Bool("memory", false, "Run with in-memory state, no persistence")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Allow environment variable override
	if envPath := os.Getenv("PAYSPLIT_CONFIG"); envPath != "" {
		*configPath = envPath
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}

	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if envListen := os.Getenv("PAYSPLIT_LISTEN"); envListen != "" {
		cfg.ListenAddr = envListen
	}

	admin, err := protocol.ParseAddress(cfg.AdminAddress)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid admin address in config")
	}

	var (
		state   *ledger.State
		persist *store.Store
	)
	if *memory || cfg.DataDir == "" {
		if state, err = ledger.NewMemoryState(); err != nil {
			log.Fatal().Err(err).Msg("failed to create state")
		}
		log.Info().Msg("running with in-memory state")
	} else {
		if state, err = ledger.NewState(cfg.DataDir); err != nil {
			log.Fatal().Err(err).Str("data_dir", cfg.DataDir).
				Msg("failed to open state (run the genesis tool first)")
		}
		if persist, err = store.Open(cfg.DataDir); err != nil {
			log.Fatal().Err(err).Msg("failed to open store")
		}
		defer persist.Close()
	}

	eventLog, err := events.NewStore(persist)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open event log")
	}

	accessGate, err := gate.New(gate.Options{
		Admin:    admin,
		Required: cfg.VerificationRequired,
		Window:   uint64(cfg.VerificationWindowHours) * 3600,
	}, eventLog, persist)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create access gate")
	}

	tok := token.New(protocol.TokenAddress, state)
	tok.Name = cfg.TokenName
	tok.Symbol = cfg.TokenSymbol
	tok.Decimals = cfg.TokenDecimals

	engine := splitter.New(tok, state, eventLog, splitter.Options{
		Address: protocol.EngineAddress,
		Gate:    accessGate,
	})

	reg, err := registry.New(admin, protocol.RegistryAddress, state, eventLog, persist)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create registry")
	}

	srv := server.NewServer(server.Deps{
		Config:   cfg,
		State:    state,
		Token:    tok,
		Engine:   engine,
		Gate:     accessGate,
		Registry: reg,
		Events:   eventLog,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.ListenAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}
