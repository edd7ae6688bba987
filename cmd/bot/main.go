// Package main is the entry point for the wager bot.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/adminapi"
	"wagerbot/internal/bot"
	"wagerbot/internal/config"
	"wagerbot/internal/cooldown"
	"wagerbot/internal/engine"
	"wagerbot/internal/game"
	"wagerbot/internal/game/blackjack"
	"wagerbot/internal/game/crash"
	"wagerbot/internal/game/dice"
	"wagerbot/internal/game/sicbo"
	"wagerbot/internal/handler"
	"wagerbot/internal/ledger"
	"wagerbot/internal/logging"
	"wagerbot/internal/notify"
	"wagerbot/internal/pkg/db"
	"wagerbot/internal/repository"
	"wagerbot/internal/service"
	"wagerbot/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		logging.Init("info", true)
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The database only archives transactions and player names.
	var (
		dbPool   *db.Pool
		archiver ledger.Archiver
		history  service.HistoryArchive
		daily    service.DailyArchive
		pinger   adminapi.Pinger
		names    handler.Directory = handler.NewMemoryDirectory()
	)
	if cfg.Database.Enabled {
		dbPool, err = db.NewPool(ctx, &cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		if err := repository.Migrate(ctx, dbPool.Pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
		txRepo := repository.NewTransactionRepository(dbPool.Pool)
		archiver, history, daily = txRepo, txRepo, txRepo
		names = repository.NewPlayerRepository(dbPool.Pool)
		pinger = dbPool
	} else {
		log.Warn().Msg("Database disabled, history is limited to the retained log")
	}

	ledgerStore := ledger.New(ledger.Options{
		Path:            cfg.Storage.Path("ledger.json"),
		MaxTransactions: cfg.Ledger.MaxTransactions,
		Debounce:        cfg.Storage.Debounce,
		Archiver:        archiver,
	})
	// A snapshot that cannot be read leaves the store empty; the bot still starts.
	if err := ledgerStore.Load(); err != nil {
		log.Error().Err(err).Msg("Ledger snapshot not loaded, starting with an empty ledger")
	}

	cooldowns := cooldown.NewStore(ledgerStore, cooldown.Options{
		Path:     cfg.Storage.Path("cooldowns.json"),
		Debounce: cfg.Storage.Debounce,
	})
	sessions := session.NewRegistry(session.Options{
		Path: cfg.Storage.Path("sessions.json"),
	})

	// Initialize game registry and register games
	gameRegistry := game.NewRegistry()
	blackjackGame := blackjack.New(&blackjack.Config{
		MinBet:      cfg.Games.Blackjack.MinBet,
		MaxBet:      cfg.Games.Blackjack.MaxBet,
		TurnTimeout: time.Duration(cfg.Games.Blackjack.TurnTimeoutSeconds) * time.Second,
	})
	crashGame := crash.New(&crash.Config{
		MinBet:        cfg.Games.Crash.MinBet,
		MaxBet:        cfg.Games.Crash.MaxBet,
		TickInterval:  time.Duration(cfg.Games.Crash.TickMillis) * time.Millisecond,
		MaxMultiplier: cfg.Games.Crash.MaxMultiplier,
		MaxDuration:   time.Duration(cfg.Games.Crash.MaxDurationSeconds) * time.Second,
	})
	sicboGame := sicbo.New(&sicbo.Config{
		BettingDuration: time.Duration(cfg.Games.SicBo.BettingDurationSeconds) * time.Second,
		BetAmount:       cfg.Games.SicBo.BetAmount,
	})
	diceGame := dice.New(&dice.Config{
		MaxBet:   cfg.Games.Dice.MaxBet,
		Cooldown: time.Duration(cfg.Games.Dice.CooldownSeconds) * time.Second,
	})
	for _, m := range []game.Machine{blackjackGame, crashGame, sicboGame, diceGame} {
		if err := gameRegistry.Register(m); err != nil {
			log.Fatal().Err(err).Str("game", m.Type()).Msg("Failed to register game")
		}
	}
	log.Info().
		Int("game_count", gameRegistry.Count()).
		Strs("games", gameRegistry.Types()).
		Msg("Games registered")

	teleBot, err := bot.NewTelegram(&cfg.Bot)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	eng := engine.New(ledgerStore, sessions, gameRegistry, engine.Options{
		Notifier:      notify.Multi{notify.Log{}, bot.NewNotifier(teleBot, names)},
		NotifyTimeout: cfg.Bot.NotifyTimeout,
		Retarget:      bot.ChatTarget,
	})

	accountService := service.NewAccountService(ledgerStore, cooldowns, service.AccountOptions{
		InitialBalance: cfg.Account.InitialBalance,
		DailyReward:    cfg.Daily.Reward,
		DailyCooldown:  cfg.Daily.Cooldown(),
		Archive:        history,
	})
	transferService := service.NewTransferService(ledgerStore)
	rankingService := service.NewRankingService(ledgerStore, daily, time.Local)

	// Sessions left over from the last run settle before any command is accepted.
	if _, err := eng.Recover(ctx, nil); err != nil {
		log.Error().Err(err).Msg("Failed to recover sessions, starting with none")
	}

	telegramBot := bot.New(teleBot, &bot.Dependencies{
		Config:          cfg,
		Engine:          eng,
		AccountService:  accountService,
		TransferService: transferService,
		RankingService:  rankingService,
		Cooldowns:       cooldowns,
		Names:           names,
		SicBoGame:       sicboGame,
		DiceGame:        diceGame,
	})

	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		httpServer = adminapi.NewServer(cfg.HTTP.Addr, adminapi.NewRouter(adminapi.Options{
			AdminKey: cfg.HTTP.AdminKey,
			Accounts: accountService,
			Rankings: rankingService,
			Sessions: sessions,
			DB:       pinger,
			Timezone: time.Local,
		}))
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("Admin API listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin API stopped")
			}
		}()
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go telegramBot.Start()

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	telegramBot.Stop()
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Admin API shutdown failed")
		}
		shutdownCancel()
	}

	// Live sessions stay in the snapshot and settle on the next start.
	sessions.Scheduler().Stop()
	eng.Wait()

	if err := sessions.Flush(); err != nil {
		log.Error().Err(err).Msg("Failed to flush sessions")
	}
	if err := cooldowns.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to flush cooldowns")
	}
	if err := ledgerStore.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to flush ledger")
	}
	if dbPool != nil {
		dbPool.Close()
	}
	log.Info().Msg("Bot stopped gracefully")
}
