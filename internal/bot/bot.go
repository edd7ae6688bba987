// Package bot provides the Telegram bot initialization, middleware and
// handler registration.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wagerbot/internal/config"
	"wagerbot/internal/cooldown"
	"wagerbot/internal/engine"
	"wagerbot/internal/game/dice"
	"wagerbot/internal/game/sicbo"
	"wagerbot/internal/handler"
	"wagerbot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	accountHandler  *handler.AccountHandler
	transferHandler *handler.TransferHandler
	adminHandler    *handler.AdminHandler
	gameHandler     *handler.GameHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config          *config.Config
	Engine          *engine.Engine
	AccountService  *service.AccountService
	TransferService *service.TransferService
	RankingService  *service.RankingService
	Cooldowns       *cooldown.Store
	Names           handler.Directory
	SicBoGame       *sicbo.Game
	DiceGame        *dice.DiceGame
}

// NewTelegram creates the telebot instance. It is separate from New so the
// notifier can be wired into the engine before the handlers exist.
func NewTelegram(cfg *config.BotConfig) (*tele.Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pref := tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		OnError: func(err error, c tele.Context) {
			ev := log.Error().Err(err)
			if c != nil {
				ev = ev.Str("text", c.Text())
			}
			ev.Msg("Handler failed")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return teleBot, nil
}

// New registers the handlers on teleBot.
func New(teleBot *tele.Bot, deps *Dependencies) *Bot {
	b := &Bot{
		bot: teleBot,
		cfg: deps.Config,
	}

	b.accountHandler = handler.NewAccountHandler(deps.AccountService, deps.RankingService, deps.Names)
	b.transferHandler = handler.NewTransferHandler(deps.TransferService)
	b.adminHandler = handler.NewAdminHandler(deps.AccountService, deps.Engine)
	b.gameHandler = handler.NewGameHandler(&deps.Config.Games, deps.Engine, deps.AccountService, deps.Cooldowns, deps.SicBoGame, deps.DiceGame)

	b.registerMiddleware(deps)
	b.registerHandlers()

	return b
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware(deps *Dependencies) {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(PlayerMiddleware(deps.AccountService, deps.Names))
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// Account handlers
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/my", b.accountHandler.HandleMy)
	b.bot.Handle("/daily", b.accountHandler.HandleDaily)
	b.bot.Handle("/top", b.accountHandler.HandleTop)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)
	b.bot.Handle("/daily_top", b.accountHandler.HandleDailyTop)

	b.bot.Handle("/pay", b.transferHandler.HandlePay)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/admin_add", b.adminHandler.HandleAdminAdd)
	adminGroup.Handle("/admin_sub", b.adminHandler.HandleAdminSub)
	adminGroup.Handle("/admin_set", b.adminHandler.HandleAdminSet)
	adminGroup.Handle("/admin_sessions", b.adminHandler.HandleSessions)

	// Game handlers
	b.bot.Handle("/games", b.gameHandler.HandleGames)
	b.bot.Handle("/bj", b.gameHandler.HandleBlackjack)
	b.bot.Handle("/hit", b.gameHandler.HandleHit)
	b.bot.Handle("/stand", b.gameHandler.HandleStand)
	b.bot.Handle("/crash", b.gameHandler.HandleCrash)
	b.bot.Handle("/crash_status", b.gameHandler.HandleCrashStatus)
	b.bot.Handle("/cashout", b.gameHandler.HandleCashOut)
	b.bot.Handle("/sicbo", b.gameHandler.HandleSicBoStart)
	b.bot.Handle("/sicbo_settle", b.gameHandler.HandleSicBoSettle)
	b.bot.Handle("/mybets", b.gameHandler.HandleMyBets)
	b.bot.Handle("/dice", b.gameHandler.HandleDice)

	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleCallback routes callbacks to appropriate handlers
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	data := handler.CallbackData(callback)
	log.Debug().Str("data", data).Msg("Callback received")

	switch {
	case strings.HasPrefix(data, handler.BlackjackCallbackPrefix):
		return b.gameHandler.HandleBlackjackCallback(c)
	case strings.HasPrefix(data, handler.CrashCallbackPrefix):
		return b.gameHandler.HandleCrashCallback(c)
	case strings.HasPrefix(data, sicbo.CallbackPrefix):
		return b.gameHandler.HandleSicBoCallback(c)
	default:
		return c.Respond(&tele.CallbackResponse{Text: "❌ 无效操作"})
	}
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}

// GetBot returns the underlying telebot instance.
func (b *Bot) GetBot() *tele.Bot {
	return b.bot
}
