package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wagerbot/internal/config"
	"wagerbot/internal/cooldown"
	"wagerbot/internal/engine"
	"wagerbot/internal/game"
	"wagerbot/internal/game/blackjack"
	"wagerbot/internal/game/crash"
	"wagerbot/internal/game/dice"
	"wagerbot/internal/game/sicbo"
	"wagerbot/internal/service"
	"wagerbot/internal/session"
)

// Callback prefixes routed to the game handler.
const (
	BlackjackCallbackPrefix = "bj_"
	CrashCallbackPrefix     = "crash_"
)

// diceAnimation is how long Telegram's dice take to land.
const diceAnimation = 3 * time.Second

const activityDice = "dice"

// GameHandler handles game commands. Resolution messages are posted by the
// bot's notifier; handlers only show sessions that are still running.
type GameHandler struct {
	cfg            *config.GamesConfig
	engine         *engine.Engine
	accountService *service.AccountService
	cooldowns      *cooldown.Store
	sicbo          *sicbo.Game
	dice           *dice.DiceGame
	now            func() time.Time
	landing        time.Duration
}

// NewGameHandler creates a new GameHandler.
func NewGameHandler(
	cfg *config.GamesConfig,
	eng *engine.Engine,
	accountService *service.AccountService,
	cooldowns *cooldown.Store,
	sicboGame *sicbo.Game,
	diceGame *dice.DiceGame,
) *GameHandler {
	return &GameHandler{
		cfg:            cfg,
		engine:         eng,
		accountService: accountService,
		cooldowns:      cooldowns,
		sicbo:          sicboGame,
		dice:           diceGame,
		now:            time.Now,
		landing:        diceAnimation,
	}
}

// HandleGames handles the /games command.
func (h *GameHandler) HandleGames(c tele.Context) error {
	msg := "🎮 游戏列表\n"
	msg += separator + "\n"
	for _, m := range h.engine.Games().List() {
		title, ok := gameTitles[m.Type()]
		if !ok {
			title = m.Name()
		}
		msg += fmt.Sprintf("%s (%s)\n%s\n\n", title, m.Name(), m.Description())
	}
	msg += "/bj <金额> | /crash <金额> | /sicbo | /dice <金额>\n"
	msg += separator
	return c.Reply(msg)
}

func (h *GameHandler) start(c tele.Context, gameType string, stake int64, params map[string]any) (engine.View, error) {
	community, player, _ := identify(c)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return h.engine.Start(ctx, engine.Command{
		Community: community,
		Player:    player,
		GameType:  gameType,
		Stake:     stake,
		Params:    params,
		Target:    c.Chat(),
	})
}

func (h *GameHandler) act(key session.Key, player, name string, stake int64, params map[string]any) (engine.View, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return h.engine.Act(ctx, engine.Action{Key: key, Player: player, Name: name, Stake: stake, Params: params})
}

// stakeArg parses the first argument as a stake.
func stakeArg(c tele.Context) (int64, bool) {
	args := c.Args()
	if len(args) < 1 {
		return 0, false
	}
	amount, err := parseAmount(args[0])
	return amount, err == nil
}

// HandleBlackjack handles the /bj command.
// Format: /bj <amount>
func (h *GameHandler) HandleBlackjack(c tele.Context) error {
	if _, _, ok := identify(c); !ok {
		return nil
	}
	bet, ok := stakeArg(c)
	if !ok {
		return c.Reply(fmt.Sprintf("❌ 用法: /bj <金额>\n下注范围: %d - %d", h.cfg.Blackjack.MinBet, h.cfg.Blackjack.MaxBet))
	}

	view, err := h.start(c, "blackjack", bet, nil)
	if err != nil {
		return c.Reply(stakeError(err, h.cfg.Blackjack.MinBet, h.cfg.Blackjack.MaxBet))
	}
	if view.Resolved() {
		return nil
	}
	return c.Reply(blackjackText(view), blackjackMarkup(view.Session.Owner))
}

// HandleHit handles the /hit command.
func (h *GameHandler) HandleHit(c tele.Context) error {
	return h.blackjackCommand(c, blackjack.ActionHit)
}

// HandleStand handles the /stand command.
func (h *GameHandler) HandleStand(c tele.Context) error {
	return h.blackjackCommand(c, blackjack.ActionStand)
}

func (h *GameHandler) blackjackCommand(c tele.Context, action string) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	view, err := h.act(session.Key{Community: community, Player: player}, player, action, 0, nil)
	if err != nil {
		return c.Reply(errorText(err))
	}
	if view.Resolved() {
		return nil
	}
	return c.Reply(blackjackText(view), blackjackMarkup(player))
}

// HandleBlackjackCallback handles the hit and stand buttons. The button
// carries the owner so other players get a refusal instead of acting on
// their own hand.
func (h *GameHandler) HandleBlackjackCallback(c tele.Context) error {
	cb := c.Callback()
	community, player, ok := identify(c)
	if cb == nil || !ok {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(CallbackData(cb), BlackjackCallbackPrefix), "_")
	if len(parts) != 2 {
		return c.Respond(&tele.CallbackResponse{Text: "❌ 无效操作"})
	}

	view, err := h.act(session.Key{Community: community, Player: parts[1]}, player, parts[0], 0, nil)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: errorText(err), ShowAlert: true})
	}
	if view.Resolved() {
		if _, err := c.Bot().EditReplyMarkup(cb.Message, nil); err != nil {
			log.Debug().Err(err).Msg("Failed to clear blackjack buttons")
		}
		return c.Respond(&tele.CallbackResponse{Text: "✅ 本局结束"})
	}
	if _, err := c.Bot().Edit(cb.Message, blackjackText(view), blackjackMarkup(parts[1])); err != nil {
		log.Debug().Err(err).Msg("Failed to update blackjack hand")
	}
	return c.Respond(&tele.CallbackResponse{})
}

func blackjackText(view engine.View) string {
	d := view.Display
	return fmt.Sprintf(
		"🃏 21点 | 押注 %d\n"+
			separator+"\n"+
			"🤵 庄家牌: %v (%v)\n"+
			"🙋 你的牌: %v (%v)\n"+
			separator+"\n"+
			"要牌 /hit | 停牌 /stand",
		view.Session.Stake, d["dealer"], d["dealer_total"], d["player"], d["player_total"],
	)
}

func blackjackMarkup(owner string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.InlineKeyboard = [][]tele.InlineButton{{
		{Text: "🂠 要牌", Data: BlackjackCallbackPrefix + blackjack.ActionHit + "_" + owner},
		{Text: "✋ 停牌", Data: BlackjackCallbackPrefix + blackjack.ActionStand + "_" + owner},
	}}
	return markup
}

// HandleCrash handles the /crash command.
// Format: /crash <amount>
func (h *GameHandler) HandleCrash(c tele.Context) error {
	if _, _, ok := identify(c); !ok {
		return nil
	}
	bet, ok := stakeArg(c)
	if !ok {
		return c.Reply(fmt.Sprintf("❌ 用法: /crash <金额>\n下注范围: %d - %d", h.cfg.Crash.MinBet, h.cfg.Crash.MaxBet))
	}

	view, err := h.start(c, "crash", bet, nil)
	if err != nil {
		return c.Reply(stakeError(err, h.cfg.Crash.MinBet, h.cfg.Crash.MaxBet))
	}
	if view.Resolved() {
		return nil
	}
	return c.Reply(crashText(view), crashMarkup(view.Session.Owner))
}

// HandleCrashStatus handles the /crash_status command.
func (h *GameHandler) HandleCrashStatus(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	view, err := h.engine.Get(session.Key{Community: community, Player: player})
	if err != nil || view.Session.GameType != "crash" {
		return c.Reply("❌ 没有进行中的爆点游戏")
	}
	return c.Reply(crashText(view), crashMarkup(player))
}

// HandleCashOut handles the /cashout command.
func (h *GameHandler) HandleCashOut(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	if _, err := h.act(session.Key{Community: community, Player: player}, player, crash.ActionCashOut, 0, nil); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return c.Reply("💥 没有进行中的爆点游戏，可能已经爆了")
		}
		return c.Reply(errorText(err))
	}
	return nil
}

// HandleCrashCallback handles the cash-out button.
func (h *GameHandler) HandleCrashCallback(c tele.Context) error {
	cb := c.Callback()
	community, player, ok := identify(c)
	if cb == nil || !ok {
		return nil
	}
	owner := strings.TrimPrefix(CallbackData(cb), CrashCallbackPrefix+crash.ActionCashOut+"_")

	if _, err := h.act(session.Key{Community: community, Player: owner}, player, crash.ActionCashOut, 0, nil); err != nil {
		text := errorText(err)
		if errors.Is(err, session.ErrSessionNotFound) {
			text = "💥 本局已结束"
		}
		return c.Respond(&tele.CallbackResponse{Text: text, ShowAlert: true})
	}
	if _, err := c.Bot().EditReplyMarkup(cb.Message, nil); err != nil {
		log.Debug().Err(err).Msg("Failed to clear crash button")
	}
	return c.Respond(&tele.CallbackResponse{Text: "💸 已提现"})
}

func crashText(view engine.View) string {
	d := view.Display
	return fmt.Sprintf(
		"🚀 爆点 | 押注 %d\n"+
			separator+"\n"+
			"📈 当前倍数: %v\n"+
			"💰 现在提现可得: %v\n"+
			separator+"\n"+
			"随时发送 /cashout 提现，爆了就全没了",
		view.Session.Stake, d["multiplier"], d["value"],
	)
}

func crashMarkup(owner string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.InlineKeyboard = [][]tele.InlineButton{{
		{Text: "💸 提现", Data: CrashCallbackPrefix + crash.ActionCashOut + "_" + owner},
	}}
	return markup
}

// HandleSicBoStart handles the /sicbo command and opens the chat's betting
// round. The engine settles it when the window closes.
func (h *GameHandler) HandleSicBoStart(c tele.Context) error {
	chat := c.Chat()
	if _, _, ok := identify(c); !ok {
		return nil
	}
	if chat.Type == tele.ChatPrivate {
		return c.Reply("❌ 骰宝游戏只能在群组中进行")
	}

	view, err := h.start(c, "sicbo", 0, nil)
	if errors.Is(err, session.ErrSessionConflict) {
		current, gerr := h.engine.Get(session.Key{Community: CommunityID(chat)})
		if gerr != nil || current.Session.GameType != "sicbo" {
			return c.Reply("❌ 当前已有进行中的游戏")
		}
		return c.Reply(h.sicboPanel(current), sicbo.NewKeyboardBuilder().BuildMainPanel())
	}
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chat.ID).Msg("Failed to start sicbo")
		return c.Reply("❌ 启动游戏失败，请稍后重试")
	}

	return c.Reply(h.sicboPanel(view), sicbo.NewKeyboardBuilder().BuildMainPanel())
}

// HandleSicBoSettle handles the /sicbo_settle command and settles the round
// early.
func (h *GameHandler) HandleSicBoSettle(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	if _, err := h.act(session.Key{Community: community}, player, sicbo.ActionSettle, 0, nil); err != nil {
		return c.Reply(errorText(err))
	}
	return nil
}

// HandleMyBets handles the /mybets command.
func (h *GameHandler) HandleMyBets(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	return c.Reply(h.myBets(community, player))
}

func (h *GameHandler) myBets(community, player string) string {
	view, err := h.engine.Get(session.Key{Community: community})
	if err != nil {
		return "❌ 当前没有进行中的骰宝游戏"
	}
	st, ok := view.Session.State.(sicbo.State)
	if !ok {
		return "❌ 当前没有进行中的骰宝游戏"
	}
	return sicbo.FormatMyBets(st.PlayerBets(player))
}

// HandleSicBoCallback handles SicBo inline button callbacks.
func (h *GameHandler) HandleSicBoCallback(c tele.Context) error {
	cb := c.Callback()
	community, player, ok := identify(c)
	if cb == nil || !ok {
		return nil
	}
	key := session.Key{Community: community}

	action, param := sicbo.DecodeCallback(CallbackData(cb))
	switch action {
	case "":
		return c.Respond(&tele.CallbackResponse{Text: "❌ 无效操作"})
	case "mybets":
		return c.Respond(&tele.CallbackResponse{Text: h.myBets(community, player), ShowAlert: true})
	case sicbo.ActionSettle:
		if _, err := h.act(key, player, sicbo.ActionSettle, 0, nil); err != nil {
			return c.Respond(&tele.CallbackResponse{Text: h.sicboError(err), ShowAlert: true})
		}
		if _, err := c.Bot().EditReplyMarkup(cb.Message, nil); err != nil {
			log.Debug().Err(err).Msg("Failed to clear sicbo panel")
		}
		return c.Respond(&tele.CallbackResponse{Text: "🎲 开奖中..."})
	}

	option := sicbo.CallbackOption(action, param)
	if option == "" {
		return c.Respond(&tele.CallbackResponse{Text: "❌ 无效操作"})
	}
	view, err := h.act(key, player, sicbo.ActionBet, h.sicbo.BetAmount(), map[string]any{"option": option})
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: h.sicboError(err), ShowAlert: true})
	}

	if _, err := c.Bot().Edit(cb.Message, h.sicboPanel(view), sicbo.NewKeyboardBuilder().BuildMainPanel()); err != nil {
		log.Debug().Err(err).Msg("Failed to update sicbo panel")
	}
	return c.Respond(&tele.CallbackResponse{Text: fmt.Sprintf("✅ 已下注 %d 金币", h.sicbo.BetAmount())})
}

func (h *GameHandler) sicboError(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return "❌ 游戏已结束"
	case errors.Is(err, sicbo.ErrBettingEnded):
		return "❌ 下注已截止"
	default:
		return errorText(err)
	}
}

func (h *GameHandler) sicboPanel(view engine.View) string {
	remaining, _ := view.Display["remaining"].(int)
	players, _ := view.Display["players"].(int)
	total, _ := view.Display["total"].(int64)
	return sicbo.FormatPanelMessage(remaining, players, total, h.sicbo.BetAmount())
}

// HandleDice handles the /dice command. The roll comes from Telegram's
// animated dice when they can be sent.
// Format: /dice <amount>
func (h *GameHandler) HandleDice(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	bet, ok := stakeArg(c)
	if !ok {
		return c.Reply("❌ 用法: /dice <金额>\n例如: /dice 100")
	}
	if err := h.dice.ValidateStake(bet); err != nil {
		return c.Reply(fmt.Sprintf("❌ 最大下注金额为 %d", h.dice.MaxBet()))
	}
	if h.accountService.GetBalance(community, player) < bet {
		return c.Reply("❌ 余额不足")
	}

	gate := h.cooldowns.Gate(community, player, activityDice, h.now(), h.dice.Cooldown())
	if !gate.OK {
		return c.Reply(fmt.Sprintf("⏰ 请等待 %s后再玩", formatDuration(gate.Remaining)))
	}

	params := h.throwDice(c)
	if _, err := h.start(c, "dice", bet, params); err != nil {
		return c.Reply(errorText(err))
	}
	return nil
}

// throwDice sends two animated dice and waits for them to land. It returns
// nil when they cannot be sent and the game rolls its own.
func (h *GameHandler) throwDice(c tele.Context) map[string]any {
	var values []int
	for i := 0; i < 2; i++ {
		msg, err := c.Bot().Send(c.Chat(), tele.Cube)
		if err != nil || msg == nil || msg.Dice == nil {
			log.Debug().Err(err).Msg("Failed to send dice, rolling locally")
			return nil
		}
		values = append(values, msg.Dice.Value)
	}
	time.Sleep(h.landing)
	return map[string]any{"dice1": values[0], "dice2": values[1]}
}

// stakeError explains a rejected stake with the table limits.
func stakeError(err error, minBet, maxBet int64) string {
	if errors.Is(err, game.ErrInvalidStake) {
		return fmt.Sprintf("❌ 下注金额需在 %d - %d 之间", minBet, maxBet)
	}
	return errorText(err)
}
