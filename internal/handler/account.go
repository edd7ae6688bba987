package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wagerbot/internal/model"
	"wagerbot/internal/service"
)

const (
	topLimit     = 10
	historyLimit = 10
)

// AccountHandler handles account and ranking commands.
type AccountHandler struct {
	accountService *service.AccountService
	rankingService *service.RankingService
	names          Directory
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService, rankingService *service.RankingService, names Directory) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		rankingService: rankingService,
		names:          names,
	}
}

// HandleStart handles the /start command. The player middleware has already
// funded a new account.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	username := DisplayName(c.Sender())
	balance := h.accountService.GetBalance(community, player)

	if created, _ := c.Get(CreatedKey).(bool); created {
		return c.Reply(fmt.Sprintf(
			"🎉 欢迎 @%s！\n\n"+
				"您的账户已创建，初始金币: %d\n\n"+
				"可用命令:\n"+
				"/balance - 查看余额\n"+
				"/daily - 每日签到\n"+
				"/top - 富豪榜\n"+
				"/games - 游戏列表\n"+
				"/bj <金额> - 21点\n"+
				"/crash <金额> - 爆点\n"+
				"/sicbo - 骰宝\n"+
				"/dice <金额> - 骰子\n"+
				"/pay @用户 <金额> - 转账",
			username, balance,
		))
	}

	return c.Reply(fmt.Sprintf(
		"👋 欢迎回来 @%s！\n\n"+
			"当前余额: %d 金币",
		username, balance,
	))
}

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	return c.Reply(fmt.Sprintf("💰 当前余额: %d 金币", h.accountService.GetBalance(community, player)))
}

// HandleMy handles the /my command.
func (h *AccountHandler) HandleMy(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	dailyProfit, err := h.rankingService.GetPlayerDailyProfit(ctx, community, player)
	if err != nil {
		log.Warn().Err(err).Str("player", player).Msg("Failed to get daily profit")
	}

	return c.Reply(fmt.Sprintf(
		"📊 账户信息\n"+
			separator+"\n"+
			"👤 用户: @%s\n"+
			"💰 余额: %d 金币\n"+
			"📈 今日盈亏: %s\n"+
			separator,
		DisplayName(c.Sender()), h.accountService.GetBalance(community, player), signed(dailyProfit),
	))
}

// HandleDaily handles the /daily command.
func (h *AccountHandler) HandleDaily(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}

	res, err := h.accountService.ClaimDaily(community, player)
	if errors.Is(err, service.ErrDailyAlreadyClaimed) {
		return c.Reply(fmt.Sprintf("⏰ 今天已经签到过了，%s后可再次签到", formatDuration(res.Remaining)))
	}
	if err != nil {
		log.Error().Err(err).Str("player", player).Msg("Failed to claim daily reward")
		return c.Reply("❌ 签到失败，请稍后重试")
	}

	return c.Reply(fmt.Sprintf("✅ 签到成功！获得 %d 金币\n💰 当前余额: %d 金币", res.Reward, res.Balance))
}

// HandleTop handles the /top command.
func (h *AccountHandler) HandleTop(c tele.Context) error {
	community, _, ok := identify(c)
	if !ok {
		return nil
	}

	holdings := h.rankingService.GetTopPlayers(community, topLimit)
	if len(holdings) == 0 {
		return c.Reply("📊 暂无排行数据")
	}

	players := make([]string, len(holdings))
	for i, hd := range holdings {
		players[i] = hd.Player
	}
	names := h.lookup(community, players)

	msg := "🏆 富豪榜 TOP 10\n"
	msg += separator + "\n"
	for i, hd := range holdings {
		msg += fmt.Sprintf("%s %s: %d\n", rankLabel(i), nameOr(names, hd.Player), hd.Balance)
	}
	msg += separator

	return c.Reply(msg)
}

// HandleHistory handles the /history command.
// Format: /history [count]
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	community, player, ok := identify(c)
	if !ok {
		return nil
	}
	limit := historyLimit
	if args := c.Args(); len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	txs, err := h.accountService.History(ctx, community, player, limit)
	if err != nil {
		return c.Reply("❌ 获取记录失败，请稍后重试")
	}
	if len(txs) == 0 {
		return c.Reply("📜 暂无交易记录")
	}

	msg := "📜 最近交易\n"
	msg += separator + "\n"
	for _, tx := range txs {
		msg += fmt.Sprintf("%s %s %s → %d\n",
			tx.CreatedAt.Format("01-02 15:04"), kindLabel(tx), signed(tx.AmountDelta), tx.BalanceAfter)
	}
	msg += separator

	return c.Reply(msg)
}

// HandleDailyTop handles the /daily_top command.
func (h *AccountHandler) HandleDailyTop(c tele.Context) error {
	community, _, ok := identify(c)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	winners, err := h.rankingService.GetDailyWinners(ctx, community, 3)
	if err != nil {
		return c.Reply("❌ 获取排行榜失败，请稍后重试")
	}
	losers, err := h.rankingService.GetDailyLosers(ctx, community, 3)
	if err != nil {
		return c.Reply("❌ 获取排行榜失败，请稍后重试")
	}

	var players []string
	for _, r := range append(append([]model.DailyRank{}, winners...), losers...) {
		players = append(players, r.PlayerID)
	}
	names := h.lookup(community, players)
	label := func(r model.DailyRank) string {
		if r.Username != "" {
			return "@" + r.Username
		}
		return nameOr(names, r.PlayerID)
	}

	msg := "📊 今日游戏榜\n"
	msg += separator + "\n"
	msg += "🏆 赢家榜:\n"
	if len(winners) == 0 {
		msg += "暂无数据\n"
	}
	for i, r := range winners {
		msg += fmt.Sprintf("%s %s %s\n", rankLabel(i), label(r), signed(r.NetProfit))
	}
	msg += "\n💸 输家榜:\n"
	if len(losers) == 0 {
		msg += "暂无数据\n"
	}
	for i, r := range losers {
		msg += fmt.Sprintf("%d. %s %s\n", i+1, label(r), signed(r.NetProfit))
	}
	msg += separator

	return c.Reply(msg)
}

func (h *AccountHandler) lookup(community string, players []string) map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	names, err := h.names.Names(ctx, community, players)
	if err != nil {
		log.Warn().Err(err).Str("community", community).Msg("Failed to look up player names")
	}
	return names
}

var kindLabels = map[string]string{
	model.TxKindEscrow:   "下注",
	model.TxKindPayout:   "派彩",
	model.TxKindRefund:   "退款",
	model.TxKindLoss:     "未中",
	model.TxKindClaim:    "奖励",
	model.TxKindTransfer: "转账",
	model.TxKindAdminAdd: "管理调整",
	model.TxKindAdminSet: "管理设置",
}

func kindLabel(tx model.Transaction) string {
	label, ok := kindLabels[tx.Kind]
	if !ok {
		label = tx.Kind
	}
	if tx.Reason != "" && tx.Kind != model.TxKindAdminAdd && tx.Kind != model.TxKindAdminSet {
		label += "(" + tx.Reason + ")"
	}
	return label
}
