package handler

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v3"

	"wagerbot/internal/engine"
	"wagerbot/internal/ledger"
	"wagerbot/internal/service"
)

var errAdminUsage = errors.New("❌ 用法: /命令 <用户ID> <金额>\n或回复对方消息: /命令 <金额>")

// AdminHandler handles admin-related commands. The admin middleware has
// already checked the sender.
type AdminHandler struct {
	accountService *service.AccountService
	engine         *engine.Engine
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accountService *service.AccountService, eng *engine.Engine) *AdminHandler {
	return &AdminHandler{accountService: accountService, engine: eng}
}

// HandleAdminAdd handles the /admin_add command.
// Format: /admin_add <user_id> <amount>
func (h *AdminHandler) HandleAdminAdd(c tele.Context) error {
	return h.adjust(c, 1, "➕ 添加")
}

// HandleAdminSub handles the /admin_sub command. The balance stops at zero.
// Format: /admin_sub <user_id> <amount>
func (h *AdminHandler) HandleAdminSub(c tele.Context) error {
	return h.adjust(c, -1, "➖ 扣除")
}

func (h *AdminHandler) adjust(c tele.Context, sign int64, label string) error {
	community, admin, ok := identify(c)
	if !ok {
		return nil
	}
	target, amount, err := parseAdminArgs(c)
	if err != nil {
		return c.Reply(err.Error())
	}
	if amount <= 0 {
		return c.Reply("❌ 金额必须大于 0")
	}

	res, err := h.accountService.AdminAdd(community, target, sign*amount, admin)
	if err != nil {
		return c.Reply(errorText(err))
	}

	return c.Reply(fmt.Sprintf(
		"✅ 操作成功\n\n"+
			"👤 用户ID: %s\n"+
			"%s: %d 金币\n"+
			"💰 当前余额: %d 金币",
		target, label, absInt64(res.Transaction.AmountDelta), res.Balance,
	))
}

// HandleAdminSet handles the /admin_set command.
// Format: /admin_set <user_id> <amount>
func (h *AdminHandler) HandleAdminSet(c tele.Context) error {
	community, admin, ok := identify(c)
	if !ok {
		return nil
	}
	target, amount, err := parseAdminArgs(c)
	if err != nil {
		return c.Reply(err.Error())
	}

	res, err := h.accountService.AdminSet(community, target, amount, admin)
	if err != nil {
		if errors.Is(err, ledger.ErrNegativeBalance) {
			return c.Reply("❌ 余额不能为负数")
		}
		return c.Reply(errorText(err))
	}

	return c.Reply(fmt.Sprintf(
		"✅ 操作成功\n\n"+
			"👤 用户ID: %s\n"+
			"💰 余额已设置为: %d 金币",
		target, res.Balance,
	))
}

// HandleSessions handles the /admin_sessions command and lists the live
// sessions of the chat.
func (h *AdminHandler) HandleSessions(c tele.Context) error {
	community, _, ok := identify(c)
	if !ok {
		return nil
	}

	msg := "🎮 进行中的游戏\n"
	msg += separator + "\n"
	n := 0
	for _, s := range h.engine.Sessions().List() {
		if s.Key.Community != community {
			continue
		}
		n++
		msg += fmt.Sprintf("• %s %s | 玩家 %s | 押注 %d | %s\n",
			s.GameType, s.Phase(), s.Owner, s.Stake, s.CreatedAt.Format(time.TimeOnly))
	}
	if n == 0 {
		msg += "暂无\n"
	}
	msg += separator

	return c.Reply(msg)
}

// parseAdminArgs reads "<user_id> <amount>", or "<amount>" in reply to the
// target's message.
func parseAdminArgs(c tele.Context) (string, int64, error) {
	args := c.Args()
	msg := c.Message()

	var target, amountArg string
	switch {
	case len(args) >= 2:
		if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
			return "", 0, errors.New("❌ 用户ID格式错误")
		}
		target, amountArg = args[0], args[1]
	case len(args) == 1 && msg != nil && msg.ReplyTo != nil && msg.ReplyTo.Sender != nil:
		target, amountArg = PlayerID(msg.ReplyTo.Sender), args[0]
	default:
		return "", 0, errAdminUsage
	}

	amount, err := strconv.ParseInt(amountArg, 10, 64)
	if err != nil {
		return "", 0, errors.New("❌ 金额格式错误")
	}
	return target, amount, nil
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
