package handler

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wagerbot/internal/service"
)

// TransferHandler handles transfer-related commands.
type TransferHandler struct {
	transferService *service.TransferService
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(transferService *service.TransferService) *TransferHandler {
	return &TransferHandler{transferService: transferService}
}

// HandlePay handles the /pay command.
// Format: /pay @username amount, or /pay amount as a reply to the receiver.
func (h *TransferHandler) HandlePay(c tele.Context) error {
	community, sender, ok := identify(c)
	if !ok {
		return nil
	}

	args := c.Args()
	target, amountArg := payTarget(c.Message(), args)
	if amountArg == "" || (target == nil && len(args) < 2) {
		return c.Reply("❌ 用法: /pay @用户名 金额\n例如: /pay @alice 100\n或回复对方消息: /pay 100")
	}
	amount, err := parseAmount(amountArg)
	if err != nil {
		return c.Reply("❌ 金额格式错误，请输入正整数")
	}
	if target == nil {
		name := ""
		if len(args) > 0 {
			name = args[0]
		}
		return c.Reply("❌ 找不到用户 " + name + "\n请确保该用户已使用过本机器人，或回复该用户的消息进行转账")
	}
	if target.IsBot {
		return c.Reply("❌ 不能给机器人转账")
	}

	res, err := h.transferService.Transfer(community, sender, PlayerID(target), amount)
	if err != nil {
		log.Debug().Err(err).Str("from", sender).Int64("to", target.ID).Msg("Transfer rejected")
		return c.Reply(errorText(err))
	}

	return c.Reply(fmt.Sprintf(
		"✅ 转账成功！\n\n"+
			"💸 已向 @%s 转账 %d 金币\n"+
			"💰 当前余额: %d 金币",
		DisplayName(target), res.Amount, res.SenderBalance,
	))
}

// payTarget resolves the receiver and the amount argument. A mention that
// carries a user wins over a replied-to message.
func payTarget(msg *tele.Message, args []string) (*tele.User, string) {
	if msg == nil {
		return nil, ""
	}

	if len(args) >= 2 && strings.HasPrefix(args[0], "@") {
		username := strings.TrimPrefix(args[0], "@")
		for _, e := range msg.Entities {
			if (e.Type == tele.EntityMention || e.Type == tele.EntityTMention) && e.User != nil &&
				(e.Type == tele.EntityTMention || e.User.Username == username) {
				return e.User, args[1]
			}
		}
		if msg.ReplyTo != nil && msg.ReplyTo.Sender != nil && msg.ReplyTo.Sender.Username == username {
			return msg.ReplyTo.Sender, args[1]
		}
		return nil, args[1]
	}

	if len(args) >= 2 {
		// Text mention of a user without a username: "/pay Alice 100"
		for _, e := range msg.Entities {
			if e.Type == tele.EntityTMention && e.User != nil {
				return e.User, args[len(args)-1]
			}
		}
	}

	if len(args) == 1 && msg.ReplyTo != nil && msg.ReplyTo.Sender != nil {
		return msg.ReplyTo.Sender, args[0]
	}
	if len(args) >= 1 {
		return nil, args[len(args)-1]
	}
	return nil, ""
}
