package sicbo

import (
	"fmt"
	"sort"
	"strings"

	tele "gopkg.in/telebot.v3"
)

const (
	// CallbackPrefix is the prefix for all SicBo callback data
	CallbackPrefix = "sicbo_"
)

// SingleNumbers are the numbers available for single number bets
var SingleNumbers = []int{1, 2, 3, 4, 5, 6}

// KeyboardBuilder builds Telegram inline keyboards for SicBo game.
type KeyboardBuilder struct{}

// NewKeyboardBuilder creates a new KeyboardBuilder instance.
func NewKeyboardBuilder() *KeyboardBuilder {
	return &KeyboardBuilder{}
}

// EncodeCallback encodes an action and parameter into callback data.
func EncodeCallback(action string, param string) string {
	if param != "" {
		return fmt.Sprintf("%s%s_%s", CallbackPrefix, action, param)
	}
	return fmt.Sprintf("%s%s", CallbackPrefix, action)
}

// DecodeCallback decodes callback data into action and parameter.
func DecodeCallback(data string) (action string, param string) {
	if !strings.HasPrefix(data, CallbackPrefix) {
		return "", ""
	}

	content := strings.TrimPrefix(data, CallbackPrefix)
	parts := strings.SplitN(content, "_", 2)
	action = parts[0]
	if len(parts) > 1 {
		param = parts[1]
	}
	return action, param
}

// CallbackOption turns decoded callback data into a bet option accepted by
// ParseOption. It returns "" for non-bet buttons.
func CallbackOption(action, param string) string {
	switch action {
	case string(BetTypeBig), string(BetTypeSmall):
		return action
	case string(BetTypeSingle):
		return "single_" + param
	default:
		return ""
	}
}

// BuildMainPanel builds the main betting panel keyboard.
// Layout:
//   - Row 1: [押大] [押小]
//   - Row 2: [押1] [押2] [押3]
//   - Row 3: [押4] [押5] [押6]
//   - Row 4: [我的押注] [开奖]
func (kb *KeyboardBuilder) BuildMainPanel() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	bigSmallRow := []tele.InlineButton{
		{Text: "押大", Data: EncodeCallback("big", "")},
		{Text: "押小", Data: EncodeCallback("small", "")},
	}

	var singleRow1, singleRow2 []tele.InlineButton
	for _, n := range SingleNumbers {
		btn := tele.InlineButton{
			Text: fmt.Sprintf("押%d", n),
			Data: EncodeCallback("single", fmt.Sprintf("%d", n)),
		}
		if n <= 3 {
			singleRow1 = append(singleRow1, btn)
		} else {
			singleRow2 = append(singleRow2, btn)
		}
	}

	controlRow := []tele.InlineButton{
		{Text: "我的押注", Data: EncodeCallback("mybets", "")},
		{Text: "开奖", Data: EncodeCallback("settle", "")},
	}

	markup.InlineKeyboard = [][]tele.InlineButton{
		bigSmallRow,
		singleRow1,
		singleRow2,
		controlRow,
	}

	return markup
}

// FormatPanelMessage formats the betting panel message.
func FormatPanelMessage(remainingTime int, playerCount int, totalBetAmount int64, betAmount int64) string {
	msg := "🎲 骰宝 - 下注中\n"
	msg += fmt.Sprintf("⏰ 剩余 %d 秒 | 👥 %d 人 | 💰 %d\n", remainingTime, playerCount, totalBetAmount)
	msg += "\n"
	msg += fmt.Sprintf("点击按钮下注 (每次 %d 金币)", betAmount)
	return msg
}

// PlayerResult represents a player's net result in a settled round.
type PlayerResult struct {
	Player string
	Name   string
	Net    int64
}

// Results builds per-player net results from a settled state, sorted by
// player ID. names maps player IDs to display names and may be nil.
func Results(st State, names map[string]string) []PlayerResult {
	net := make(map[string]int64)
	for _, b := range st.Bets {
		betType, number, err := ParseOption(b.Option)
		if err != nil {
			continue
		}
		net[b.Player] += CalculatePayout(betType, number, st.Dice, b.Amount)
	}
	out := make([]PlayerResult, 0, len(net))
	for p, n := range net {
		out = append(out, PlayerResult{Player: p, Name: names[p], Net: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Player < out[j].Player })
	return out
}

// FormatSettlementMessage formats the settlement result message.
func FormatSettlementMessage(dice [3]int, results []PlayerResult) string {
	diceStr := fmt.Sprintf("🎲%d 🎲%d 🎲%d", dice[0], dice[1], dice[2])
	total := Sum(dice)

	msg := "🎰 骰宝结算\n"
	msg += "━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("骰子: %s = %d", diceStr, total)

	if IsTriple(dice) {
		msg += " (围骰)\n"
	} else if total >= 11 {
		msg += " (大)\n"
	} else {
		msg += " (小)\n"
	}

	msg += "━━━━━━━━━━━━━━━\n"

	if len(results) == 0 {
		msg += "本局无人下注\n"
	} else {
		for _, result := range results {
			displayName := result.Name
			if displayName == "" {
				displayName = result.Player
			}
			if !strings.HasPrefix(displayName, "@") {
				displayName = "@" + displayName
			}

			if result.Net > 0 {
				msg += fmt.Sprintf("🎉 %s +%d\n", displayName, result.Net)
			} else if result.Net < 0 {
				msg += fmt.Sprintf("😢 %s %d\n", displayName, result.Net)
			} else {
				msg += fmt.Sprintf("😐 %s ±0\n", displayName)
			}
		}
	}

	msg += "━━━━━━━━━━━━━━━\n"
	msg += "游戏结束"

	return msg
}

// FormatMyBets formats a user's bet list.
func FormatMyBets(bets map[string]int64) string {
	if len(bets) == 0 {
		return "您还没有下注"
	}

	keys := make([]string, 0, len(bets))
	for key := range bets {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	msg := "📋 您的押注:\n"
	msg += "━━━━━━━━━━━━━━━\n"

	var totalAmount int64
	for _, key := range keys {
		msg += fmt.Sprintf("• %s: %d 金币\n", formatBetKey(key), bets[key])
		totalAmount += bets[key]
	}

	msg += "━━━━━━━━━━━━━━━\n"
	msg += fmt.Sprintf("💰 总计: %d 金币", totalAmount)

	return msg
}

// formatBetKey converts a bet key to a display name.
func formatBetKey(key string) string {
	switch key {
	case "big":
		return "大"
	case "small":
		return "小"
	default:
		var num int
		if _, err := fmt.Sscanf(key, "single_%d", &num); err == nil {
			return fmt.Sprintf("单一数字 %d", num)
		}
		return key
	}
}
