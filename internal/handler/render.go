package handler

import (
	"fmt"
	"sort"
	"strings"

	"wagerbot/internal/game"
	"wagerbot/internal/game/sicbo"
	"wagerbot/internal/notify"
)

const separator = "━━━━━━━━━━━━━━━"

var gameTitles = map[string]string{
	"blackjack": "🃏 21点",
	"crash":     "🚀 爆点",
	"sicbo":     "🎰 骰宝",
	"dice":      "🎲 骰子",
}

var resultTexts = map[string]string{
	game.ResultWin:     "🎉 你赢了！",
	game.ResultLoss:    "😢 你输了",
	game.ResultPush:    "😐 平局，退还本金",
	game.ResultRefund:  "↩️ 本局取消，已退还本金",
	game.ResultTimeout: "⏰ 本局超时",
	game.ResultSettled: "✅ 已结算",
}

// RenderEvent formats a resolved session for the chat. names maps player
// IDs to usernames and may be nil.
func RenderEvent(ev notify.Event, names map[string]string) string {
	if ev.GameType == "sicbo" {
		if msg, ok := renderSicBo(ev, names); ok {
			return msg
		}
	}

	var b strings.Builder
	title, ok := gameTitles[ev.GameType]
	if !ok {
		title = "🎮 " + ev.GameType
	}
	b.WriteString(title)
	switch ev.Kind {
	case notify.KindTimeout:
		b.WriteString(" · 超时结算")
	case notify.KindRecovered:
		b.WriteString(" · 重启后结算")
	}
	b.WriteString("\n" + separator + "\n")
	if ev.Owner != "" {
		fmt.Fprintf(&b, "👤 %s\n", nameOr(names, ev.Owner))
	}

	d := ev.Details
	switch ev.GameType {
	case "blackjack":
		if d["player"] != nil {
			fmt.Fprintf(&b, "🙋 你的牌: %v (%v)\n", d["player"], d["player_total"])
			fmt.Fprintf(&b, "🤵 庄家牌: %v (%v)\n", d["dealer"], d["dealer_total"])
		}
		if natural, _ := d["natural"].(bool); natural {
			b.WriteString("✨ 黑杰克！\n")
		}
	case "crash":
		if d["crash_at"] != nil {
			fmt.Fprintf(&b, "📈 倍数: %v | 💥 爆点: %v\n", d["multiplier"], d["crash_at"])
		}
	case "dice":
		if d["total"] != nil {
			fmt.Fprintf(&b, "🎲 %v + %v = %v\n", d["dice1"], d["dice2"], d["total"])
		}
	default:
		if ev.Summary != "" {
			b.WriteString(ev.Summary + "\n")
		}
	}

	if text, ok := resultTexts[ev.Result]; ok {
		b.WriteString(text + "\n")
	}
	b.WriteString(separator)

	for _, p := range ev.Payouts {
		net := p.Amount - p.Stake
		if len(ev.Payouts) == 1 && p.Player == ev.Owner {
			fmt.Fprintf(&b, "\n💰 %s 金币 | 余额: %d", signed(net), p.Balance)
			continue
		}
		fmt.Fprintf(&b, "\n%s %s 金币 | 余额: %d", nameOr(names, p.Player), signed(net), p.Balance)
	}
	return b.String()
}

// renderSicBo formats a settled round with the table's own layout. ok is
// false when the event carries no roll, such as a refunded round.
func renderSicBo(ev notify.Event, names map[string]string) (string, bool) {
	dice, ok := ev.Details["dice"].([3]int)
	if !ok {
		return "", false
	}
	net, _ := ev.Details["net"].(map[string]int64)

	results := make([]sicbo.PlayerResult, 0, len(net))
	for p, n := range net {
		results = append(results, sicbo.PlayerResult{Player: p, Name: names[p], Net: n})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Net != results[j].Net {
			return results[i].Net > results[j].Net
		}
		return results[i].Player < results[j].Player
	})

	msg := sicbo.FormatSettlementMessage(dice, results)
	if ev.Kind == notify.KindRecovered {
		msg = "♻️ 重启后结算\n" + msg
	}
	return msg, true
}

// EventPlayers lists every player an event mentions, for name lookups.
func EventPlayers(ev notify.Event) []string {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(ev.Owner)
	for _, p := range ev.Payouts {
		add(p.Player)
	}
	if net, ok := ev.Details["net"].(map[string]int64); ok {
		for p := range net {
			add(p)
		}
	}
	sort.Strings(out)
	return out
}
