package handler

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"wagerbot/internal/game"
	"wagerbot/internal/notify"
)

func TestRenderEvent(t *testing.T) {
	names := map[string]string{"1": "alice", "2": "bob"}

	tests := []struct {
		name     string
		ev       notify.Event
		contains []string
		absent   []string
	}{
		{
			name: "blackjack win",
			ev: notify.Event{
				Kind: notify.KindResolved, GameType: "blackjack", Owner: "1", Result: game.ResultWin,
				Details: map[string]any{"player": "K♠ 9♥", "player_total": 19, "dealer": "10♦ 8♣", "dealer_total": 18},
				Payouts: []notify.Payout{{Player: "1", Stake: 100, Amount: 200, Balance: 1100}},
			},
			contains: []string{"🃏 21点", "@alice", "K♠ 9♥ (19)", "10♦ 8♣ (18)", "🎉 你赢了！", "+100 金币 | 余额: 1100"},
			absent:   []string{"超时"},
		},
		{
			name: "blackjack timeout refund",
			ev: notify.Event{
				Kind: notify.KindTimeout, GameType: "blackjack", Owner: "1", Result: game.ResultTimeout,
				Payouts: []notify.Payout{{Player: "1", Stake: 100, Amount: 100, Balance: 1000}},
			},
			contains: []string{"超时结算", "⏰ 本局超时", "0 金币 | 余额: 1000"},
		},
		{
			name: "crash loss",
			ev: notify.Event{
				Kind: notify.KindResolved, GameType: "crash", Owner: "2", Result: game.ResultLoss,
				Details: map[string]any{"multiplier": "1.52x", "crash_at": "1.52x"},
				Payouts: []notify.Payout{{Player: "2", Stake: 50, Balance: 950}},
			},
			contains: []string{"🚀 爆点", "@bob", "💥 爆点: 1.52x", "😢 你输了", "-50 金币 | 余额: 950"},
		},
		{
			name: "dice push for unknown name",
			ev: notify.Event{
				Kind: notify.KindResolved, GameType: "dice", Owner: "7", Result: game.ResultPush,
				Details: map[string]any{"dice1": 3, "dice2": 4, "total": 7},
				Payouts: []notify.Payout{{Player: "7", Stake: 10, Amount: 10, Balance: 500}},
			},
			contains: []string{"🎲 3 + 4 = 7", "User7", "😐 平局"},
		},
		{
			name: "recovered refund of a game without layout",
			ev: notify.Event{
				Kind: notify.KindRecovered, GameType: "roulette", Owner: "1", Result: game.ResultRefund,
				Summary: "Session could not be resumed, stakes are returned.",
				Payouts: []notify.Payout{{Player: "1", Stake: 30, Amount: 30, Balance: 30}},
			},
			contains: []string{"🎮 roulette", "重启后结算", "Session could not be resumed", "↩️"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := RenderEvent(tt.ev, names)
			for _, s := range tt.contains {
				assert.Contains(t, msg, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, msg, s)
			}
		})
	}
}

func TestRenderEvent_SicBo(t *testing.T) {
	ev := notify.Event{
		Kind:     notify.KindTimeout,
		GameType: "sicbo",
		Owner:    "1",
		Result:   game.ResultSettled,
		Details: map[string]any{
			"dice": [3]int{4, 5, 6},
			"net":  map[string]int64{"1": 100, "2": -200, "3": 0},
		},
		At: time.Now(),
	}

	msg := RenderEvent(ev, map[string]string{"1": "alice"})
	assert.Contains(t, msg, "🎰 骰宝结算")
	assert.Contains(t, msg, "= 15 (大)")
	assert.Contains(t, msg, "🎉 @alice +100")
	assert.Contains(t, msg, "😢 @2 -200")
	assert.Contains(t, msg, "😐 @3 ±0")
	// Winners are listed first.
	assert.Less(t, strings.Index(msg, "@alice"), strings.Index(msg, "@2"))
}

func TestRenderEvent_SicBoRefundFallsBack(t *testing.T) {
	ev := notify.Event{
		Kind: notify.KindRecovered, GameType: "sicbo", Owner: "1", Result: game.ResultRefund,
		Payouts: []notify.Payout{
			{Player: "1", Stake: 100, Amount: 100, Balance: 900},
			{Player: "2", Stake: 200, Amount: 200, Balance: 300},
		},
	}

	msg := RenderEvent(ev, map[string]string{"2": "bob"})
	assert.Contains(t, msg, "🎰 骰宝")
	assert.Contains(t, msg, "User1 0 金币 | 余额: 900")
	assert.Contains(t, msg, "@bob 0 金币 | 余额: 300")
}

func TestEventPlayers(t *testing.T) {
	ev := notify.Event{
		Owner:   "3",
		Payouts: []notify.Payout{{Player: "1"}, {Player: "3"}},
		Details: map[string]any{"net": map[string]int64{"2": -100, "1": 50}},
	}
	assert.Equal(t, []string{"1", "2", "3"}, EventPlayers(ev))
	assert.Empty(t, EventPlayers(notify.Event{}))
}
