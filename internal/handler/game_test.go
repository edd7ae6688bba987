package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"wagerbot/internal/config"
	"wagerbot/internal/cooldown"
	"wagerbot/internal/engine"
	"wagerbot/internal/game"
	"wagerbot/internal/game/blackjack"
	"wagerbot/internal/game/dice"
	"wagerbot/internal/game/sicbo"
	"wagerbot/internal/ledger"
	"wagerbot/internal/service"
	"wagerbot/internal/session"
)

type apiCall struct {
	Method string
	Params map[string]any
}

// fakeTelegram answers Bot API calls and records them.
type fakeTelegram struct {
	mu    sync.Mutex
	calls []apiCall
	dice  []int
	next  int
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)

	f.mu.Lock()
	defer f.mu.Unlock()
	method := path.Base(r.URL.Path)
	f.calls = append(f.calls, apiCall{Method: method, Params: params})
	f.next++

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "sendDice":
		value := 1
		if len(f.dice) > 0 {
			value, f.dice = f.dice[0], f.dice[1:]
		}
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":-100},"dice":{"emoji":"🎲","value":%d}}}`, f.next, value)
	case "answerCallbackQuery", "editMessageReplyMarkup":
		fmt.Fprint(w, `{"ok":true,"result":true}`)
	default:
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":-100},"text":"ok"}}`, f.next)
	}
}

func (f *fakeTelegram) byMethod(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

type gameFixture struct {
	api      *fakeTelegram
	bot      *tele.Bot
	ledger   *ledger.Ledger
	sessions *session.Registry
	handler  *GameHandler
	chat     *tele.Chat
}

func newGameFixture(t *testing.T, machines ...game.Machine) *gameFixture {
	t.Helper()
	api := &fakeTelegram{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	b, err := tele.NewBot(tele.Settings{URL: srv.URL, Token: "test", Offline: true, Synchronous: true})
	require.NoError(t, err)

	l := ledger.New(ledger.Options{})
	cooldowns := cooldown.NewStore(l, cooldown.Options{})
	sessions := session.NewRegistry(session.Options{})
	t.Cleanup(sessions.Scheduler().Stop)

	games := game.NewRegistry()
	diceGame := dice.New(nil)
	sicboGame := sicbo.New(nil)
	for _, m := range append(machines, diceGame, sicboGame) {
		require.NoError(t, games.Register(m))
	}
	eng := engine.New(l, sessions, games, engine.Options{})
	accounts := service.NewAccountService(l, cooldowns, service.AccountOptions{})

	cfg := &config.GamesConfig{Blackjack: config.BlackjackConfig{MinBet: 10, MaxBet: 5000}}
	h := NewGameHandler(cfg, eng, accounts, cooldowns, sicboGame, diceGame)
	h.landing = 0

	return &gameFixture{
		api:      api,
		bot:      b,
		ledger:   l,
		sessions: sessions,
		handler:  h,
		chat:     &tele.Chat{ID: -100, Type: tele.ChatGroup},
	}
}

func (f *gameFixture) fund(t *testing.T, player string, amount int64) {
	t.Helper()
	_, err := f.ledger.SetBalance("-100", player, amount, ledger.Entry{})
	require.NoError(t, err)
}

func (f *gameFixture) command(user *tele.User, text, payload string) tele.Context {
	return f.bot.NewContext(tele.Update{Message: &tele.Message{
		ID:      1,
		Chat:    f.chat,
		Sender:  user,
		Text:    text,
		Payload: payload,
	}})
}

func (f *gameFixture) callback(user *tele.User, data string) tele.Context {
	return f.bot.NewContext(tele.Update{Callback: &tele.Callback{
		ID:      "cb",
		Sender:  user,
		Message: &tele.Message{ID: 2, Chat: f.chat},
		Data:    data,
	}})
}

func ranks(rs ...blackjack.Rank) blackjack.Option {
	return blackjack.WithShoe(func() []blackjack.Card {
		out := make([]blackjack.Card, len(rs))
		for i, r := range rs {
			out[i] = blackjack.Card{Rank: r, Suit: blackjack.Spades}
		}
		return out
	})
}

func TestBlackjackCommandFlow(t *testing.T) {
	// Player 2+3 against dealer 10+8, then 5 on the hit.
	f := newGameFixture(t, blackjack.New(nil, ranks(blackjack.Two, blackjack.Ten, blackjack.Three, blackjack.Eight, blackjack.Five)))
	owner := &tele.User{ID: 42, Username: "alice"}
	stranger := &tele.User{ID: 7, Username: "bob"}
	f.fund(t, "42", 1000)

	require.NoError(t, f.handler.HandleBlackjack(f.command(owner, "/bj 100", "100")))
	assert.Equal(t, int64(900), f.ledger.GetBalance("-100", "42"))
	sent := f.api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Params["text"], "🃏 21点 | 押注 100")
	assert.Contains(t, sent[0].Params["reply_markup"], "bj_hit_42")

	// Another player pressing the owner's button is refused.
	require.NoError(t, f.handler.HandleBlackjackCallback(f.callback(stranger, "bj_hit_42")))
	answers := f.api.byMethod("answerCallbackQuery")
	require.Len(t, answers, 1)
	assert.Equal(t, "❌ 这不是你的游戏", answers[0].Params["text"])

	require.NoError(t, f.handler.HandleHit(f.command(owner, "/hit", "")))
	require.Len(t, f.api.byMethod("sendMessage"), 2)

	// Standing on 10 against 18 resolves; the result is left to the notifier.
	require.NoError(t, f.handler.HandleStand(f.command(owner, "/stand", "")))
	assert.Len(t, f.api.byMethod("sendMessage"), 2)
	assert.Zero(t, f.sessions.Len())
	assert.Equal(t, int64(900), f.ledger.GetBalance("-100", "42"))
}

func TestBlackjackStakeOutOfRange(t *testing.T) {
	f := newGameFixture(t, blackjack.New(&blackjack.Config{MinBet: 10, MaxBet: 5000}))
	owner := &tele.User{ID: 42}
	f.fund(t, "42", 100000)

	require.NoError(t, f.handler.HandleBlackjack(f.command(owner, "/bj 9999", "9999")))
	sent := f.api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Equal(t, "❌ 下注金额需在 10 - 5000 之间", sent[0].Params["text"])
	assert.Zero(t, f.sessions.Len())
	assert.Equal(t, int64(100000), f.ledger.GetBalance("-100", "42"))
}

func TestDiceUsesThrownDice(t *testing.T) {
	f := newGameFixture(t)
	f.api.dice = []int{6, 6}
	player := &tele.User{ID: 42}
	f.fund(t, "42", 1000)

	require.NoError(t, f.handler.HandleDice(f.command(player, "/dice 100", "100")))
	assert.Len(t, f.api.byMethod("sendDice"), 2)
	// Twelve pays 2:1.
	assert.Equal(t, int64(1200), f.ledger.GetBalance("-100", "42"))

	require.NoError(t, f.handler.HandleDice(f.command(player, "/dice 100", "100")))
	sent := f.api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Params["text"], "⏰ 请等待")
	assert.Len(t, f.api.byMethod("sendDice"), 2, "no dice thrown while cooling down")
}

func TestDiceRejectsBeforeThrowing(t *testing.T) {
	f := newGameFixture(t)
	player := &tele.User{ID: 42}
	f.fund(t, "42", 50)

	require.NoError(t, f.handler.HandleDice(f.command(player, "/dice 100", "100")))
	sent := f.api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Equal(t, "❌ 余额不足", sent[0].Params["text"])
	assert.Empty(t, f.api.byMethod("sendDice"))
}

func TestSicBoRound(t *testing.T) {
	f := newGameFixture(t)
	alice := &tele.User{ID: 42}
	f.fund(t, "42", 1000)

	require.NoError(t, f.handler.HandleSicBoStart(f.command(alice, "/sicbo", "")))
	require.Equal(t, 1, f.sessions.Len())

	// A second /sicbo shows the running round instead of failing.
	require.NoError(t, f.handler.HandleSicBoStart(f.command(alice, "/sicbo", "")))
	assert.Equal(t, 1, f.sessions.Len())
	assert.Len(t, f.api.byMethod("sendMessage"), 2)

	require.NoError(t, f.handler.HandleSicBoCallback(f.callback(alice, "sicbo_big")))
	bet := f.handler.sicbo.BetAmount()
	assert.Equal(t, 1000-bet, f.ledger.GetBalance("-100", "42"))

	require.NoError(t, f.handler.HandleMyBets(f.command(alice, "/mybets", "")))
	sent := f.api.byMethod("sendMessage")
	assert.Contains(t, sent[len(sent)-1].Params["text"], fmt.Sprint(bet))

	require.NoError(t, f.handler.HandleSicBoSettle(f.command(alice, "/sicbo_settle", "")))
	assert.Zero(t, f.sessions.Len())
}

func TestSicBoRejectsPrivateChat(t *testing.T) {
	f := newGameFixture(t)
	user := &tele.User{ID: 42}
	f.chat = &tele.Chat{ID: 42, Type: tele.ChatPrivate}

	require.NoError(t, f.handler.HandleSicBoStart(f.command(user, "/sicbo", "")))
	sent := f.api.byMethod("sendMessage")
	require.Len(t, sent, 1)
	assert.Equal(t, "❌ 骰宝游戏只能在群组中进行", sent[0].Params["text"])
	assert.Zero(t, f.sessions.Len())
}
