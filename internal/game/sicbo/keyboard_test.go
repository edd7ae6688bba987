package sicbo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackRoundTrip(t *testing.T) {
	tests := []struct {
		action, param, option string
	}{
		{"big", "", "big"},
		{"small", "", "small"},
		{"single", "5", "single_5"},
		{"settle", "", ""},
	}
	for _, tt := range tests {
		data := EncodeCallback(tt.action, tt.param)
		action, param := DecodeCallback(data)
		assert.Equal(t, tt.action, action)
		assert.Equal(t, tt.param, param)
		assert.Equal(t, tt.option, CallbackOption(action, param))
	}

	action, param := DecodeCallback("other_big")
	assert.Empty(t, action)
	assert.Empty(t, param)
}

func TestBuildMainPanel(t *testing.T) {
	markup := NewKeyboardBuilder().BuildMainPanel()
	require.Len(t, markup.InlineKeyboard, 4)
	assert.Len(t, markup.InlineKeyboard[1], 3)
	assert.Equal(t, "sicbo_single_4", markup.InlineKeyboard[2][0].Data)
	assert.Equal(t, "sicbo_settle", markup.InlineKeyboard[3][1].Data)
}

func TestFormatMessages(t *testing.T) {
	assert.Contains(t, FormatPanelMessage(30, 2, 400, 100), "每次 100 金币")

	msg := FormatSettlementMessage([3]int{2, 2, 2}, []PlayerResult{{Player: "42", Net: -100}, {Player: "7", Name: "@bob", Net: 200}})
	assert.Contains(t, msg, "(围骰)")
	assert.Contains(t, msg, "😢 @42 -100")
	assert.Contains(t, msg, "🎉 @bob +200")
	assert.Contains(t, FormatSettlementMessage([3]int{1, 2, 3}, nil), "本局无人下注")

	assert.Equal(t, "您还没有下注", FormatMyBets(nil))
	bets := FormatMyBets(map[string]int64{"single_3": 200, "big": 100})
	assert.Contains(t, bets, "单一数字 3: 200")
	assert.Contains(t, bets, "总计: 300")
}
