package sicbo

import (
	"fmt"
	"strconv"
)

// BetType represents the type of bet in Sic Bo.
type BetType string

const (
	// BetTypeSingle is a bet on a single number (1-6)
	BetTypeSingle BetType = "single"
	// BetTypeBig is a bet on big (sum 11-17, excluding triples)
	BetTypeBig BetType = "big"
	// BetTypeSmall is a bet on small (sum 4-10, excluding triples)
	BetTypeSmall BetType = "small"
)

// IsTriple checks if all three dice show the same value.
func IsTriple(dice [3]int) bool {
	return dice[0] == dice[1] && dice[1] == dice[2]
}

// Sum returns the dice total.
func Sum(dice [3]int) int {
	return dice[0] + dice[1] + dice[2]
}

// CalculateSinglePayout calculates the net result of a single number bet.
// Rules:
//   - 0 matches: -bet (lose)
//   - 1 match: bet (1:1)
//   - 2 matches: 2*bet (2:1)
//   - 3 matches: 3*bet (3:1)
func CalculateSinglePayout(betNumber int, dice [3]int, betAmount int64) int64 {
	matchCount := 0
	for _, d := range dice {
		if d == betNumber {
			matchCount++
		}
	}

	if matchCount == 0 {
		return -betAmount
	}
	return betAmount * int64(matchCount)
}

// CalculateBigSmallPayout calculates the net result of a big/small bet.
// A triple loses both; otherwise big wins on 11-17 and small on 4-10, 1:1.
func CalculateBigSmallPayout(isBig bool, dice [3]int, betAmount int64) int64 {
	if IsTriple(dice) {
		return -betAmount
	}

	total := Sum(dice)
	if isBig && total >= 11 && total <= 17 {
		return betAmount
	}
	if !isBig && total >= 4 && total <= 10 {
		return betAmount
	}
	return -betAmount
}

// CalculatePayout calculates the net result of any bet.
func CalculatePayout(betType BetType, betNumber int, dice [3]int, betAmount int64) int64 {
	switch betType {
	case BetTypeSingle:
		return CalculateSinglePayout(betNumber, dice, betAmount)
	case BetTypeBig:
		return CalculateBigSmallPayout(true, dice, betAmount)
	case BetTypeSmall:
		return CalculateBigSmallPayout(false, dice, betAmount)
	default:
		return -betAmount
	}
}

// GrossPayout converts a net result into the amount credited back: the
// stake plus winnings, or nothing on a loss.
func GrossPayout(betAmount, net int64) int64 {
	if net < 0 {
		return 0
	}
	return betAmount + net
}

// ParseOption parses "big", "small", "1".."6" or "single_N".
func ParseOption(option string) (BetType, int, error) {
	switch option {
	case string(BetTypeBig):
		return BetTypeBig, 0, nil
	case string(BetTypeSmall):
		return BetTypeSmall, 0, nil
	}
	var num int
	if _, err := fmt.Sscanf(option, "single_%d", &num); err != nil {
		n, err := strconv.Atoi(option)
		if err != nil {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidBetType, option)
		}
		num = n
	}
	if !ValidateBetType(BetTypeSingle, num) {
		return "", 0, ErrInvalidBetNumber
	}
	return BetTypeSingle, num, nil
}

// OptionKey is the canonical key of a bet option.
func OptionKey(betType BetType, betNumber int) string {
	if betType == BetTypeSingle {
		return fmt.Sprintf("%s_%d", betType, betNumber)
	}
	return string(betType)
}

// ValidateBetType checks if the bet type and parameters are valid.
func ValidateBetType(betType BetType, betNumber int) bool {
	switch betType {
	case BetTypeSingle:
		return betNumber >= 1 && betNumber <= 6
	case BetTypeBig, BetTypeSmall:
		return true
	default:
		return false
	}
}

// ValidateDice checks if all dice values are valid (1-6).
func ValidateDice(dice [3]int) bool {
	for _, d := range dice {
		if d < 1 || d > 6 {
			return false
		}
	}
	return true
}
