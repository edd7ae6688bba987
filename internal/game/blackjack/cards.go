package blackjack

import (
	"math/rand"
	"strings"
	"time"
)

// Suit is a card suit.
type Suit int

// Rank is a card rank; Ace is high in ordering but counts 1 or 11.
type Rank int

const (
	Spades Suit = iota
	Hearts
	Diamonds
	Clubs
)

const (
	Two   Rank = 2
	Three Rank = 3
	Four  Rank = 4
	Five  Rank = 5
	Six   Rank = 6
	Seven Rank = 7
	Eight Rank = 8
	Nine  Rank = 9
	Ten   Rank = 10
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
	Ace   Rank = 14
)

var rankNames = map[Rank]string{
	Two: "2", Three: "3", Four: "4", Five: "5", Six: "6", Seven: "7", Eight: "8",
	Nine: "9", Ten: "10", Jack: "J", Queen: "Q", King: "K", Ace: "A",
}

var suitNames = map[Suit]string{Spades: "♠", Hearts: "♥", Diamonds: "♦", Clubs: "♣"}

// Card is a playing card.
type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

func (c Card) String() string {
	return rankNames[c.Rank] + suitNames[c.Suit]
}

// Points is the card's base value with aces counted as 1.
func (c Card) Points() int {
	switch {
	case c.Rank == Ace:
		return 1
	case c.Rank >= Ten:
		return 10
	default:
		return int(c.Rank)
	}
}

// NewDeck returns an ordered 52-card deck.
func NewDeck() []Card {
	cards := make([]Card, 0, 52)
	for s := Spades; s <= Clubs; s++ {
		for r := Two; r <= Ace; r++ {
			cards = append(cards, Card{Rank: r, Suit: s})
		}
	}
	return cards
}

// ShuffledDeck returns a freshly shuffled 52-card deck.
func ShuffledDeck() []Card {
	cards := NewDeck()
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	rnd.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
	return cards
}

// HandValue returns the best total for cards and whether an ace is being
// counted as 11.
func HandValue(cards []Card) (total int, soft bool) {
	aces := 0
	for _, c := range cards {
		total += c.Points()
		if c.Rank == Ace {
			aces++
		}
	}
	if aces > 0 && total+10 <= 21 {
		return total + 10, true
	}
	return total, false
}

// IsNatural reports a two-card 21.
func IsNatural(cards []Card) bool {
	total, _ := HandValue(cards)
	return len(cards) == 2 && total == 21
}

// FormatHand renders cards as "A♠ K♥".
func FormatHand(cards []Card) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = c.String()
	}
	return strings.Join(parts, " ")
}
