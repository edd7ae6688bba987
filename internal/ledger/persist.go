package ledger

import (
	"encoding/json"

	"wagerbot/internal/model"
	"wagerbot/internal/pkg/snapshot"
)

const snapshotVersion = 1

type fileFormat struct {
	Version     int                       `json:"version"`
	Communities map[string]communityState `json:"communities"`
}

type communityState struct {
	Balances     map[string]int64    `json:"balances"`
	Transactions []model.Transaction `json:"transactions"`
}

// encode captures every community under its own lock.
func (l *Ledger) encode() ([]byte, error) {
	l.mu.RLock()
	books := make(map[string]*book, len(l.books))
	for id, b := range l.books {
		books[id] = b
	}
	l.mu.RUnlock()

	doc := fileFormat{
		Version:     snapshotVersion,
		Communities: make(map[string]communityState, len(books)),
	}
	for id, b := range books {
		b.mu.Lock()
		state := communityState{
			Balances:     make(map[string]int64, len(b.balances)),
			Transactions: append([]model.Transaction(nil), b.transactions...),
		}
		for p, bal := range b.balances {
			state.Balances[p] = bal
		}
		b.mu.Unlock()
		doc.Communities[id] = state
	}
	return json.Marshal(doc)
}

func (l *Ledger) load() error {
	if l.opts.Path == "" {
		return nil
	}
	var doc fileFormat
	found, err := snapshot.ReadJSON(l.opts.Path, &doc)
	if err != nil || !found {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, state := range doc.Communities {
		b := &book{balances: make(map[string]int64, len(state.Balances))}
		for p, bal := range state.Balances {
			if bal < 0 {
				bal = 0
			}
			b.balances[p] = bal
		}
		b.transactions = state.Transactions
		if over := len(b.transactions) - l.opts.MaxTransactions; over > 0 {
			b.transactions = b.transactions[over:]
		}
		l.books[id] = b
	}
	return nil
}
