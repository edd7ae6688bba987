package service

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"wagerbot/internal/ledger"
	"wagerbot/internal/model"
)

// Transfer-related errors.
var (
	ErrSelfTransfer = errors.New("cannot transfer to self")
)

// Transfer is a completed transfer.
type Transfer struct {
	Amount          int64
	SenderBalance   int64
	ReceiverBalance int64
}

// TransferService handles player-to-player transfers within a community.
type TransferService struct {
	ledger Ledger
}

// NewTransferService creates a new TransferService instance.
func NewTransferService(l Ledger) *TransferService {
	return &TransferService{ledger: l}
}

// ValidateTransfer checks a transfer without executing it.
func (s *TransferService) ValidateTransfer(community, from, to string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	if bal := s.ledger.GetBalance(community, from); bal < amount {
		return fmt.Errorf("%w: balance %d, need %d", ledger.ErrInsufficientFunds, bal, amount)
	}
	return nil
}

// Transfer moves amount from one player to another. The debit and credit
// are separate ledger writes; a failed credit is compensated by a refund to
// the sender.
func (s *TransferService) Transfer(community, from, to string, amount int64) (Transfer, error) {
	if amount <= 0 {
		return Transfer{}, ErrInvalidAmount
	}
	if from == to {
		return Transfer{}, ErrSelfTransfer
	}

	debit, err := s.ledger.AddBalance(community, from, -amount, ledger.Entry{
		Kind:     model.TxKindTransfer,
		Reason:   "transfer_out",
		Metadata: map[string]any{"to": to},
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("failed to deduct from sender: %w", err)
	}

	credit, err := s.ledger.AddBalance(community, to, amount, ledger.Entry{
		Kind:     model.TxKindTransfer,
		Reason:   "transfer_in",
		Metadata: map[string]any{"from": from},
	})
	if err != nil {
		if _, rerr := s.ledger.AddBalance(community, from, amount, ledger.Entry{
			Kind:     model.TxKindTransfer,
			Reason:   "transfer_rollback",
			Metadata: map[string]any{"to": to},
		}); rerr != nil {
			log.Error().Err(rerr).Str("community", community).Str("player", from).Int64("amount", amount).
				Msg("Failed to roll back transfer")
		}
		return Transfer{}, fmt.Errorf("failed to add to receiver: %w", err)
	}

	log.Info().
		Str("community", community).
		Str("from", from).
		Str("to", to).
		Int64("amount", amount).
		Msg("Transfer completed")

	return Transfer{Amount: amount, SenderBalance: debit.Balance, ReceiverBalance: credit.Balance}, nil
}
