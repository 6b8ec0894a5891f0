package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/tradechat/internal/models"
)

// casAttempts bounds the re-evaluation loop. States only move forward, so a
// lost compare-and-set is followed by at most one more decision.
const casAttempts = 3

var errCASExhausted = errors.New("item state kept changing")

// ConfirmPurchase moves the item from Open to BuyerConfirmed on behalf of the
// buyer of an existing room. Repeating it after it took effect is a no-op.
func (s *Service) ConfirmPurchase(ctx context.Context, itemID, requesterID int64) (State, error) {
	for range casAttempts {
		item, err := s.store.GetItem(ctx, itemID)
		if err != nil {
			return "", storeErr("get item", err)
		}
		if item.SellerID == requesterID {
			return StateOf(item), fmt.Errorf("seller cannot confirm a purchase: %w", models.ErrForbidden)
		}
		if _, err := s.store.FindRoom(ctx, itemID, requesterID, item.SellerID); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return StateOf(item), fmt.Errorf("user %d has no room for item %d: %w", requesterID, itemID, models.ErrForbidden)
			}
			return "", storeErr("find room", err)
		}

		state := StateOf(item)
		if state != StateOpen {
			if item.BuyerID != nil && *item.BuyerID != requesterID {
				return state, fmt.Errorf("item %d confirmed by another buyer: %w", itemID, models.ErrInvalidTransition)
			}
			return state, nil
		}

		ok, err := s.store.TransitionItem(ctx, models.ItemTransition{
			ItemID:  itemID,
			From:    StateOpen.Flags(),
			To:      StateBuyerConfirmed.Flags(),
			BuyerID: &requesterID,
		})
		if err != nil {
			return "", storeErr("confirm purchase", err)
		}
		if ok {
			s.log.Info("Purchase confirmed", "item_id", itemID, "buyer_id", requesterID)
			return StateBuyerConfirmed, nil
		}
		s.log.Debug("Purchase confirmation lost race, re-reading", "item_id", itemID)
	}
	return "", storeErr("confirm purchase", errCASExhausted)
}

// ConfirmSale moves the item from BuyerConfirmed to Sold on behalf of the seller
// and records one sale and one purchase ledger entry in the same transaction.
// Repeating it once the item is sold is a no-op and writes nothing.
func (s *Service) ConfirmSale(ctx context.Context, itemID, requesterID int64) (State, error) {
	for range casAttempts {
		item, err := s.store.GetItem(ctx, itemID)
		if err != nil {
			return "", storeErr("get item", err)
		}
		if item.SellerID != requesterID {
			return StateOf(item), fmt.Errorf("only the seller can confirm a sale: %w", models.ErrForbidden)
		}

		state := StateOf(item)
		switch state {
		case StateSold:
			return state, nil
		case StateOpen:
			return state, fmt.Errorf("buyer has not confirmed item %d: %w", itemID, models.ErrInvalidTransition)
		}
		if item.BuyerID == nil {
			return state, fmt.Errorf("item %d has no confirmed buyer: %w", itemID, models.ErrInvalidTransition)
		}

		buyerID := *item.BuyerID
		room, err := s.store.FindRoom(ctx, itemID, buyerID, item.SellerID)
		if err != nil {
			return "", storeErr("find room", err)
		}

		ok, err := s.store.TransitionItem(ctx, models.ItemTransition{
			ItemID: itemID,
			From:   StateBuyerConfirmed.Flags(),
			To:     StateSold.Flags(),
			Ledger: ledgerPair(item, buyerID, room.ID),
		})
		if err != nil {
			return "", storeErr("confirm sale", err)
		}
		if ok {
			s.log.Info("Sale confirmed",
				"item_id", itemID, "seller_id", item.SellerID, "buyer_id", buyerID, "room_id", room.ID)
			return StateSold, nil
		}
		s.log.Debug("Sale confirmation lost race, re-reading", "item_id", itemID)
	}
	return "", storeErr("confirm sale", errCASExhausted)
}

func ledgerPair(item *models.Item, buyerID, roomID int64) []models.LedgerEntry {
	return []models.LedgerEntry{
		{
			Kind:           models.LedgerSale,
			UserID:         item.SellerID,
			CounterpartyID: buyerID,
			ItemID:         item.ID,
			RoomID:         roomID,
		},
		{
			Kind:           models.LedgerPurchase,
			UserID:         buyerID,
			CounterpartyID: item.SellerID,
			ItemID:         item.ID,
			RoomID:         roomID,
		},
	}
}

// Ledger lists the sale or purchase entries owned by requesterID, newest first
func (s *Service) Ledger(ctx context.Context, requesterID int64, kind models.LedgerKind) ([]models.LedgerEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown ledger kind %q: %w", kind, models.ErrInvalidInput)
	}
	entries, err := s.store.ListLedger(ctx, requesterID, kind)
	if err != nil {
		return nil, storeErr("list ledger", err)
	}
	return entries, nil
}
