package negotiation

import (
	"context"
	"errors"
	"fmt"

	"github.com/xtrntr/tradechat/internal/models"
)

// ResolveOrCreateRoom returns the room between requesterID, as buyer, and the
// seller of itemID, creating it on first contact. Existing rooms come back
// unchanged. The seller resolving a room on their own item gets (nil, nil).
func (s *Service) ResolveOrCreateRoom(ctx context.Context, itemID, requesterID int64) (*models.Room, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, storeErr("get item", err)
	}
	if item.SellerID == requesterID {
		s.log.Debug("Owner resolved room on own item", "item_id", itemID, "user_id", requesterID)
		return nil, nil
	}

	room, err := s.store.FindRoom(ctx, itemID, requesterID, item.SellerID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, storeErr("find room", err)
	}

	room, err = s.store.CreateRoom(ctx, itemID, requesterID, item.SellerID)
	if errors.Is(err, models.ErrDuplicate) {
		// A concurrent first contact won the insert; its row is committed.
		room, err = s.store.FindRoom(ctx, itemID, requesterID, item.SellerID)
		if err != nil {
			return nil, storeErr("re-read room", err)
		}
		return room, nil
	}
	if err != nil {
		return nil, storeErr("create room", err)
	}

	s.log.Info("Room created",
		"room_id", room.ID, "item_id", itemID, "buyer_id", requesterID, "seller_id", item.SellerID)
	return room, nil
}

// GetRoom returns a room to one of its participants
func (s *Service) GetRoom(ctx context.Context, roomID, requesterID int64) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, storeErr("get room", err)
	}
	if !room.IsParticipant(requesterID) {
		return nil, fmt.Errorf("user %d in room %d: %w", requesterID, roomID, models.ErrForbidden)
	}
	return room, nil
}

// ListRooms returns the inbox of requesterID, most recently active room first
func (s *Service) ListRooms(ctx context.Context, requesterID int64) ([]models.RoomSummary, error) {
	rooms, err := s.store.ListRooms(ctx, requesterID)
	if err != nil {
		return nil, storeErr("list rooms", err)
	}
	return rooms, nil
}
