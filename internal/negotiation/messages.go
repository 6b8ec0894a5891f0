package negotiation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xtrntr/tradechat/internal/models"
)

// MaxMessageLength is the longest accepted message text, in runes
const MaxMessageLength = 2000

// Thread is the authoritative read of a room: its messages in sequence order,
// the item state and the requester's projection of that state.
type Thread struct {
	Room     models.Room      `json:"room"`
	Item     models.Item      `json:"item"`
	State    State            `json:"state"`
	Messages []models.Message `json:"messages"`
	View     View             `json:"view"`

	// PollIntervalMs is the polling interval the server asks clients to use
	PollIntervalMs int64 `json:"poll_interval_ms,omitempty"`
}

// Append adds a message from authorID to the room. Rooms whose item is sold
// reject appends with models.ErrForbidden.
func (s *Service) Append(ctx context.Context, roomID, authorID int64, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("message text is empty: %w", models.ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, fmt.Errorf("message text too long (max %d characters): %w", MaxMessageLength, models.ErrInvalidInput)
	}

	room, err := s.GetRoom(ctx, roomID, authorID)
	if err != nil {
		return nil, err
	}

	msg, err := s.store.AppendMessage(ctx, room.ID, authorID, text)
	if err != nil {
		return nil, storeErr("append message", err)
	}
	s.log.Debug("Message appended", "room_id", room.ID, "seq", msg.Seq, "author_id", authorID)
	return msg, nil
}

// List returns every message of the room in sequence order together with the
// item state. Closed rooms stay readable.
func (s *Service) List(ctx context.Context, roomID, requesterID int64) (*Thread, error) {
	room, err := s.GetRoom(ctx, roomID, requesterID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, room.ID)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	item, err := s.store.GetItem(ctx, room.ItemID)
	if err != nil {
		return nil, storeErr("get item", err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	role, _ := RoleOf(room, requesterID)
	state := StateOf(item)
	return &Thread{
		Room:     *room,
		Item:     *item,
		State:    state,
		Messages: msgs,
		View:     Project(role, state),
	}, nil
}
