// Package memstore is an in-memory implementation of the negotiation store and
// the auth user store. A single mutex makes every method atomic, standing in for
// the transactions and uniqueness constraints of the Postgres store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/xtrntr/tradechat/internal/models"
)

type roomKey struct {
	itemID, buyerID, sellerID int64
}

// Store keeps every entity in maps guarded by one mutex
type Store struct {
	mu sync.Mutex

	nextID   int64
	now      func() time.Time
	users    map[int64]*models.User
	items    map[int64]*models.Item
	rooms    map[int64]*models.Room
	roomKeys map[roomKey]int64
	messages map[int64][]models.Message // by room, in seq order
	ledger   []models.LedgerEntry
	reviews  []models.Review
}

// New creates an empty store
func New() *Store {
	return &Store{
		now:      time.Now,
		users:    make(map[int64]*models.User),
		items:    make(map[int64]*models.Item),
		rooms:    make(map[int64]*models.Room),
		roomKeys: make(map[roomKey]int64),
		messages: make(map[int64][]models.Message),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return nil, fmt.Errorf("username %q: %w", username, models.ErrDuplicate)
		}
	}
	u := &models.User{ID: s.id(), Username: username, PasswordHash: passwordHash, CreatedAt: s.now()}
	s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %q: %w", username, models.ErrNotFound)
}

// CreateItem lists a new item for sellerID
func (s *Store) CreateItem(ctx context.Context, sellerID int64, name string, price int64) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sellerID]; !ok {
		return nil, fmt.Errorf("seller %d: %w", sellerID, models.ErrNotFound)
	}
	now := s.now()
	item := &models.Item{ID: s.id(), SellerID: sellerID, Name: name, Price: price, CreatedAt: now, UpdatedAt: now}
	s.items[item.ID] = item
	cp := *item
	return &cp, nil
}

// GetItem retrieves an item by id
func (s *Store) GetItem(ctx context.Context, itemID int64) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", itemID, models.ErrNotFound)
	}
	return copyItem(item), nil
}

func copyItem(item *models.Item) *models.Item {
	cp := *item
	if item.BuyerID != nil {
		cp.BuyerID = lo.ToPtr(*item.BuyerID)
	}
	return &cp
}

// GetRoom retrieves a room by id
func (s *Store) GetRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, models.ErrNotFound)
	}
	cp := *room
	return &cp, nil
}

// FindRoom retrieves the room for an (item, buyer, seller) triple
func (s *Store) FindRoom(ctx context.Context, itemID, buyerID, sellerID int64) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.roomKeys[roomKey{itemID, buyerID, sellerID}]
	if !ok {
		return nil, fmt.Errorf("room for item %d buyer %d: %w", itemID, buyerID, models.ErrNotFound)
	}
	cp := *s.rooms[id]
	return &cp, nil
}

// CreateRoom inserts a room unless the triple already has one
func (s *Store) CreateRoom(ctx context.Context, itemID, buyerID, sellerID int64) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roomKey{itemID, buyerID, sellerID}
	if _, ok := s.roomKeys[key]; ok {
		return nil, fmt.Errorf("room for item %d buyer %d: %w", itemID, buyerID, models.ErrDuplicate)
	}
	if _, ok := s.items[itemID]; !ok {
		return nil, fmt.Errorf("item %d: %w", itemID, models.ErrNotFound)
	}
	now := s.now()
	room := &models.Room{ID: s.id(), ItemID: itemID, BuyerID: buyerID, SellerID: sellerID, CreatedAt: now, UpdatedAt: now}
	s.rooms[room.ID] = room
	s.roomKeys[key] = room.ID
	cp := *room
	return &cp, nil
}

// ListRooms returns the rooms userID takes part in, most recently active first
func (s *Store) ListRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := lo.Filter(lo.Values(s.rooms), func(r *models.Room, _ int) bool {
		return r.IsParticipant(userID)
	})
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].UpdatedAt.Equal(rooms[j].UpdatedAt) {
			return rooms[i].ID > rooms[j].ID
		}
		return rooms[i].UpdatedAt.After(rooms[j].UpdatedAt)
	})

	return lo.Map(rooms, func(r *models.Room, _ int) models.RoomSummary {
		item := s.items[r.ItemID]
		summary := models.RoomSummary{
			Room:              *r,
			ItemName:          item.Name,
			PurchaseConfirmed: item.PurchaseConfirmed,
			SaleConfirmed:     item.SaleConfirmed,
		}
		if msgs := s.messages[r.ID]; len(msgs) > 0 {
			summary.LastMessage = msgs[len(msgs)-1].Text
		}
		return summary
	}), nil
}

// AppendMessage assigns the next sequence number of the room
func (s *Store) AppendMessage(ctx context.Context, roomID, authorID int64, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %d: %w", roomID, models.ErrNotFound)
	}
	if s.items[room.ItemID].SaleConfirmed {
		return nil, fmt.Errorf("room %d is closed: %w", roomID, models.ErrForbidden)
	}

	now := s.now()
	msg := models.Message{
		ID:        s.id(),
		RoomID:    roomID,
		Seq:       int64(len(s.messages[roomID]) + 1),
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: now,
	}
	s.messages[roomID] = append(s.messages[roomID], msg)
	room.UpdatedAt = now
	return &msg, nil
}

// ListMessages returns the room's messages in sequence order
func (s *Store) ListMessages(ctx context.Context, roomID int64) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Message(nil), s.messages[roomID]...), nil
}

// TransitionItem compares the item's flags with t.From and applies t on a match
func (s *Store) TransitionItem(ctx context.Context, t models.ItemTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[t.ItemID]
	if !ok {
		return false, fmt.Errorf("item %d: %w", t.ItemID, models.ErrNotFound)
	}
	if item.Flags() != t.From {
		return false, nil
	}
	for _, e := range t.Ledger {
		if lo.ContainsBy(s.ledger, func(x models.LedgerEntry) bool { return x.ItemID == e.ItemID && x.Kind == e.Kind }) {
			return false, fmt.Errorf("%s entry for item %d: %w", e.Kind, e.ItemID, models.ErrDuplicate)
		}
	}

	now := s.now()
	item.PurchaseConfirmed = t.To.PurchaseConfirmed
	item.SaleConfirmed = t.To.SaleConfirmed
	if t.BuyerID != nil {
		item.BuyerID = lo.ToPtr(*t.BuyerID)
	}
	item.UpdatedAt = now
	for _, e := range t.Ledger {
		e.ID = s.id()
		e.CreatedAt = now
		s.ledger = append(s.ledger, e)
	}
	return true, nil
}

// ListLedger returns userID's entries of the given kind, newest first
func (s *Store) ListLedger(ctx context.Context, userID int64, kind models.LedgerKind) ([]models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := lo.Filter(s.ledger, func(e models.LedgerEntry, _ int) bool {
		return e.UserID == userID && e.Kind == kind
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	return entries, nil
}

// CreateReview stores a review unless the author already reviewed the item
func (s *Store) CreateReview(ctx context.Context, review models.Review) (*models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lo.ContainsBy(s.reviews, func(r models.Review) bool {
		return r.ItemID == review.ItemID && r.AuthorID == review.AuthorID
	}) {
		return nil, fmt.Errorf("review of item %d by %d: %w", review.ItemID, review.AuthorID, models.ErrDuplicate)
	}
	review.ID = s.id()
	review.CreatedAt = s.now()
	s.reviews = append(s.reviews, review)
	return &review, nil
}

// ListReviews returns the reviews received by subjectID, newest first
func (s *Store) ListReviews(ctx context.Context, subjectID int64) ([]models.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reviews := lo.Filter(s.reviews, func(r models.Review, _ int) bool { return r.SubjectID == subjectID })
	sort.Slice(reviews, func(i, j int) bool { return reviews[i].ID > reviews[j].ID })
	return reviews, nil
}
