package models

import "time"

// User represents a registered user
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Item is a listed product. Only the confirmation flags and BuyerID change
// after listing, and nothing changes once both flags are set.
type Item struct {
	ID                int64     `json:"id"`
	SellerID          int64     `json:"seller_id"`
	Name              string    `json:"name"`
	Price             int64     `json:"price"`
	PurchaseConfirmed bool      `json:"purchase_confirmed"`
	SaleConfirmed     bool      `json:"sale_confirmed"`
	BuyerID           *int64    `json:"buyer_id,omitempty"` // set by the purchase confirmation
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Room is the negotiation channel between one buyer and the seller of an item
type Room struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"item_id"`
	BuyerID   int64     `json:"buyer_id"`
	SellerID  int64     `json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsParticipant reports whether userID is the buyer or the seller of the room
func (r *Room) IsParticipant(userID int64) bool {
	return r.BuyerID == userID || r.SellerID == userID
}

// Counterpart returns the other participant of the room
func (r *Room) Counterpart(userID int64) int64 {
	if r.BuyerID == userID {
		return r.SellerID
	}
	return r.BuyerID
}

// Message is a chat entry. Seq is assigned by the store and orders the room.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	Seq       int64     `json:"seq"`
	AuthorID  int64     `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerKind tells which side of a completed transaction an entry records
type LedgerKind string

const (
	LedgerSale     LedgerKind = "sale"     // seller side
	LedgerPurchase LedgerKind = "purchase" // buyer side
)

// Valid reports whether k is a known ledger kind
func (k LedgerKind) Valid() bool {
	return k == LedgerSale || k == LedgerPurchase
}

// LedgerEntry records one side of a completed sale
type LedgerEntry struct {
	ID             int64      `json:"id"`
	Kind           LedgerKind `json:"kind"`
	UserID         int64      `json:"user_id"`
	CounterpartyID int64      `json:"counterparty_id"`
	ItemID         int64      `json:"item_id"`
	RoomID         int64      `json:"room_id"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Review is a buyer's rating of the seller after a confirmed purchase
type Review struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"item_id"`
	AuthorID  int64     `json:"author_id"`
	SubjectID int64     `json:"subject_id"` // the seller being rated
	Score     int       `json:"score"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomSummary is one row of a user's inbox
type RoomSummary struct {
	Room              Room   `json:"room"`
	ItemName          string `json:"item_name"`
	PurchaseConfirmed bool   `json:"purchase_confirmed"`
	SaleConfirmed     bool   `json:"sale_confirmed"`
	LastMessage       string `json:"last_message,omitempty"`
}

// ItemFlags is the pair of confirmation flags stored on an item
type ItemFlags struct {
	PurchaseConfirmed bool
	SaleConfirmed     bool
}

// Flags returns the item's current confirmation flags
func (i *Item) Flags() ItemFlags {
	return ItemFlags{PurchaseConfirmed: i.PurchaseConfirmed, SaleConfirmed: i.SaleConfirmed}
}

// ItemTransition is a compare-and-set on an item's confirmation flags. The
// ledger entries are written in the same transaction as the flags.
type ItemTransition struct {
	ItemID  int64
	From    ItemFlags
	To      ItemFlags
	BuyerID *int64 // recorded when set
	Ledger  []LedgerEntry
}
