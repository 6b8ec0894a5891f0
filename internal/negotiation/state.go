package negotiation

import "github.com/xtrntr/tradechat/internal/models"

// State is the confirmation state of an item. States only move forward:
// Open -> BuyerConfirmed -> Sold.
type State string

const (
	StateOpen           State = "open"
	StateBuyerConfirmed State = "buyer_confirmed"
	StateSold           State = "sold"
)

// StateOf derives the state from the item's stored flags
func StateOf(item *models.Item) State {
	return StateFromFlags(item.Flags())
}

// StateFromFlags maps a flag pair to a state. A sale flag without a purchase
// flag cannot be written by this package and is read as Open.
func StateFromFlags(f models.ItemFlags) State {
	switch {
	case f.PurchaseConfirmed && f.SaleConfirmed:
		return StateSold
	case f.PurchaseConfirmed:
		return StateBuyerConfirmed
	default:
		return StateOpen
	}
}

// Flags is the inverse of StateFromFlags
func (s State) Flags() models.ItemFlags {
	switch s {
	case StateSold:
		return models.ItemFlags{PurchaseConfirmed: true, SaleConfirmed: true}
	case StateBuyerConfirmed:
		return models.ItemFlags{PurchaseConfirmed: true}
	default:
		return models.ItemFlags{}
	}
}

// Closed reports whether the state is terminal
func (s State) Closed() bool {
	return s == StateSold
}

// Role is a participant's side of a room
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// RoleOf returns the role of userID in room. The second result is false when
// userID is not a participant.
func RoleOf(room *models.Room, userID int64) (Role, bool) {
	switch userID {
	case room.SellerID:
		return RoleSeller, true
	case room.BuyerID:
		return RoleBuyer, true
	}
	return "", false
}

// Action is the confirmation a viewer may trigger
type Action string

const (
	ActionNone            Action = ""
	ActionConfirmPurchase Action = "confirm_purchase"
	ActionConfirmSale     Action = "confirm_sale"
)

// Label is a non-actionable status shown to a viewer
type Label string

const (
	LabelNone           Label = ""
	LabelAwaitingSeller Label = "awaiting_seller"
	LabelCompleted      Label = "completed"
)

// View is what one participant is shown for a state
type View struct {
	Role            Role   `json:"role"`
	State           State  `json:"state"`
	Action          Action `json:"action,omitempty"`
	Label           Label  `json:"label,omitempty"`
	AcceptsMessages bool   `json:"accepts_messages"`
}

// Project returns the view of state for role.
//
//	state            buyer               seller
//	Open             confirm_purchase    -
//	BuyerConfirmed   awaiting_seller     confirm_sale
//	Sold             completed           completed
func Project(role Role, state State) View {
	v := View{Role: role, State: state, AcceptsMessages: !state.Closed()}
	switch state {
	case StateOpen:
		if role == RoleBuyer {
			v.Action = ActionConfirmPurchase
		}
	case StateBuyerConfirmed:
		if role == RoleBuyer {
			v.Label = LabelAwaitingSeller
		} else {
			v.Action = ActionConfirmSale
		}
	case StateSold:
		v.Label = LabelCompleted
	}
	return v
}
