//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package negotiation

import (
	"context"

	"github.com/xtrntr/tradechat/internal/models"
)

// Store is the durable storage the negotiation service runs on. Implementations
// return models.ErrNotFound for missing rows, models.ErrDuplicate when a
// uniqueness constraint rejects a write, and *models.StorageError for
// infrastructure failures.
type Store interface {
	GetItem(ctx context.Context, itemID int64) (*models.Item, error)

	GetRoom(ctx context.Context, roomID int64) (*models.Room, error)
	FindRoom(ctx context.Context, itemID, buyerID, sellerID int64) (*models.Room, error)
	// CreateRoom inserts a room under the (item, buyer, seller) uniqueness
	// constraint and returns models.ErrDuplicate if the triple already exists.
	CreateRoom(ctx context.Context, itemID, buyerID, sellerID int64) (*models.Room, error)
	ListRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error)

	// AppendMessage assigns the next sequence number of the room and stores the
	// message. It returns models.ErrForbidden if the room's item is sold; the
	// check and the write are atomic with respect to TransitionItem.
	AppendMessage(ctx context.Context, roomID, authorID int64, text string) (*models.Message, error)
	ListMessages(ctx context.Context, roomID int64) ([]models.Message, error)

	// TransitionItem applies t atomically. It reports false, with no writes,
	// when the item's flags no longer equal t.From.
	TransitionItem(ctx context.Context, t models.ItemTransition) (bool, error)
	ListLedger(ctx context.Context, userID int64, kind models.LedgerKind) ([]models.LedgerEntry, error)

	// CreateReview returns models.ErrDuplicate if the author already reviewed the item
	CreateReview(ctx context.Context, review models.Review) (*models.Review, error)
	ListReviews(ctx context.Context, subjectID int64) ([]models.Review, error)
}
