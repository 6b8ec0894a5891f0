// Package negotiation implements buyer/seller rooms, their message logs and the
// two-sided confirmation that completes a sale. All state lives in a Store; the
// service holds no per-request state and can be shared across goroutines.
package negotiation

import (
	"fmt"
	"log/slog"

	"github.com/xtrntr/tradechat/internal/models"
)

// Service exposes the room registry, the message log and the confirmation
// state machine. The requester id is passed explicitly to every operation.
type Service struct {
	store Store
	log   *slog.Logger
}

// NewService creates a new negotiation service
func NewService(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// storeErr wraps a store error with the operation name and classifies unknown
// errors as storage failures.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, models.Storage(op, err))
}
