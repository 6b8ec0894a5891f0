package negotiation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xtrntr/tradechat/internal/models"
)

const (
	MinReviewScore = 1
	MaxReviewScore = 5
)

// Review records the buyer's rating of the seller of itemID. Only the buyer
// recorded by the purchase confirmation may review, once per item.
func (s *Service) Review(ctx context.Context, itemID, requesterID int64, score int, text string) (*models.Review, error) {
	if score < MinReviewScore || score > MaxReviewScore {
		return nil, fmt.Errorf("score must be between %d and %d: %w", MinReviewScore, MaxReviewScore, models.ErrInvalidInput)
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return nil, fmt.Errorf("review text too long (max %d characters): %w", MaxMessageLength, models.ErrInvalidInput)
	}

	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, storeErr("get item", err)
	}
	if item.SellerID == requesterID {
		return nil, fmt.Errorf("seller cannot review own item: %w", models.ErrForbidden)
	}
	if StateOf(item) == StateOpen {
		return nil, fmt.Errorf("item %d has no confirmed purchase: %w", itemID, models.ErrInvalidTransition)
	}
	if item.BuyerID == nil || *item.BuyerID != requesterID {
		return nil, fmt.Errorf("user %d did not buy item %d: %w", requesterID, itemID, models.ErrForbidden)
	}

	review, err := s.store.CreateReview(ctx, models.Review{
		ItemID:    itemID,
		AuthorID:  requesterID,
		SubjectID: item.SellerID,
		Score:     score,
		Text:      text,
	})
	if err != nil {
		return nil, storeErr("create review", err)
	}
	s.log.Info("Review recorded", "item_id", itemID, "author_id", requesterID, "subject_id", item.SellerID, "score", score)
	return review, nil
}

// Reviews lists the reviews userID received, newest first
func (s *Service) Reviews(ctx context.Context, userID int64) ([]models.Review, error) {
	reviews, err := s.store.ListReviews(ctx, userID)
	if err != nil {
		return nil, storeErr("list reviews", err)
	}
	return reviews, nil
}
