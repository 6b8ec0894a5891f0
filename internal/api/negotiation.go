package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/xtrntr/tradechat/internal/models"
	"github.com/xtrntr/tradechat/internal/negotiation"
)

// ResolveRoom returns the caller's room for an item, creating it on first contact.
// The item's owner gets {"room": null}.
func (h *Handler) ResolveRoom(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	room, err := h.Negotiation.ResolveOrCreateRoom(r.Context(), itemID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*models.Room{"room": room})
}

// ConfirmPurchase handles the buyer's confirmation
func (h *Handler) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, h.Negotiation.ConfirmPurchase)
}

// ConfirmSale handles the seller's confirmation
func (h *Handler) ConfirmSale(w http.ResponseWriter, r *http.Request) {
	h.confirm(w, r, h.Negotiation.ConfirmSale)
}

type confirmFunc func(ctx context.Context, itemID, requesterID int64) (negotiation.State, error)

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request, op confirmFunc) {
	userID, _ := UserID(r.Context())
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	state, err := op(r.Context(), itemID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": state})
}

// ListRooms returns the caller's inbox
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	rooms, err := h.Negotiation.ListRooms(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// ListMessages returns the room's messages and item state. Clients poll it.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	roomID, ok := pathID(w, r)
	if !ok {
		return
	}

	thread, err := h.Negotiation.List(r.Context(), roomID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	thread.PollIntervalMs = h.PollInterval.Milliseconds()
	writeJSON(w, http.StatusOK, thread)
}

// AppendMessage posts a message to a room
func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	roomID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.Negotiation.Append(r.Context(), roomID, userID, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*models.Message{"message": msg})
}

// Ledger lists the caller's sales or purchases
func (h *Handler) Ledger(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	kind := models.LedgerKind(r.URL.Query().Get("kind"))

	entries, err := h.Negotiation.Ledger(r.Context(), userID, kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// CreateReview records the buyer's rating of the item's seller
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	itemID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req struct {
		Score int    `json:"score" validate:"required,min=1,max=5"`
		Text  string `json:"text"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	review, err := h.Negotiation.Review(r.Context(), itemID, userID, req.Score, req.Text)
	if err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			writeErrorMessage(w, http.StatusConflict, "Item already reviewed")
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*models.Review{"review": review})
}

// ListReviews returns the reviews the caller received as a seller
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())

	reviews, err := h.Negotiation.Reviews(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if reviews == nil {
		reviews = []models.Review{}
	}
	writeJSON(w, http.StatusOK, reviews)
}
