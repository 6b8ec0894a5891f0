package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/xtrntr/tradechat/internal/auth"
	"github.com/xtrntr/tradechat/internal/models"
	"github.com/xtrntr/tradechat/internal/negotiation"
)

type ctxKey int

const userIDKey ctxKey = iota

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Negotiation *negotiation.Service
	AuthService *auth.AuthService
	Log         *slog.Logger

	// PollInterval is advertised to clients in every thread read when set
	PollInterval time.Duration

	validate *validator.Validate
}

// NewHandler creates a new handler
func NewHandler(svc *negotiation.Service, authService *auth.AuthService, log *slog.Logger) *Handler {
	return &Handler{Negotiation: svc, AuthService: authService, Log: log, validate: validator.New()}
}

// Routes mounts every endpoint on a new router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/items/{id}/room", h.ResolveRoom)
		r.Post("/items/{id}/confirm-purchase", h.ConfirmPurchase)
		r.Post("/items/{id}/confirm-sale", h.ConfirmSale)
		r.Get("/rooms", h.ListRooms)
		r.Get("/rooms/{id}/messages", h.ListMessages)
		r.Post("/rooms/{id}/messages", h.AppendMessage)
		r.Get("/ledger", h.Ledger)
		r.Post("/items/{id}/review", h.CreateReview)
		r.Get("/reviews", h.ListReviews)
	})
	return r
}

// RequestLogger logs one line per request at debug level
func (h *Handler) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.Log.Debug("Request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the error taxonomy onto HTTP statuses
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.GetReqID(r.Context())
	status, msg := http.StatusInternalServerError, "Internal error"
	switch {
	case errors.Is(err, models.ErrNotFound):
		status, msg = http.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrForbidden):
		status, msg = http.StatusForbidden, "Forbidden"
	case errors.Is(err, models.ErrInvalidTransition):
		status, msg = http.StatusConflict, "Invalid transition"
	case errors.Is(err, models.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrDuplicate):
		status, msg = http.StatusConflict, "Already exists"
	case models.IsStorage(err):
		status, msg = http.StatusServiceUnavailable, "Storage unavailable, retry later"
	}

	if status >= http.StatusInternalServerError {
		h.Log.Error("Request failed", "error", err, "status", status, "request_id", reqID)
	} else {
		h.Log.Debug("Request rejected", "error", err, "status", status, "request_id", reqID)
	}
	writeErrorMessage(w, status, msg)
}

// decode reads a JSON body into v and validates its struct tags
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeErrorMessage(w, http.StatusBadRequest, "Invalid id")
		return 0, false
	}
	return id, true
}

// UserID returns the authenticated user id stored by JWTAuthMiddleware
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required,max=50"`
		Password string `json:"password" validate:"required,max=72"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			writeErrorMessage(w, http.StatusConflict, "Username already taken")
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeErrorMessage(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		userID, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
