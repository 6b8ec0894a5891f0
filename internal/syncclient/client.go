package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xtrntr/tradechat/internal/models"
	"github.com/xtrntr/tradechat/internal/negotiation"
)

// Client calls the negotiation HTTP API on behalf of one user
type Client struct {
	BaseURL string
	Token   string
	UserID  int64
	HTTP    *http.Client
}

// NewClient creates a client for the API at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// statusError turns a non-2xx response into the error taxonomy
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusNotFound:
		kind = models.ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		kind = models.ErrForbidden
	case http.StatusConflict:
		kind = models.ErrInvalidTransition
	case http.StatusBadRequest:
		kind = models.ErrInvalidInput
	default:
		return &models.StorageError{Op: "http " + resp.Status, Err: fmt.Errorf("%s", body.Error)}
	}
	return fmt.Errorf("%s: %w", body.Error, kind)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &models.StorageError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Register creates an account
func (c *Client) Register(ctx context.Context, username, password string) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/register", map[string]string{"username": username, "password": password}, &resp)
	if errors.Is(err, models.ErrInvalidTransition) {
		// 409 on registration means the username is taken
		return 0, fmt.Errorf("username %q: %w", username, models.ErrDuplicate)
	}
	return resp.ID, err
}

// Login obtains a token and keeps it for subsequent calls. The user id is read
// from the token subject; the server remains the one verifying the signature.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"username": username, "password": password}, &resp); err != nil {
		return err
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(resp.Token, &claims); err != nil {
		return fmt.Errorf("malformed token: %w", err)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed token subject %q: %w", claims.Subject, err)
	}
	c.Token = resp.Token
	c.UserID = userID
	return nil
}

// ResolveRoom returns the caller's room for itemID. It is nil for the item's owner.
func (c *Client) ResolveRoom(ctx context.Context, itemID int64) (*models.Room, error) {
	var resp struct {
		Room *models.Room `json:"room"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/items/%d/room", itemID), nil, &resp)
	return resp.Room, err
}

// List fetches the authoritative thread of a room
func (c *Client) List(ctx context.Context, roomID int64) (*negotiation.Thread, error) {
	var thread negotiation.Thread
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/rooms/%d/messages", roomID), nil, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// Append posts a message
func (c *Client) Append(ctx context.Context, roomID int64, text string) (*models.Message, error) {
	var resp struct {
		Message *models.Message `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d/messages", roomID), map[string]string{"text": text}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *Client) confirm(ctx context.Context, itemID int64, action string) (negotiation.State, error) {
	var resp struct {
		State negotiation.State `json:"state"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/items/%d/%s", itemID, action), nil, &resp)
	return resp.State, err
}

// ConfirmPurchase confirms the purchase of itemID
func (c *Client) ConfirmPurchase(ctx context.Context, itemID int64) (negotiation.State, error) {
	return c.confirm(ctx, itemID, "confirm-purchase")
}

// ConfirmSale confirms the sale of itemID
func (c *Client) ConfirmSale(ctx context.Context, itemID int64) (negotiation.State, error) {
	return c.confirm(ctx, itemID, "confirm-sale")
}

// Review rates the seller of itemID after a confirmed purchase
func (c *Client) Review(ctx context.Context, itemID int64, score int, text string) (*models.Review, error) {
	var resp struct {
		Review *models.Review `json:"review"`
	}
	body := map[string]any{"score": score, "text": text}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/items/%d/review", itemID), body, &resp); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) && strings.Contains(err.Error(), "already reviewed") {
			return nil, fmt.Errorf("item %d: %w", itemID, models.ErrDuplicate)
		}
		return nil, err
	}
	return resp.Review, nil
}

// Reviews lists the reviews the logged-in user received
func (c *Client) Reviews(ctx context.Context) ([]models.Review, error) {
	var reviews []models.Review
	if err := c.do(ctx, http.MethodGet, "/reviews", nil, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}
