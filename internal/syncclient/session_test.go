package syncclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/tradechat/internal/models"
	"github.com/xtrntr/tradechat/internal/negotiation"
)

// fakeAPI serves a scripted room. Append blocks while hold is set.
type fakeAPI struct {
	mu        sync.Mutex
	msgs      []models.Message
	state     negotiation.State
	role      negotiation.Role
	pollMs    int64
	appendErr error
	ack       *models.Message
	hold      chan struct{}
	confirms  int
}

func (f *fakeAPI) List(ctx context.Context, roomID int64) (*negotiation.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role := f.role
	if role == "" {
		role = negotiation.RoleBuyer
	}
	return &negotiation.Thread{
		Room:           models.Room{ID: roomID, ItemID: 7, BuyerID: 2, SellerID: 1},
		State:          f.state,
		Messages:       append([]models.Message(nil), f.msgs...),
		View:           negotiation.Project(role, f.state),
		PollIntervalMs: f.pollMs,
	}, nil
}

// store appends a message as the server would
func (f *fakeAPI) store(authorID int64, text string) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := models.Message{ID: int64(len(f.msgs) + 1), RoomID: 3, Seq: int64(len(f.msgs) + 1), AuthorID: authorID, Text: text}
	f.msgs = append(f.msgs, m)
	return m
}

func (f *fakeAPI) Append(ctx context.Context, roomID int64, text string) (*models.Message, error) {
	if f.hold != nil {
		<-f.hold
	}
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	if f.ack != nil {
		return f.ack, nil
	}
	m := f.store(2, text)
	return &m, nil
}

func (f *fakeAPI) ConfirmPurchase(ctx context.Context, itemID int64) (negotiation.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	return "", &models.StorageError{Op: "confirm", Err: errors.New("timeout")}
}

func (f *fakeAPI) ConfirmSale(ctx context.Context, itemID int64) (negotiation.State, error) {
	return "", models.ErrForbidden
}

func newTestSession(api API) *Session {
	return NewSession(api, 3, 2, logs.GetLoggerFromLevel(slog.LevelError), WithInterval(10*time.Millisecond))
}

func TestSession_SendIsVisibleBeforeAck(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{state: negotiation.StateOpen, hold: make(chan struct{})}
	s := newTestSession(api)
	require.NoError(t, s.Poll(ctx))

	key, err := s.Send(ctx, "  hello ")
	require.NoError(t, err)

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Provisional)
	assert.Equal(t, key, entries[0].Key)
	assert.Equal(t, "hello", entries[0].Text)
	assert.Zero(t, entries[0].Seq)

	close(api.hold)
	s.Wait()

	// Acknowledged but not yet polled: still provisional
	assert.True(t, s.Messages()[0].Provisional)

	require.NoError(t, s.Poll(ctx))
	entries = s.Messages()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Provisional)
	assert.Equal(t, int64(1), entries[0].Seq)
}

func TestSession_PollSupersedesInFlightAppend(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{state: negotiation.StateOpen, hold: make(chan struct{})}
	s := newTestSession(api)
	require.NoError(t, s.Poll(ctx))

	_, err := s.Send(ctx, "offer 50")
	require.NoError(t, err)

	// The server stored the message but the response has not arrived yet
	stored := api.store(2, "offer 50")
	api.ack = &stored
	require.NoError(t, s.Poll(ctx))

	entries := s.Messages()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Provisional)

	close(api.hold)
	s.Wait()
	require.NoError(t, s.Poll(ctx))
	assert.Len(t, s.Messages(), 1)
}

func TestSession_FailedAppendDroppedOnPoll(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{state: negotiation.StateOpen, appendErr: models.ErrForbidden}
	s := newTestSession(api)
	require.NoError(t, s.Poll(ctx))

	_, err := s.Send(ctx, "lost")
	require.NoError(t, err)
	s.Wait()
	assert.Len(t, s.Messages(), 1)

	require.NoError(t, s.Poll(ctx))
	assert.Empty(t, s.Messages())
}

func TestSession_OptimisticConfirmReplacedByPoll(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{state: negotiation.StateOpen}
	s := newTestSession(api)

	assert.ErrorIs(t, s.ConfirmPurchase(ctx), ErrNotSynced)

	require.NoError(t, s.Poll(ctx))
	err := s.ConfirmPurchase(ctx)
	assert.True(t, models.IsStorage(err))
	assert.Equal(t, 1, api.confirms)
	assert.Equal(t, negotiation.StateBuyerConfirmed, s.State())
	assert.Equal(t, negotiation.LabelAwaitingSeller, s.View().Label)

	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, negotiation.StateOpen, s.State())
	assert.Equal(t, negotiation.ActionConfirmPurchase, s.View().Action)
}

func TestSession_SendOnClosedRoom(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(&fakeAPI{state: negotiation.StateSold})
	require.NoError(t, s.Poll(ctx))

	_, err := s.Send(ctx, "hello")
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = s.Send(ctx, "   ")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSession_Run(t *testing.T) {
	api := &fakeAPI{state: negotiation.StateOpen}
	s := newTestSession(api)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var polls atomic.Int32
	err := s.Run(ctx, func() { polls.Add(1) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestSession_SendBeforeFirstPoll(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{state: negotiation.StateOpen, hold: make(chan struct{})}
	api.store(2, "ok")
	s := newTestSession(api)

	_, err := s.Send(ctx, "ok")
	assert.ErrorIs(t, err, ErrNotSynced)
	assert.Empty(t, s.Messages())

	require.NoError(t, s.Poll(ctx))
	_, err = s.Send(ctx, "ok")
	require.NoError(t, err)

	// An older message with the same text must not swallow the new one
	require.NoError(t, s.Poll(ctx))
	entries := s.Messages()
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Provisional)
	assert.True(t, entries[1].Provisional)

	close(api.hold)
	s.Wait()
	require.NoError(t, s.Poll(ctx))
	entries = s.Messages()
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[1].Seq)
	assert.False(t, entries[1].Provisional)
}

func TestSession_ViewBeforeFirstPoll(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(&fakeAPI{state: negotiation.StateOpen, role: negotiation.RoleSeller})

	assert.Equal(t, negotiation.View{}, s.View())
	_, ok := s.ItemID()
	assert.False(t, ok)

	require.NoError(t, s.Poll(ctx))
	v := s.View()
	assert.Equal(t, negotiation.RoleSeller, v.Role)
	assert.Equal(t, negotiation.ActionNone, v.Action)
	itemID, ok := s.ItemID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), itemID)
}

func TestSession_Interval(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{state: negotiation.StateOpen, pollMs: 250}

	following := NewSession(api, 3, 2, logs.GetLoggerFromLevel(slog.LevelError))
	assert.Equal(t, DefaultInterval, following.Interval())
	require.NoError(t, following.Poll(ctx))
	assert.Equal(t, 250*time.Millisecond, following.Interval())

	fixed := newTestSession(api)
	require.NoError(t, fixed.Poll(ctx))
	assert.Equal(t, 10*time.Millisecond, fixed.Interval())
}
