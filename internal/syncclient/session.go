// Package syncclient implements the client side of the polling protocol. A
// Session keeps the last authoritative read of a room and a disposable
// optimistic layer on top of it: sent messages show up before the server
// acknowledges them, and confirmations flip the projected state before the
// request completes. Every successful poll replaces the authoritative read and
// discards whatever optimistic state it supersedes.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/xtrntr/tradechat/internal/models"
	"github.com/xtrntr/tradechat/internal/negotiation"
)

// DefaultInterval is the reference polling interval
const DefaultInterval = time.Second

// ErrNotSynced is returned by operations that need a first successful poll
var ErrNotSynced = errors.New("room not synced yet")

// API is the part of the server a session talks to
type API interface {
	List(ctx context.Context, roomID int64) (*negotiation.Thread, error)
	Append(ctx context.Context, roomID int64, text string) (*models.Message, error)
	ConfirmPurchase(ctx context.Context, itemID int64) (negotiation.State, error)
	ConfirmSale(ctx context.Context, itemID int64) (negotiation.State, error)
}

// Entry is one rendered message. Provisional entries have no sequence number.
type Entry struct {
	models.Message
	Provisional   bool      `json:"provisional"`
	Key           string    `json:"key,omitempty"`
	ProvisionalAt time.Time `json:"provisional_at,omitempty"`
}

type pending struct {
	key     string
	text    string
	at      time.Time
	baseSeq int64 // highest authoritative seq when sent
	done    bool
	failed  bool
	ackSeq  int64
}

// Option configures a Session
type Option func(*Session)

// WithInterval sets the polling interval. Without it the session follows the
// interval the server advertises in each thread read.
func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		s.interval = d
		s.fixedInterval = true
	}
}

// WithClock replaces time.Now for provisional timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session synchronizes one room for one user
type Session struct {
	api      API
	roomID   int64
	userID   int64
	log      *slog.Logger
	interval time.Duration
	now      func() time.Time

	fixedInterval bool

	mu         sync.Mutex
	thread     *negotiation.Thread
	pending    []*pending
	optimistic *negotiation.State

	inflight sync.WaitGroup
}

// NewSession creates a session for roomID as userID
func NewSession(api API, roomID, userID int64, log *slog.Logger, opts ...Option) *Session {
	s := &Session{
		api:      api,
		roomID:   roomID,
		userID:   userID,
		log:      log,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Poll fetches the room once and reconciles the local view with it. On error
// the previous view is kept.
func (s *Session) Poll(ctx context.Context) error {
	thread, err := s.api.List(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("poll room %d: %w", s.roomID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.thread = thread
	s.optimistic = nil
	s.pending = reconcile(s.pending, thread.Messages, s.userID)
	return nil
}

// reconcile drops the optimistic entries the authoritative list supersedes:
// failed appends, acknowledged appends whose message is listed, and in-flight
// appends whose message already shows up in the list.
func reconcile(entries []*pending, msgs []models.Message, userID int64) []*pending {
	listed := lo.KeyBy(msgs, func(m models.Message) int64 { return m.Seq })
	claimed := make(map[int64]bool)
	for _, p := range entries {
		if p.done && !p.failed {
			claimed[p.ackSeq] = true
		}
	}

	return lo.Filter(entries, func(p *pending, _ int) bool {
		switch {
		case p.failed:
			return false
		case p.done:
			_, ok := listed[p.ackSeq]
			return !ok
		}
		for _, m := range msgs {
			if m.Seq > p.baseSeq && m.AuthorID == userID && m.Text == p.text && !claimed[m.Seq] {
				claimed[m.Seq] = true
				return false
			}
		}
		return true
	})
}

// Run polls until ctx is done. onPoll, if not nil, runs after every
// successful poll.
func (s *Session) Run(ctx context.Context, onPoll func()) error {
	interval := s.interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("Poll failed", "room_id", s.roomID, "error", err)
		} else {
			if d := s.Interval(); d != interval {
				interval = d
				ticker.Reset(d)
				s.log.Debug("Polling interval changed", "room_id", s.roomID, "interval", d)
			}
			if onPoll != nil {
				onPoll()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Interval returns the polling interval in effect: the one set with
// WithInterval, else the last one advertised by the server, else the default.
func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fixedInterval && s.thread != nil && s.thread.PollIntervalMs > 0 {
		return time.Duration(s.thread.PollIntervalMs) * time.Millisecond
	}
	return s.interval
}

// Send shows text immediately as a provisional entry and appends it in the
// background. It returns the provisional key. The room must have been polled
// once, since provisional entries are matched against messages newer than the
// last authoritative read.
func (s *Session) Send(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("message text is empty: %w", models.ErrInvalidInput)
	}

	s.mu.Lock()
	if s.thread == nil {
		s.mu.Unlock()
		return "", ErrNotSynced
	}
	if s.currentStateLocked().Closed() {
		s.mu.Unlock()
		return "", fmt.Errorf("room %d is closed: %w", s.roomID, models.ErrForbidden)
	}
	p := &pending{key: uuid.NewString(), text: text, at: s.now(), baseSeq: s.maxSeqLocked()}
	s.pending = append(s.pending, p)
	s.mu.Unlock()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		msg, err := s.api.Append(ctx, s.roomID, text)

		s.mu.Lock()
		defer s.mu.Unlock()
		p.done = true
		if err != nil {
			p.failed = true
			s.log.Warn("Append failed, next poll will drop the provisional entry",
				"room_id", s.roomID, "key", p.key, "error", err)
			return
		}
		p.ackSeq = msg.Seq
	}()
	return p.key, nil
}

// ItemID returns the item the room negotiates. It is false before the first poll.
func (s *Session) ItemID() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return 0, false
	}
	return s.thread.Room.ItemID, true
}

// Wait blocks until every background append has returned
func (s *Session) Wait() {
	s.inflight.Wait()
}

// ConfirmPurchase shows the buyer-confirmed state at once and sends the
// confirmation. A failure is not rolled back locally; the next poll corrects it.
func (s *Session) ConfirmPurchase(ctx context.Context) error {
	return s.confirm(ctx, negotiation.StateBuyerConfirmed, s.api.ConfirmPurchase)
}

// ConfirmSale shows the sold state at once and sends the confirmation
func (s *Session) ConfirmSale(ctx context.Context) error {
	return s.confirm(ctx, negotiation.StateSold, s.api.ConfirmSale)
}

func (s *Session) confirm(ctx context.Context, guess negotiation.State,
	op func(context.Context, int64) (negotiation.State, error)) error {
	s.mu.Lock()
	if s.thread == nil {
		s.mu.Unlock()
		return ErrNotSynced
	}
	itemID := s.thread.Room.ItemID
	s.optimistic = &guess
	s.mu.Unlock()

	if _, err := op(ctx, itemID); err != nil {
		s.log.Warn("Confirmation failed, next poll will correct the view", "item_id", itemID, "error", err)
		return err
	}
	return nil
}

func (s *Session) maxSeqLocked() int64 {
	var seq int64
	if s.thread != nil {
		for _, m := range s.thread.Messages {
			seq = max(seq, m.Seq)
		}
	}
	return seq
}

func (s *Session) currentStateLocked() negotiation.State {
	if s.optimistic != nil {
		return *s.optimistic
	}
	if s.thread != nil {
		return s.thread.State
	}
	return negotiation.StateOpen
}

// State returns the projected state: the optimistic guess if one is pending,
// otherwise the last authoritative state.
func (s *Session) State() negotiation.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentStateLocked()
}

// View returns the role-conditioned projection of State. It is empty until the
// first successful poll tells the session which side it is on.
func (s *Session) View() negotiation.View {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.thread == nil {
		return negotiation.View{}
	}
	return negotiation.Project(s.thread.View.Role, s.currentStateLocked())
}

// Messages returns the rendered sequence: authoritative messages by seq, then
// provisional entries in the order they were sent.
func (s *Session) Messages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []Entry
	if s.thread != nil {
		entries = lo.Map(s.thread.Messages, func(m models.Message, _ int) Entry {
			return Entry{Message: m}
		})
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	}

	provisional := lo.Map(s.pending, func(p *pending, _ int) Entry {
		return Entry{
			Message:       models.Message{RoomID: s.roomID, AuthorID: s.userID, Text: p.text},
			Provisional:   true,
			Key:           p.key,
			ProvisionalAt: p.at,
		}
	})
	sort.SliceStable(provisional, func(i, j int) bool {
		return provisional[i].ProvisionalAt.Before(provisional[j].ProvisionalAt)
	})
	return append(entries, provisional...)
}
