package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/xtrntr/tradechat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/001_init.sql
var schema string

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return storageErr("ping", db.Pool.Ping(ctx))
}

// Migrate applies the embedded schema. It is safe to run more than once.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return models.Storage(op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("username %q: %w", username, models.ErrDuplicate)
		}
		return nil, storageErr("create user", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, models.ErrNotFound)
		}
		return nil, storageErr("get user", err)
	}
	return user, nil
}

const itemColumns = "id, seller_id, name, price, purchase_confirmed, sale_confirmed, buyer_id, created_at, updated_at"

func scanItem(row pgx.Row, item *models.Item) error {
	return row.Scan(&item.ID, &item.SellerID, &item.Name, &item.Price,
		&item.PurchaseConfirmed, &item.SaleConfirmed, &item.BuyerID, &item.CreatedAt, &item.UpdatedAt)
}

// CreateItem lists a new item. Listing management lives outside this service;
// this exists for seeding and tests.
func (db *DB) CreateItem(ctx context.Context, sellerID int64, name string, price int64) (*models.Item, error) {
	item := &models.Item{}
	err := scanItem(db.Pool.QueryRow(ctx,
		"INSERT INTO items (seller_id, name, price) VALUES ($1, $2, $3) RETURNING "+itemColumns,
		sellerID, name, price), item)
	if err != nil {
		return nil, storageErr("create item", err)
	}
	return item, nil
}

// GetItem retrieves an item by id
func (db *DB) GetItem(ctx context.Context, itemID int64) (*models.Item, error) {
	item := &models.Item{}
	err := scanItem(db.Pool.QueryRow(ctx, "SELECT "+itemColumns+" FROM items WHERE id = $1", itemID), item)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %d: %w", itemID, models.ErrNotFound)
		}
		return nil, storageErr("get item", err)
	}
	return item, nil
}

const roomColumns = "id, item_id, buyer_id, seller_id, created_at, updated_at"

func scanRoom(row pgx.Row, room *models.Room) error {
	return row.Scan(&room.ID, &room.ItemID, &room.BuyerID, &room.SellerID, &room.CreatedAt, &room.UpdatedAt)
}

// GetRoom retrieves a room by id
func (db *DB) GetRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	room := &models.Room{}
	err := scanRoom(db.Pool.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1", roomID), room)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("room %d: %w", roomID, models.ErrNotFound)
		}
		return nil, storageErr("get room", err)
	}
	return room, nil
}

// FindRoom retrieves the room for an (item, buyer, seller) triple
func (db *DB) FindRoom(ctx context.Context, itemID, buyerID, sellerID int64) (*models.Room, error) {
	room := &models.Room{}
	err := scanRoom(db.Pool.QueryRow(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE item_id = $1 AND buyer_id = $2 AND seller_id = $3",
		itemID, buyerID, sellerID), room)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("room for item %d buyer %d: %w", itemID, buyerID, models.ErrNotFound)
		}
		return nil, storageErr("find room", err)
	}
	return room, nil
}

// CreateRoom inserts a room. The unique (item_id, buyer_id, seller_id)
// constraint turns a concurrent duplicate into models.ErrDuplicate.
func (db *DB) CreateRoom(ctx context.Context, itemID, buyerID, sellerID int64) (*models.Room, error) {
	room := &models.Room{}
	err := scanRoom(db.Pool.QueryRow(ctx,
		"INSERT INTO rooms (item_id, buyer_id, seller_id) VALUES ($1, $2, $3) RETURNING "+roomColumns,
		itemID, buyerID, sellerID), room)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("room for item %d buyer %d: %w", itemID, buyerID, models.ErrDuplicate)
		}
		return nil, storageErr("create room", err)
	}
	return room, nil
}

// ListRooms returns the rooms userID takes part in, most recently active first
func (db *DB) ListRooms(ctx context.Context, userID int64) ([]models.RoomSummary, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT r.id, r.item_id, r.buyer_id, r.seller_id, r.created_at, r.updated_at,
		       i.name, i.purchase_confirmed, i.sale_confirmed,
		       COALESCE((SELECT m.text FROM messages m WHERE m.room_id = r.id ORDER BY m.seq DESC LIMIT 1), '')
		FROM rooms r
		JOIN items i ON i.id = r.item_id
		WHERE r.buyer_id = $1 OR r.seller_id = $1
		ORDER BY r.updated_at DESC, r.id DESC
	`, userID)
	if err != nil {
		return nil, storageErr("list rooms", err)
	}
	defer rows.Close()

	var summaries []models.RoomSummary
	for rows.Next() {
		var s models.RoomSummary
		if err := rows.Scan(
			&s.Room.ID, &s.Room.ItemID, &s.Room.BuyerID, &s.Room.SellerID, &s.Room.CreatedAt, &s.Room.UpdatedAt,
			&s.ItemName, &s.PurchaseConfirmed, &s.SaleConfirmed, &s.LastMessage,
		); err != nil {
			return nil, storageErr("scan room", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list rooms", err)
	}
	return summaries, nil
}

// AppendMessage stores a message with the next sequence number of its room.
// The item row is share-locked so the sold check cannot interleave with
// TransitionItem, and the rooms row lock serializes sequence assignment.
func (db *DB) AppendMessage(ctx context.Context, roomID, authorID int64, text string) (*models.Message, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	var itemID int64
	err = tx.QueryRow(ctx, "SELECT item_id FROM rooms WHERE id = $1", roomID).Scan(&itemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("room %d: %w", roomID, models.ErrNotFound)
		}
		return nil, storageErr("get room", err)
	}

	var sold bool
	err = tx.QueryRow(ctx, "SELECT sale_confirmed FROM items WHERE id = $1 FOR SHARE", itemID).Scan(&sold)
	if err != nil {
		return nil, storageErr("lock item", err)
	}
	if sold {
		return nil, fmt.Errorf("room %d is closed: %w", roomID, models.ErrForbidden)
	}

	msg := &models.Message{RoomID: roomID, AuthorID: authorID, Text: text}
	err = tx.QueryRow(ctx,
		"UPDATE rooms SET next_seq = next_seq + 1, updated_at = now() WHERE id = $1 RETURNING next_seq",
		roomID).Scan(&msg.Seq)
	if err != nil {
		return nil, storageErr("assign sequence", err)
	}

	err = tx.QueryRow(ctx,
		"INSERT INTO messages (room_id, seq, author_id, text) VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		roomID, msg.Seq, authorID, text).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return nil, storageErr("create message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit transaction", err)
	}
	return msg, nil
}

// ListMessages returns the room's messages in sequence order
func (db *DB) ListMessages(ctx context.Context, roomID int64) ([]models.Message, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, room_id, seq, author_id, text, created_at FROM messages WHERE room_id = $1 ORDER BY seq ASC",
		roomID)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Seq, &m.AuthorID, &m.Text, &m.CreatedAt); err != nil {
			return nil, storageErr("scan message", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return msgs, nil
}

// TransitionItem updates the item's flags only if they still equal t.From,
// and writes t.Ledger in the same transaction.
func (db *DB) TransitionItem(ctx context.Context, t models.ItemTransition) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, storageErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE items
		SET purchase_confirmed = $2, sale_confirmed = $3, buyer_id = COALESCE($4, buyer_id), updated_at = now()
		WHERE id = $1 AND purchase_confirmed = $5 AND sale_confirmed = $6
	`, t.ItemID, t.To.PurchaseConfirmed, t.To.SaleConfirmed, t.BuyerID, t.From.PurchaseConfirmed, t.From.SaleConfirmed)
	if err != nil {
		return false, storageErr("update item", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		err = tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)", t.ItemID).Scan(&exists)
		if err != nil {
			return false, storageErr("check item existence", err)
		}
		if !exists {
			return false, fmt.Errorf("item %d: %w", t.ItemID, models.ErrNotFound)
		}
		return false, nil
	}

	for _, e := range t.Ledger {
		_, err := tx.Exec(ctx,
			"INSERT INTO ledger_entries (kind, user_id, counterparty_id, item_id, room_id) VALUES ($1, $2, $3, $4, $5)",
			string(e.Kind), e.UserID, e.CounterpartyID, e.ItemID, e.RoomID)
		if err != nil {
			if isUniqueViolation(err) {
				return false, fmt.Errorf("%s entry for item %d: %w", e.Kind, e.ItemID, models.ErrDuplicate)
			}
			return false, storageErr("create ledger entry", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storageErr("commit transaction", err)
	}
	return true, nil
}

// ListLedger returns userID's entries of the given kind, newest first
func (db *DB) ListLedger(ctx context.Context, userID int64, kind models.LedgerKind) ([]models.LedgerEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, kind, user_id, counterparty_id, item_id, room_id, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND kind = $2
		ORDER BY created_at DESC, id DESC
	`, userID, string(kind))
	if err != nil {
		return nil, storageErr("list ledger", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var k string
		if err := rows.Scan(&e.ID, &k, &e.UserID, &e.CounterpartyID, &e.ItemID, &e.RoomID, &e.CreatedAt); err != nil {
			return nil, storageErr("scan ledger entry", err)
		}
		e.Kind = models.LedgerKind(k)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list ledger", err)
	}
	return entries, nil
}

// CreateReview inserts a review. The unique (item_id, author_id) constraint
// turns a second review of the same deal into models.ErrDuplicate.
func (db *DB) CreateReview(ctx context.Context, review models.Review) (*models.Review, error) {
	r := review
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO reviews (item_id, author_id, subject_id, score, text) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		r.ItemID, r.AuthorID, r.SubjectID, r.Score, r.Text).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("review of item %d by %d: %w", r.ItemID, r.AuthorID, models.ErrDuplicate)
		}
		return nil, storageErr("create review", err)
	}
	return &r, nil
}

// ListReviews returns the reviews received by subjectID, newest first
func (db *DB) ListReviews(ctx context.Context, subjectID int64) ([]models.Review, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, item_id, author_id, subject_id, score, text, created_at
		FROM reviews
		WHERE subject_id = $1
		ORDER BY created_at DESC, id DESC
	`, subjectID)
	if err != nil {
		return nil, storageErr("list reviews", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.ItemID, &r.AuthorID, &r.SubjectID, &r.Score, &r.Text, &r.CreatedAt); err != nil {
			return nil, storageErr("scan review", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list reviews", err)
	}
	return reviews, nil
}
