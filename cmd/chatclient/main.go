// Command chatclient is a terminal client for one negotiation room. It polls
// the room at the interval the server advertises, or POLL_INTERVAL when set,
// and sends every line typed on stdin.
//
//	/buy                 confirm the purchase
//	/sell                confirm the sale
//	/review <1-5> [text] rate the seller after buying
//	/quit                leave
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/xtrntr/tradechat/internal/syncclient"
)

type clientConfig struct {
	ServerURL    string        `env:"SERVER_URL,default=http://localhost:8080"`
	Username     string        `env:"CHAT_USERNAME,required=true"`
	Password     string        `env:"CHAT_PASSWORD,required=true"`
	ItemID       int64         `env:"ITEM_ID"`
	RoomID       int64         `env:"ROOM_ID"`
	PollInterval time.Duration `env:"POLL_INTERVAL"`
	LogLevel     string        `env:"LOG_LEVEL,default=WARN"`
}

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	var cfg clientConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if cfg.ItemID == 0 && cfg.RoomID == 0 {
		return errors.New("set ITEM_ID (buyer) or ROOM_ID (seller)")
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := syncclient.NewClient(cfg.ServerURL)
	if err := client.Login(ctx, cfg.Username, cfg.Password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	roomID := cfg.RoomID
	if roomID == 0 {
		room, err := client.ResolveRoom(ctx, cfg.ItemID)
		if err != nil {
			return fmt.Errorf("resolve room: %w", err)
		}
		if room == nil {
			return errors.New("you own this item; pick one of your rooms with ROOM_ID")
		}
		roomID = room.ID
	}

	var opts []syncclient.Option
	if cfg.PollInterval > 0 {
		opts = append(opts, syncclient.WithInterval(cfg.PollInterval))
	}
	session := syncclient.NewSession(client, roomID, client.UserID, log, opts...)
	if err := session.Poll(ctx); err != nil {
		return fmt.Errorf("first poll: %w", err)
	}
	printer := &printer{}
	printer.render(session)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = session.Run(ctx, func() { printer.render(session) })
	}()

	fmt.Printf("Room %d. Type a message, /buy, /sell, /review or /quit.\n", roomID)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				session.Wait()
				return nil
			}
			if err := handleLine(ctx, client, session, strings.TrimSpace(line)); err != nil {
				if errors.Is(err, errQuit) {
					session.Wait()
					return nil
				}
				fmt.Printf("! %v\n", err)
			}
			printer.render(session)
		}
	}
}

var errQuit = errors.New("quit")

func handleLine(ctx context.Context, client *syncclient.Client, session *syncclient.Session, line string) error {
	if rest, ok := strings.CutPrefix(line, "/review"); ok {
		return review(ctx, client, session, strings.TrimSpace(rest))
	}
	switch line {
	case "":
		return nil
	case "/quit":
		return errQuit
	case "/buy":
		return session.ConfirmPurchase(ctx)
	case "/sell":
		return session.ConfirmSale(ctx)
	}
	_, err := session.Send(ctx, line)
	return err
}

// printer writes entries it has not shown yet
type printer struct {
	mu        sync.Mutex
	lastSeq   int64
	shownKeys map[string]bool
	lastState string
}

func (p *printer) render(s *syncclient.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shownKeys == nil {
		p.shownKeys = make(map[string]bool)
	}

	for _, e := range s.Messages() {
		switch {
		case e.Provisional && !p.shownKeys[e.Key]:
			p.shownKeys[e.Key] = true
			fmt.Printf("  (sending) %s\n", e.Text)
		case !e.Provisional && e.Seq > p.lastSeq:
			p.lastSeq = e.Seq
			fmt.Printf("#%d [%d] %s\n", e.Seq, e.AuthorID, e.Text)
		}
	}

	v := s.View()
	status := string(v.State)
	if v.Action != "" {
		status += " -> " + string(v.Action)
	}
	if v.Label != "" {
		status += " (" + string(v.Label) + ")"
	}
	if status != p.lastState {
		p.lastState = status
		fmt.Printf("-- %s\n", status)
	}
}

func review(ctx context.Context, client *syncclient.Client, session *syncclient.Session, args string) error {
	scoreArg, text, _ := strings.Cut(args, " ")
	score, err := strconv.Atoi(scoreArg)
	if err != nil {
		return errors.New("usage: /review <1-5> [text]")
	}
	itemID, ok := session.ItemID()
	if !ok {
		return syncclient.ErrNotSynced
	}
	if _, err := client.Review(ctx, itemID, score, text); err != nil {
		return err
	}
	fmt.Println("-- review recorded")
	return nil
}
