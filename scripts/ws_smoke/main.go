package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vovakirdan/wirecode-server/internal/client"
	"github.com/vovakirdan/wirecode-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "tester", "display name")
	room := flag.String("room", "smoke", "room id")
	code := flag.String("code", "console.log('hello from smoke test')", "text to insert")
	text := flag.String("text", "hello from smoke test", "chat message to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	chatSeen := make(chan struct{}, 1)
	session := client.New(client.Options{
		URL:  *addr,
		Room: *room,
		Name: *user,
		OnUsers: func(users []proto.User) {
			fmt.Printf("room-users: %d online\n", len(users))
		},
		OnChat: func(msg proto.ChatMessage) {
			fmt.Printf("chat [%s] %s: %s\n", msg.CreatedAt, msg.Meta.User, msg.Text)
			if msg.Text == *text {
				select {
				case chatSeen <- struct{}{}:
				default:
				}
			}
		},
		OnError: func(e proto.Error) {
			fmt.Printf("error %s: %s\n", e.Code, e.Msg)
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	if err := session.Ready(ctx); err != nil {
		return fmt.Errorf("join %s: %w", *room, err)
	}
	fmt.Printf("joined %s, language %s, %d runes\n", *room, session.Language(), len([]rune(session.Text())))

	if err := session.Insert(ctx, len([]rune(session.Text())), *code); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if err := session.Chat(ctx, *text); err != nil {
		return fmt.Errorf("chat: %w", err)
	}

	select {
	case <-chatSeen:
		fmt.Printf("ok, buffer is now %q\n", session.Text())
	case <-ctx.Done():
		return fmt.Errorf("chat echo not received: %w", ctx.Err())
	}

	cancel()
	<-runErr
	return nil
}
