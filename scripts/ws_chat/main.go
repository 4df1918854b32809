package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vovakirdan/wirecode-server/internal/client"
	"github.com/vovakirdan/wirecode-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "cli-user", "display name")
	room := flag.String("room", "general", "room to join")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := client.New(client.Options{
		URL:  *addr,
		Room: *room,
		Name: *user,
		OnChange: func(text string) {
			fmt.Printf("--- buffer ---\n%s\n--------------\n", text)
		},
		OnLanguage: func(language string) {
			fmt.Printf("[room %s] language is %s\n", *room, language)
		},
		OnChat: func(msg proto.ChatMessage) {
			fmt.Printf("[%s] %s: %s\n", *room, msg.Meta.User, msg.Text)
		},
		OnUsers: func(users []proto.User) {
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, u.Name)
			}
			fmt.Printf("[room %s] online: %s\n", *room, strings.Join(names, ", "))
		},
		OnError: func(e proto.Error) {
			fmt.Printf("error %s: %s\n", e.Code, e.Msg)
		},
	})

	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("session: %v", err)
		}
	}()

	if err := session.Ready(ctx); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	fmt.Printf("Connected to %s as %s in room %s\n", *addr, *user, *room)
	fmt.Println("Type messages and press Enter to send.")
	fmt.Println("  /append <text>   append a line to the buffer")
	fmt.Println("  /lang <language> switch the room language")
	fmt.Println("Ctrl+C to exit.")

	writeLoop(ctx, session)
	return nil
}

func writeLoop(ctx context.Context, session *client.Session) {
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
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			var err error
			switch {
			case strings.HasPrefix(text, "/append "):
				buf := session.Text()
				if buf != "" && !strings.HasSuffix(buf, "\n") {
					buf += "\n"
				}
				err = session.Replace(ctx, buf+strings.TrimPrefix(text, "/append ")+"\n")
			case strings.HasPrefix(text, "/lang "):
				err = session.SetLanguage(ctx, strings.TrimSpace(strings.TrimPrefix(text, "/lang ")))
			default:
				err = session.Chat(ctx, text)
			}
			if err != nil {
				log.Printf("send error: %v", err)
			}
		}
	}
}
