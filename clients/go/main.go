// Chat CLI - command line client for the chat server
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ROMARIC12/chatfull/clients/go/chat"
	"github.com/ROMARIC12/chatfull/internal/models"
	"github.com/ROMARIC12/chatfull/internal/realtime"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("CHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := chat.NewClient(baseURL)
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat register <name>")
			os.Exit(1)
		}
		resp, err := client.Register(ctx, os.Args[2], mustEnv("CHAT_EMAIL"), mustEnv("CHAT_PASSWORD"))
		exitOnError(err)
		fmt.Printf("Registered as: %s\n", resp.User.ID)

	case "conversations":
		login(ctx, client)
		convs, err := client.Conversations(ctx)
		exitOnError(err)
		for _, c := range convs {
			fmt.Printf("  %s  %s\n", c.ID, title(c, client.UserID))
		}

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat read <conversation_id>")
			os.Exit(1)
		}
		login(ctx, client)
		msgs, err := client.Messages(ctx, mustUUID(os.Args[2]))
		exitOnError(err)
		for _, m := range msgs {
			printMessage(m)
		}

	case "post":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chat post <conversation_id> <message>")
			os.Exit(1)
		}
		login(ctx, client)
		msg, err := client.Send(ctx, mustUUID(os.Args[2]), strings.Join(os.Args[3:], " "))
		exitOnError(err)
		fmt.Printf("Posted: %s\n", msg.ID)

	case "upload":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chat upload <conversation_id> <file>...")
			os.Exit(1)
		}
		login(ctx, client)
		msg, err := client.SendFiles(ctx, mustUUID(os.Args[2]), os.Args[3:]...)
		exitOnError(err)
		for _, m := range msg.Media {
			fmt.Printf("Uploaded: %s (%s)\n", m.URL, m.Type)
		}

	case "dm":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat dm <email>")
			os.Exit(1)
		}
		login(ctx, client)
		peer, err := client.FindUser(ctx, os.Args[2])
		exitOnError(err)
		conv, err := client.CreateDirect(ctx, peer.ID)
		exitOnError(err)
		fmt.Printf("Conversation: %s\n", conv.ID)

	case "chat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chat chat <conversation_id>")
			os.Exit(1)
		}
		login(ctx, client)
		interactive(ctx, client, mustUUID(os.Args[2]))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// interactive opens a conversation, prints incoming events and sends each
// line read from stdin.
func interactive(ctx context.Context, client *chat.Client, conversationID uuid.UUID) {
	client.OnEvent = func(event string, data json.RawMessage) {
		switch event {
		case realtime.EventMessageReceived:
			var m models.MessageView
			if json.Unmarshal(data, &m) == nil && m.ConversationID() == conversationID {
				printMessage(m)
			}
		case realtime.EventTyping:
			fmt.Println("... typing")
		case realtime.EventChatDeleted:
			fmt.Println("conversation deleted")
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := client.Connect(connectCtx)
	cancel()
	exitOnError(err)
	defer client.Close()

	history, err := client.Open(ctx, conversationID)
	exitOnError(err)
	for _, m := range history {
		printMessage(m)
	}

	typing := chat.NewTypingNotifier(client.Emit, chat.DefaultTypingTimeout)
	defer typing.Close()

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
		case <-client.Done():
			fmt.Fprintln(os.Stderr, "connection closed")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			_ = typing.Keystroke(conversationID)
			_, err := client.Send(ctx, conversationID, line)
			_ = typing.Stop(conversationID)
			if err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		}
	}
}

func login(ctx context.Context, client *chat.Client) {
	_, err := client.Login(ctx, mustEnv("CHAT_EMAIL"), mustEnv("CHAT_PASSWORD"))
	exitOnError(err)
}

func title(c models.ConversationView, self uuid.UUID) string {
	if c.IsGroup {
		return c.Name
	}
	for _, m := range c.Members {
		if m.ID != self {
			return m.Name
		}
	}
	return "(empty)"
}

func printMessage(m models.MessageView) {
	ts := m.CreatedAt.Local().Format("2006-01-02 15:04:05")
	body := m.Content
	if body == "" && len(m.Media) > 0 {
		body = fmt.Sprintf("[%d attachment(s)]", len(m.Media))
	}
	fmt.Printf("[%s] %s: %s\n", ts, m.Sender.Name, body)
}

func usage() {
	fmt.Println(`Chat CLI

Usage: chat <command> [options]

Commands:
  register <name>                 Register a new account
  conversations                   List your conversations
  read <conversation_id>          Print a conversation's history
  post <conversation_id> <text>   Send a message
  upload <conversation_id> <file> Send files
  dm <email>                      Open a conversation with a user
  chat <conversation_id>          Interactive session over the websocket
  health                          Check server health

Environment:
  CHAT_URL       Server URL (default: http://localhost:8080)
  CHAT_EMAIL     Account email
  CHAT_PASSWORD  Account password`)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "%s is not set\n", key)
		os.Exit(1)
	}
	return v
}

func mustUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	exitOnError(err)
	return id
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
