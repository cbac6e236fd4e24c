// Command sharky is a terminal client for the chat API.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sharkyai/sharky/internal/client"
	"github.com/sharkyai/sharky/internal/logging"
	"github.com/sharkyai/sharky/internal/store"
)

const help = `Commands:
  /new            start a new chat
  /list           list chats
  /select N       switch to chat N from /list
  /rename NAME    rename the current chat
  /delete         delete the current chat
  /quit           exit
Anything else is sent to the current chat.`

type printNotifier struct {
	out io.Writer
}

func (n printNotifier) Success(message string) { fmt.Fprintf(n.out, "✓ %s\n", message) }
func (n printNotifier) Error(message string)   { fmt.Fprintf(n.out, "✗ %s\n", message) }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	baseURL := flag.String("url", envOr("SHARKY_URL", "http://localhost:8080"), "Chat API base URL")
	token := flag.String("token", os.Getenv("SHARKY_TOKEN"), "Session bearer token")
	userID := flag.String("user", os.Getenv("SHARKY_USER"), "Signed-in user id")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	logger, err := logging.New("development", *logLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session := client.StaticSession{ID: *userID, BearerToken: *token}
	notifier := printNotifier{out: os.Stdout}
	chats := client.NewStore(client.NewAPI(*baseURL, session, nil), session, notifier, logger)

	if err := chats.FetchChats(ctx); err != nil {
		if errors.Is(err, client.ErrNotSignedIn) {
			return errors.New("sign in with -user and -token")
		}
		return err
	}
	printSelected(chats)
	fmt.Println(help)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch cmd {
		case "":
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Println(help)
		case "/new":
			if chats.CreateNewChat(ctx) == nil {
				printSelected(chats)
			}
		case "/list":
			printList(chats)
		case "/select":
			selectChat(chats, arg)
		case "/rename":
			if sel, ok := chats.Selected(); ok {
				chats.RenameChat(ctx, sel.ID, arg)
			}
		case "/delete":
			if sel, ok := chats.Selected(); ok && chats.DeleteChat(ctx, sel.ID) == nil {
				printSelected(chats)
			}
		default:
			send(ctx, chats, line)
		}
	}
}

func send(ctx context.Context, chats *client.Store, prompt string) {
	sendCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	err := chats.SendMessage(sendCtx, prompt)
	var sendErr *client.SendError
	switch {
	case err == nil:
		sel, _ := chats.Selected()
		if n := len(sel.Messages); n > 0 && sel.Messages[n-1].Role == store.RoleAssistant {
			fmt.Printf("sharky: %s\n", sel.Messages[n-1].Content)
		}
	case errors.As(err, &sendErr):
		fmt.Printf("not sent, your message was: %s\n", sendErr.Prompt)
	}
}

func selectChat(chats *client.Store, arg string) {
	list := chats.Chats()
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > len(list) {
		fmt.Printf("choose a number between 1 and %d\n", len(list))
		return
	}
	if err := chats.Select(list[n-1].ID); err == nil {
		printSelected(chats)
	}
}

func printList(chats *client.Store) {
	sel, _ := chats.Selected()
	for i, c := range chats.Chats() {
		marker := " "
		if c.ID == sel.ID {
			marker = "*"
		}
		fmt.Printf("%s %d. %s (%d messages, %s)\n", marker, i+1, c.Name, len(c.Messages), c.UpdatedAt.Local().Format(time.DateTime))
	}
}

func printSelected(chats *client.Store) {
	sel, ok := chats.Selected()
	if !ok {
		return
	}
	fmt.Printf("-- %s --\n", sel.Name)
	for _, m := range sel.Messages {
		who := "you"
		if m.Role == store.RoleAssistant {
			who = "sharky"
		}
		fmt.Printf("%s: %s\n", who, m.Content)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
