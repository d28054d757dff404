package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/chat"
	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/render"
	"github.com/MegaGrindStone/chatstream/internal/services"
	"github.com/google/uuid"
)

const (
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"

	titleLength = 60
)

// session is one interactive run of the terminal client.
type session struct {
	out      io.Writer
	ctrl     *chat.Controller
	store    services.BoltDB
	renderer render.Renderer
	logger   *slog.Logger

	chat models.Chat
	live *printer
}

// printer writes the streamed deltas of the trailing assistant message as they arrive.
type printer struct {
	out io.Writer

	id        string
	reasoning int
	content   int
}

func (s *session) livePrinter() *printer {
	if s.live == nil {
		s.live = &printer{out: s.out}
	}
	return s.live
}

func (p *printer) update(snap chat.Snapshot) {
	if len(snap.Messages) == 0 {
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != models.RoleAssistant {
		return
	}
	if last.ID != p.id {
		p.id = last.ID
		p.reasoning, p.content = 0, 0
	}

	if len(last.Reasoning) > p.reasoning {
		fmt.Fprint(p.out, ansiDim, last.Reasoning[p.reasoning:], ansiReset)
		p.reasoning = len(last.Reasoning)
	}
	if len(last.Content) > p.content {
		if p.content == 0 && p.reasoning > 0 {
			fmt.Fprint(p.out, "\n\n")
		}
		fmt.Fprint(p.out, last.Content[p.content:])
		p.content = len(last.Content)
	}
}

func (s *session) prompt() {
	fmt.Fprint(s.out, "> ")
}

// command runs a slash command and reports whether the client should exit.
func (s *session) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/stop":
		s.ctrl.Stop()
	case "/clear":
		s.ctrl.Clear()
		s.chat = models.Chat{
			ID:        uuid.New().String(),
			CreatedAt: time.Now(),
		}
		fmt.Fprintln(s.out, "Conversation cleared.")
	case "/export":
		if arg == "" {
			fmt.Fprintln(s.out, "usage: /export <file.html>")
			break
		}
		if err := s.export(arg); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			break
		}
		fmt.Fprintf(s.out, "Exported to %s\n", arg)
	case "/history":
		if err := s.history(context.Background()); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	case "/help":
		fmt.Fprintln(s.out, "/stop             stop the answer being generated (or press Ctrl-C)")
		fmt.Fprintln(s.out, "/clear            start a new conversation")
		fmt.Fprintln(s.out, "/export <file>    write the conversation as HTML")
		fmt.Fprintln(s.out, "/history          list stored conversations")
		fmt.Fprintln(s.out, "/quit             exit")
	default:
		fmt.Fprintf(s.out, "unknown command %s, try /help\n", name)
	}
	return false
}

// finishTurn reports the end of a stream and persists the conversation.
func (s *session) finishTurn(ctx context.Context) {
	snap := s.ctrl.Snapshot()
	fmt.Fprintln(s.out)
	if snap.Err != "" {
		fmt.Fprintf(s.out, "error: %s\n", snap.Err)
	}
	if len(snap.Messages) == 0 {
		return
	}

	if s.chat.Title == "" {
		s.chat.Title = title(snap.Messages)
	}
	if err := s.store.SaveChat(ctx, s.chat, snap.Messages); err != nil {
		s.logger.Error("Failed to save conversation",
			slog.String("chatID", s.chat.ID),
			slog.String("err", err.Error()))
	}
}

func (s *session) load(ctx context.Context, chatID string) ([]models.Message, error) {
	c, err := s.store.Chat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.Messages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	s.chat = c

	for _, msg := range messages {
		fmt.Fprintf(s.out, "[%s] %s\n", msg.Role, msg.Content)
	}
	return messages, nil
}

func (s *session) history(ctx context.Context) error {
	chats, err := s.store.Chats(ctx)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Fprintln(s.out, "No stored conversations.")
	}
	for _, c := range chats {
		fmt.Fprintf(s.out, "%s  %s  %s\n", c.ID, c.CreatedAt.Format("2006-01-02 15:04"), c.Title)
	}
	return nil
}

func (s *session) export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	messages := s.ctrl.Messages()
	t := s.chat.Title
	if t == "" {
		t = title(messages)
	}
	return s.renderer.Transcript(f, t, messages)
}

// title derives a conversation title from its first user message.
func title(messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role != models.RoleUser {
			continue
		}
		t := strings.Join(strings.Fields(msg.Content), " ")
		if r := []rune(t); len(r) > titleLength {
			t = string(r[:titleLength]) + "…"
		}
		return t
	}
	return "Untitled"
}
