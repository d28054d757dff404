package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatstream/internal/chat"
	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/MegaGrindStone/chatstream/internal/render"
	"github.com/MegaGrindStone/chatstream/internal/services"
	"github.com/google/uuid"
)

func main() {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	dataPath := filepath.Join(cfgDir, "chatstream")

	serverURL := flag.String("url", "http://localhost:8000", "base URL of the chat relay")
	thinking := flag.String("thinking", "", `reasoning channel: "on", "off", or empty for the server default`)
	storePath := flag.String("store", filepath.Join(dataPath, "history.db"), "path of the transcript database")
	resume := flag.String("resume", "", "id of a stored conversation to continue")
	style := flag.String("style", "github", "code highlighting style of exported transcripts")
	debug := flag.Bool("debug", false, "log debug output to stderr")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := os.MkdirAll(filepath.Dir(*storePath), 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating data directory: %w", err))
	}
	store, err := services.NewBoltDB(*storePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	renderer, err := render.New(*style)
	if err != nil {
		log.Fatal(err)
	}

	s := &session{
		out:      os.Stdout,
		store:    store,
		renderer: renderer,
		logger:   logger,
		chat: models.Chat{
			ID:        uuid.New().String(),
			CreatedAt: time.Now(),
		},
	}

	opts := []chat.Option{chat.WithOnUpdate(s.livePrinter().update)}
	switch *thinking {
	case "on":
		opts = append(opts, chat.WithThinking(true))
	case "off":
		opts = append(opts, chat.WithThinking(false))
	case "":
	default:
		log.Fatalf("invalid -thinking value %q", *thinking)
	}

	if *resume != "" {
		history, err := s.load(context.Background(), *resume)
		if err != nil {
			log.Fatal(err)
		}
		opts = append(opts, chat.WithHistory(history))
	}

	transport := services.NewHTTPTransport(*serverURL, nil, logger)
	s.ctrl = chat.New(transport, logger, opts...)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)

	fmt.Fprintln(s.out, "Type a message, or /help for commands.")
	s.prompt()

	var streamDone <-chan struct{}
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				s.ctrl.Stop()
				return
			}
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "/") {
				if quit := s.command(line); quit {
					s.ctrl.Stop()
					return
				}
				if !s.ctrl.Active() {
					s.prompt()
				}
				continue
			}
			if line == "" {
				s.prompt()
				continue
			}
			st, err := s.ctrl.Send(line)
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
				continue
			}
			streamDone = st.Done()

		case <-interrupts:
			if s.ctrl.Active() {
				s.ctrl.Stop()
				continue
			}
			fmt.Fprintln(s.out, "\n(use /quit or Ctrl-D to exit)")
			s.prompt()

		case <-streamDone:
			streamDone = nil
			s.finishTurn(context.Background())
			s.prompt()
		}
	}
}
