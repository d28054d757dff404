// Package render turns transcripts into HTML. Message bodies are Markdown; fenced code blocks are
// syntax-highlighted with inline styles so an exported page needs no external assets.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	chatstream "github.com/MegaGrindStone/chatstream"
	"github.com/MegaGrindStone/chatstream/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Renderer converts Markdown and whole transcripts to HTML. It is safe for concurrent use.
type Renderer struct {
	md        goldmark.Markdown
	templates *template.Template
}

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Reasoning template.HTML
	CreatedAt time.Time
	Usage     *models.Usage
}

type transcriptData struct {
	Title    string
	Messages []message
}

// New creates a Renderer using the given chroma style for code blocks, e.g. "github" or "monokai".
func New(style string) (Renderer, error) {
	tmpl, err := template.ParseFS(chatstream.TemplateFS, "templates/*.html")
	if err != nil {
		return Renderer{}, fmt.Errorf("error parsing templates: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(highlighting.WithStyle(style)),
		),
	)

	return Renderer{
		md:        md,
		templates: tmpl,
	}, nil
}

// Markdown renders src to HTML. Raw HTML in src is not passed through.
func (r Renderer) Markdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("error converting markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// Transcript writes messages to w as a standalone HTML page titled title.
func (r Renderer) Transcript(w io.Writer, title string, messages []models.Message) error {
	data := transcriptData{
		Title:    title,
		Messages: make([]message, 0, len(messages)),
	}
	for _, msg := range messages {
		content, err := r.Markdown(msg.Content)
		if err != nil {
			return fmt.Errorf("message %s: %w", msg.ID, err)
		}
		var reasoning template.HTML
		if msg.Reasoning != "" {
			if reasoning, err = r.Markdown(msg.Reasoning); err != nil {
				return fmt.Errorf("message %s reasoning: %w", msg.ID, err)
			}
		}
		data.Messages = append(data.Messages, message{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Content:   content,
			Reasoning: reasoning,
			CreatedAt: msg.CreatedAt,
			Usage:     msg.Usage,
		})
	}

	if err := r.templates.ExecuteTemplate(w, "transcript", data); err != nil {
		return fmt.Errorf("error executing transcript template: %w", err)
	}
	return nil
}
