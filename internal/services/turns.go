package services

import (
	"strings"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

// upstreamTurns drops assistant turns without content. A client that stopped an answer before its
// first delta keeps an empty assistant message in its history, and upstream APIs reject those.
func upstreamTurns(turns []models.Turn) []models.Turn {
	out := make([]models.Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role == models.RoleAssistant && strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}
