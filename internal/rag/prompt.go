package rag

import (
	"strings"

	"dialog-rag/internal/models"
)

// ComposePrompt fills the {context}, {history} and {question} slots of
// template in a single pass, so slot values are never expanded again.
func ComposePrompt(template, context string, history []models.DialogTurn, question string) string {
	r := strings.NewReplacer(
		"{context}", context,
		"{history}", RenderHistory(history),
		"{question}", question,
	)
	return r.Replace(template)
}

// RenderHistory writes one "role: content" line per turn.
func RenderHistory(history []models.DialogTurn) string {
	var sb strings.Builder
	for i, turn := range history {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(string(turn.Role))
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
	}
	return sb.String()
}
