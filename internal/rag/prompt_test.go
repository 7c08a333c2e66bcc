package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dialog-rag/internal/models"
)

func TestComposePrompt(t *testing.T) {
	history := []models.DialogTurn{
		models.UserTurn("how do I add?"),
		models.AssistantTurn("use +", "how do I add?"),
	}
	got := ComposePrompt("C[{context}] H[{history}] Q[{question}]", "ctx", history, "and sub?")
	assert.Equal(t, "C[ctx] H[user: how do I add?\nassistant: use +] Q[and sub?]", got)
}

func TestComposePromptDoesNotReexpand(t *testing.T) {
	got := ComposePrompt("{context}|{question}", "see {question}", nil, "q {context}")
	assert.Equal(t, "see {question}|q {context}", got)
}

func TestComposePromptEmptySlots(t *testing.T) {
	assert.Equal(t, "||", ComposePrompt("{context}|{history}|{question}", "", nil, ""))
}

func TestDefaultTemplateHasAllSlots(t *testing.T) {
	got := ComposePrompt(models.DefaultPromptTemplate, "CTX", []models.DialogTurn{models.UserTurn("HIST")}, "QUESTION")
	assert.Contains(t, got, "CTX")
	assert.Contains(t, got, "user: HIST")
	assert.Contains(t, got, "QUESTION")
	assert.NotContains(t, got, "{")
}
