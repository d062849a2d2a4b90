package openaiofficial

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sgi/pkg/llm"
)

func TestTranscript(t *testing.T) {
	instructions, input := transcript([]llm.CompletionMessage{
		llm.NewSystemMessage("rules"),
		llm.NewUserMessage("Combien de projets ?"),
		llm.NewAssistantMessage("Appel query_projects"),
		llm.NewUserMessage(`{"count":2}`),
	})
	assert.Equal(t, "rules", instructions)
	assert.Equal(t, "User: Combien de projets ?\n\nAssistant: Appel query_projects\n\nUser: {\"count\":2}", input)

	_, input = transcript([]llm.CompletionMessage{llm.NewSystemMessage("only")})
	assert.Empty(t, input)
}
