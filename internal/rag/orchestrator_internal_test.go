package rag

import (
	"strings"
	"testing"

	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

func TestSplitCollectionIDs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []int64
	}{
		{"empty", "", nil},
		{"single", "42", []int64{42}},
		{"multiple with spaces", "1, 2,3 ", []int64{1, 2, 3}},
		{"ignores garbage entries", "1,not-a-number,3", []int64{1, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitCollectionIDs(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("splitCollectionIDs(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("splitCollectionIDs(%q)[%d] = %d, want %d", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLastUserContent(t *testing.T) {
	messages := []models.ChatMessage{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "first question"},
		{Role: "assistant", Content: "an answer"},
		{Role: "user", Content: "second question"},
	}
	if got := lastUserContent(messages); got != "second question" {
		t.Errorf("lastUserContent() = %q, want %q", got, "second question")
	}
}

func TestLastUserContent_NoUserMessage(t *testing.T) {
	messages := []models.ChatMessage{{Role: "system", Content: "be nice"}}
	if got := lastUserContent(messages); got != "" {
		t.Errorf("lastUserContent() = %q, want empty string", got)
	}
}

func TestSimpleAugment_PrependsSystemPrompt(t *testing.T) {
	assistant := &models.Assistant{SystemPrompt: "you are a helpful bot"}
	messages := []models.ChatMessage{{Role: "user", Content: "hi"}}

	out := simpleAugment(messages, assistant, "")
	if len(out) != 2 {
		t.Fatalf("simpleAugment() = %d messages, want 2", len(out))
	}
	if out[0].Role != "system" || out[0].Content != assistant.SystemPrompt {
		t.Errorf("simpleAugment()[0] = %+v, want system prompt prepended", out[0])
	}
}

func TestSimpleAugment_SubstitutesTemplate(t *testing.T) {
	assistant := &models.Assistant{
		PromptTemplate: "Context:\n{context}\n\nQuestion: {user_input}",
	}
	messages := []models.ChatMessage{
		{Role: "user", Content: "what is the capital of France?"},
	}

	out := simpleAugment(messages, assistant, `[{"text":"Paris is the capital"}]`)
	last := out[len(out)-1]
	if !strings.Contains(last.Content, "what is the capital of France?") {
		t.Errorf("simpleAugment() template did not substitute {user_input}: %q", last.Content)
	}
	if !strings.Contains(last.Content, "Paris is the capital") {
		t.Errorf("simpleAugment() template did not substitute {context}: %q", last.Content)
	}
}

func TestSimpleAugment_NoTemplateLeavesMessageUnchanged(t *testing.T) {
	assistant := &models.Assistant{}
	messages := []models.ChatMessage{{Role: "user", Content: "unchanged"}}
	out := simpleAugment(messages, assistant, "some context")
	if out[0].Content != "unchanged" {
		t.Errorf("simpleAugment() without a template = %q, want original content preserved", out[0].Content)
	}
}

func TestContextJSON_Empty(t *testing.T) {
	if got := contextJSON(nil); got != "" {
		t.Errorf("contextJSON(nil) = %q, want empty string", got)
	}
}

func TestContextJSON_MarshalsDocs(t *testing.T) {
	docs := []ragDoc{{CollectionID: 1, Text: "hello", Similarity: 0.9}}
	got := contextJSON(docs)
	if !strings.Contains(got, "hello") {
		t.Errorf("contextJSON() = %q, want it to contain the document text", got)
	}
}
