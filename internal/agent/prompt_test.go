package agent

import (
	"strings"
	"testing"
)

func TestPersonas(t *testing.T) {
	names := PersonaNames()
	if strings.Join(names, ",") != "default,zorp,bamboo_sage" {
		t.Fatalf("names = %v", names)
	}
	if GetPersona("nope").Name != DefaultPersona {
		t.Fatal("unknown persona should fall back to default")
	}
	if !IsPersona("bamboo_sage") || IsPersona("nope") {
		t.Fatal("IsPersona mismatch")
	}
	if SystemPrompt("default") != basePrompt {
		t.Fatal("default persona should not modify the base prompt")
	}
	if !strings.HasPrefix(SystemPrompt("bamboo_sage"), "PERSONA OVERRIDE: THE BAMBOO SAGE") {
		t.Fatal("persona modifier should lead the prompt")
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage("hi", nil); got != "hi" {
		t.Fatalf("without context = %q", got)
	}

	got := UserMessage("why?", map[string]any{
		"page":               "payloads",
		"suggestedQuestions": []any{"a"},
		"instructions":       "Only look at blocking jobs.",
	})
	want := "[Current Page Context]\n" +
		"The user is viewing the following page. Use this context to better answer their question:\n\n" +
		"{\n  \"page\": \"payloads\"\n}" +
		"\n\n[Page-Specific Instructions]\nOnly look at blocking jobs." +
		"\n\nUser question: why?"
	if got != want {
		t.Fatalf("message =\n%s\nwant\n%s", got, want)
	}
}
