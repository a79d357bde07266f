package helpers

import "testing"

func TestExtractJSON_PlainObject(t *testing.T) {
	got, err := ExtractJSON(`{"entities": ["Gujarat", "Ahmedabad"]}`)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	want := `{"entities": ["Gujarat", "Ahmedabad"]}`
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestExtractJSON_FencedWithLanguageTag(t *testing.T) {
	in := "Here is the result:\n```json\n{\"action\": \"final_answer\"}\n```\nDone."
	got, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if got != `{"action": "final_answer"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSON_SurroundingCommentary(t *testing.T) {
	in := `Sure! The answer is {"thought": "look { in } braces", "action": "search"} as requested.`
	got, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if got != `{"thought": "look { in } braces", "action": "search"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	in := `{"q": "clause {4.2} applies \"always\""}`
	got, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if got != in {
		t.Fatalf("expected %q, got %q", in, got)
	}
}

func TestExtractJSON_NoJSON(t *testing.T) {
	if _, err := ExtractJSON("no structured output here"); err == nil {
		t.Fatal("expected error for input without JSON")
	}
}

func TestExtractJSON_UnterminatedObject(t *testing.T) {
	if _, err := ExtractJSON(`{"a": [1, 2`); err == nil {
		t.Fatal("expected error for unbalanced JSON")
	}
}
