package language

import (
	"errors"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		set     Set
		key     string
		want    string
		wantErr bool
	}{
		{Reader, "Hindi", "hi", false},
		{Reader, "ta", "ta", false},
		{Reader, " english ", "en", false},
		{Reader, "Marathi", "", true},
		{Search, "MR", "mr", false},
		{Tutor, "", "", true},
	}
	for _, tt := range tests {
		got, err := tt.set.Lookup(tt.key)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknown) {
				t.Errorf("Lookup(%q) err = %v, want ErrUnknown", tt.key, err)
			}
			continue
		}
		if err != nil || got.Code != tt.want {
			t.Errorf("Lookup(%q) = %q, %v; want %q", tt.key, got.Code, err, tt.want)
		}
	}
}

func TestSets(t *testing.T) {
	t.Parallel()
	if got := strings.Join(Reader.Names(), ","); got != "English,Hindi,Tamil" {
		t.Errorf("Reader = %s", got)
	}
	if got := strings.Join(Search.Names(), ","); got != "Hindi,Tamil,English,Marathi" {
		t.Errorf("Search = %s", got)
	}
	if DefaultSearch.Code != "en" {
		t.Errorf("DefaultSearch = %q", DefaultSearch.Code)
	}
	for _, l := range append(Tutor, Search...) {
		if l.Instruction == "" {
			t.Errorf("%s has no instruction", l.Name)
		}
	}
}

func TestSearchInstruction(t *testing.T) {
	t.Parallel()
	l, _ := Search.Lookup("Hindi")
	got := SearchInstruction(l)
	want := "You are a highly accurate speech-to-text engine. Your ONLY objective is to accurately transcribe the user's query in Hindi using Devanagari script. Listen intently and transcribe every word exactly as spoken. Do not provide help or chat."
	if got != want {
		t.Errorf("SearchInstruction =\n%s\nwant\n%s", got, want)
	}
}

func TestPrompts(t *testing.T) {
	t.Parallel()
	if got := TranslatePrompt("Habits compound.", Tamil); got != `Translate the following text to Tamil. Provide ONLY the translation, no extra text: "Habits compound."` {
		t.Errorf("TranslatePrompt = %s", got)
	}
	if got := ReadAloudPrompt("Hi", English); got != "Hi" {
		t.Errorf("ReadAloudPrompt(en) = %q", got)
	}
	if got := ReadAloudPrompt("नमस्ते", Hindi); got != "Read this clearly in Hindi: नमस्ते" {
		t.Errorf("ReadAloudPrompt(hi) = %q", got)
	}
	if ChatPrefix(English) != "" || ChatPrefix(Tamil) != "Please respond in Tamil: " {
		t.Error("ChatPrefix mismatch")
	}
}
