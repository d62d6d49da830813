package agent

import (
	"errors"
	"testing"
)

func TestParseGeneratedPersona(t *testing.T) {
	raw := "NAME: Vex\n###\nPROMPT: You are role-playing as Vex, a wandering tinkerer. You must never break character."
	persona, err := ParseGeneratedPersona(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if persona.Name != "Vex" {
		t.Fatalf("name = %q, want Vex", persona.Name)
	}
	if persona.Prompt != "You are role-playing as Vex, a wandering tinkerer. You must never break character." {
		t.Fatalf("prompt = %q", persona.Prompt)
	}
}

func TestParseGeneratedPersonaToleratesSurroundingNoise(t *testing.T) {
	raw := "  NAME:   Quill the Bold \n###\n  PROMPT:\nYou are role-playing as Quill.  "
	persona, err := ParseGeneratedPersona(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if persona.Name != "Quill the Bold" {
		t.Fatalf("name = %q", persona.Name)
	}
	if persona.Prompt != "You are role-playing as Quill." {
		t.Fatalf("prompt = %q", persona.Prompt)
	}
}

func TestParseGeneratedPersonaRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"no separator", "NAME: Vex PROMPT: something"},
		{"empty name", "NAME:\n###\nPROMPT: something"},
		{"empty prompt", "NAME: Vex\n###\nPROMPT:"},
		{"empty input", ""},
	}
	for _, tc := range cases {
		if _, err := ParseGeneratedPersona(tc.raw); !errors.Is(err, ErrPersonaFormat) {
			t.Fatalf("%s: err = %v, want ErrPersonaFormat", tc.name, err)
		}
	}
}
