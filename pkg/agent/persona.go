package agent

import (
	"errors"
	"strings"

	"github.com/quiltfox/fablebot/pkg/session"
)

// ErrPersonaFormat reports a generated persona that does not follow the
// NAME ### PROMPT delimiter format.
var ErrPersonaFormat = errors.New("generated persona does not match expected format")

// ParseGeneratedPersona splits a raw completion into a name and a system
// prompt. The generator is instructed to answer as "NAME: x\n###\nPROMPT: y";
// anything else is rejected rather than guessed at.
func ParseGeneratedPersona(raw string) (session.GeneratedPersona, error) {
	if !strings.Contains(raw, "###") {
		return session.GeneratedPersona{}, errors.Join(ErrPersonaFormat, errors.New("separator not found"))
	}
	parts := strings.SplitN(raw, "###", 2)
	name := strings.TrimSpace(strings.ReplaceAll(parts[0], "NAME:", ""))
	prompt := strings.TrimSpace(strings.ReplaceAll(parts[1], "PROMPT:", ""))
	if name == "" || prompt == "" {
		return session.GeneratedPersona{}, errors.Join(ErrPersonaFormat, errors.New("empty name or prompt"))
	}
	return session.GeneratedPersona{Name: name, Prompt: prompt}, nil
}
