package agent

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFallbackReply is spoken when reply generation fails or times out.
const DefaultFallbackReply = "Sorry, I'm having trouble thinking right now. Can you repeat that?"

const defaultMaxTokens = 150

// Persona describes how the assistant speaks on a call.
type Persona struct {
	Name          string `yaml:"name"`
	SystemPrompt  string `yaml:"system_prompt"`
	MaxTokens     int    `yaml:"max_tokens"`
	FallbackReply string `yaml:"fallback_reply"`
}

// DefaultPersona returns the built-in voice persona.
func DefaultPersona() Persona {
	return Persona{
		Name: "Miku",
		SystemPrompt: `You are Miku, a personal AI assistant with a warm, playful personality.

Voice characteristics:
- Speak naturally and conversationally (you're having a voice call)
- Keep responses concise (1-3 sentences max) for real-time conversation
- Be helpful, warm, and friendly

Context:
- This is a real-time voice call and the caller hears you through their phone
- Respond quickly and naturally
- If you don't understand, ask for clarification

Be yourself: resourceful, direct, thoughtful. No corporate speak.`,
		MaxTokens:     defaultMaxTokens,
		FallbackReply: DefaultFallbackReply,
	}
}

// LoadPersona reads a YAML persona file. Missing fields keep their defaults.
// An empty path returns DefaultPersona.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}

	var override Persona
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}

	if override.Name != "" {
		p.Name = override.Name
	}
	if s := strings.TrimSpace(override.SystemPrompt); s != "" {
		p.SystemPrompt = s
	}
	if override.MaxTokens > 0 {
		p.MaxTokens = override.MaxTokens
	}
	if s := strings.TrimSpace(override.FallbackReply); s != "" {
		p.FallbackReply = s
	}
	return p, nil
}
