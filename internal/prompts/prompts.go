// Package prompts resolves the system prompt sent with each turn's
// upstream LLM request.
package prompts

// DefaultSystem is used when a session has not configured an agent persona.
const DefaultSystem = "You are a helpful voice assistant. Keep responses concise and conversational."

// VoicePrefix is prepended to every transcript sent upstream so the model
// favors short, speakable replies over long written ones.
const VoicePrefix = "[[voice]] Be brief.\n"

// ForSession resolves the final system prompt for a session, given an
// optional agent-specific persona.
func ForSession(agentPersona string) string {
	if agentPersona != "" {
		return agentPersona
	}
	return DefaultSystem
}
