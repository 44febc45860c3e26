package wsgateway

import (
	"fmt"

	"github.com/duplexvoice/gateway/internal/session"
)

// runCommand executes a slash command against the session config in place
// and returns the text to send back as command_result.result.
func runCommand(cfg *session.Config, name string, args []string) (string, error) {
	switch name {
	case "model":
		if len(args) == 0 {
			return "", fmt.Errorf("Unknown command: /model. Type /help for available commands.")
		}
		cfg.LLMModel = args[0]
		return "model set to " + args[0], nil

	case "agent":
		if len(args) == 0 {
			return "", fmt.Errorf("Unknown command: /agent. Type /help for available commands.")
		}
		cfg.AgentID = args[0]
		return "agent set to " + args[0], nil

	case "voice":
		if len(args) == 0 {
			return "", fmt.Errorf("Unknown command: /voice. Type /help for available commands.")
		}
		cfg.TTSVoice = args[0]
		return "voice set to " + args[0], nil

	case "tts":
		if len(args) == 0 || (args[0] != "kokoro" && args[0] != "openai") {
			return "", fmt.Errorf("Unknown command: /tts. Type /help for available commands.")
		}
		cfg.TTSProvider = args[0]
		return "tts provider set to " + args[0], nil

	case "stt":
		if len(args) == 0 || (args[0] != "parakeet" && args[0] != "cloud") {
			return "", fmt.Errorf("Unknown command: /stt. Type /help for available commands.")
		}
		cfg.STTProvider = args[0]
		return "stt provider set to " + args[0], nil

	case "clear":
		*cfg = session.Default()
		return "session cleared", nil

	case "help":
		return "available commands: /model <name>, /agent <name>, /voice <name>, /tts {kokoro|openai}, /stt {parakeet|cloud}, /clear, /help", nil

	default:
		return "", fmt.Errorf("Unknown command: /%s. Type /help for available commands.", name)
	}
}
