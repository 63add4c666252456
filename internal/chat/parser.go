package chat

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// FallbackMessage is shown when the model returned valid JSON that violates
// the response contract (no "message" key at all). Raw JSON never reaches the
// user.
const FallbackMessage = "I'm sorry, I had trouble putting that into words. Could you tell me a bit more about how you're feeling?"

// StructuredReply is the shape the model is asked to produce as its final
// output. Only Message is required; the rest is advisory.
type StructuredReply struct {
	Message           string   `json:"message"`
	FollowUpQuestions []string `json:"followUpQuestions,omitempty"`
}

// ParsedResponse is the outcome of the fallback chain. ContractViolation is
// set when JSON parsed but carried no message key, flagged for monitoring.
type ParsedResponse struct {
	Message           string
	FollowUpQuestions []string
	ContractViolation bool
}

// Parser extracts a usable reply from raw model output. The model is not a
// guaranteed-well-formed JSON emitter; correctness here means never showing
// garbage to the user, not recovering original intent.
type Parser struct {
	log *zap.Logger
}

func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log}
}

var (
	fenceRe   = regexp.MustCompile("```(?:json)?\\s*")
	messageRe = regexp.MustCompile(`"message"\s*:\s*("(?:[^"\\]|\\.)*")`)
)

// Parse runs the fallback chain:
//  1. strip code fences and isolate the {...} candidate
//  2. parse as the structured reply type
//  3. case-insensitive "message" lookup in the parsed document
//  4. regex-extract a "message" string from non-JSON text
//  5. valid JSON without a message key -> fixed fallback, flagged
//  6. trimmed raw text verbatim
func (p *Parser) Parse(raw string) ParsedResponse {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedResponse{Message: ""}
	}

	candidate, hasJSON := isolateJSON(trimmed)
	if hasJSON {
		var reply StructuredReply
		if err := json.Unmarshal([]byte(candidate), &reply); err == nil && strings.TrimSpace(reply.Message) != "" {
			return ParsedResponse{Message: reply.Message, FollowUpQuestions: reply.FollowUpQuestions}
		}

		var doc map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &doc); err == nil {
			if msg, ok := messageFromDoc(doc); ok {
				return ParsedResponse{Message: msg}
			}
			// Well-formed JSON with no message key is a formatting contract
			// violation; answer with the fixed fallback instead of leaking it.
			p.log.Warn("model response missing message field", zap.String("payload", candidate))
			return ParsedResponse{Message: FallbackMessage, ContractViolation: true}
		}
	}

	if msg, ok := regexMessage(trimmed); ok {
		return ParsedResponse{Message: msg}
	}

	return ParsedResponse{Message: trimmed}
}

// isolateJSON strips markdown fences, then cuts from the first '{' to the
// last '}'. The candidate still has to parse to count.
func isolateJSON(s string) (string, bool) {
	s = fenceRe.ReplaceAllString(s, "")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", false
	}
	return candidate, true
}

func messageFromDoc(doc map[string]json.RawMessage) (string, bool) {
	for key, val := range doc {
		if !strings.EqualFold(key, "message") {
			continue
		}
		var msg string
		if err := json.Unmarshal(val, &msg); err == nil && strings.TrimSpace(msg) != "" {
			return msg, true
		}
	}
	return "", false
}

// regexMessage recovers a `"message": "..."` string from text that never
// parsed as JSON, unescaping it through the JSON decoder.
func regexMessage(s string) (string, bool) {
	m := messageRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	var msg string
	if err := json.Unmarshal([]byte(m[1]), &msg); err != nil {
		return "", false
	}
	if strings.TrimSpace(msg) == "" {
		return "", false
	}
	return msg, true
}
