package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"health-companion/internal/chat"
	"health-companion/internal/conversation"
)

const systemPrompt = `You are a careful, warm health companion. You help the user describe
their symptoms over time and keep a structured record of what they tell you.

Rules:
- Before creating an episode, call get_active_episodes to avoid duplicates.
- When the user adds detail about a known symptom, call update_episode.
- When the user explicitly denies a symptom, call record_negative_finding.
- Only call create_assessment once you have enough detail; revise with
  update_assessment rather than creating a second one.
- You are not a doctor. For anything that sounds urgent, recommend urgent-care
  or emergency and keep the user calm.

Always finish with a JSON object of the form {"message": "<your reply to the user>"}
and nothing else outside the JSON.

%s`

// Loop runs the tool-calling model loop for one turn. The react agent is
// rebuilt per turn because the tool closures capture that turn's context.
type Loop struct {
	chatModel model.ToolCallingChatModel
	maxSteps  int
	log       *zap.Logger
}

func NewLoop(chatModel model.ToolCallingChatModel, maxSteps int, log *zap.Logger) *Loop {
	if maxSteps <= 0 {
		maxSteps = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{chatModel: chatModel, maxSteps: maxSteps, log: log}
}

func (l *Loop) Run(ctx context.Context, ops *chat.Ops, tc *chat.TurnContext, history []*conversation.Message, userText string) (*chat.LoopResult, error) {
	agent, err := react.NewAgent(ctx, &react.AgentConfig{
		MaxStep:          l.maxSteps,
		ToolCallingModel: l.chatModel,
		ToolsConfig: compose.ToolsNodeConfig{
			Tools: buildTools(ops, tc),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	messages := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(systemPrompt, contextSummary(tc))),
	}
	for _, m := range history {
		switch m.Role {
		case "assistant":
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(m.Content))
		}
	}
	messages = append(messages, schema.UserMessage(userText))

	out, err := agent.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("agent generate: %w", err)
	}
	l.log.Debug("model loop finished", zap.Int("output_len", len(out.Content)))

	return &chat.LoopResult{RawText: out.Content}, nil
}

// contextSummary injects the hydrated working set into the system prompt so
// the model sees what is already tracked.
func contextSummary(tc *chat.TurnContext) string {
	var b strings.Builder

	b.WriteString("Current phase: ")
	b.WriteString(string(tc.Phase))
	b.WriteString("\n")

	active := tc.ActiveEpisodes()
	if len(active) == 0 {
		b.WriteString("No episodes are currently tracked.\n")
	} else {
		b.WriteString("Currently tracked episodes:\n")
		for _, e := range active {
			name := "unknown"
			if sym, ok := tc.Symptom(e.SymptomID); ok {
				name = sym.Name
			}
			fmt.Fprintf(&b, "- %s (id %s, stage %s, started %s)\n",
				name, e.ID, e.Stage, e.StartedAt.Format("2006-01-02"))
		}
	}

	if findings := tc.NegativeFindings(); len(findings) > 0 {
		b.WriteString("Recently denied symptoms:\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s (id %s)\n", f.SymptomName, f.ID)
		}
	}

	if a := tc.Assessment(); a != nil {
		fmt.Fprintf(&b, "Existing assessment %s: %q (confidence %.2f, action %s)\n",
			a.ID, a.Hypothesis, a.Confidence, a.RecommendedAction)
	}

	return b.String()
}
