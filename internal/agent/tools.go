package agent

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"health-companion/internal/chat"
)

// opReply is what every tool hands back to the model. Operation failures are
// reported as text so the model can correct itself and retry; a bad tool call
// never aborts the turn.
type opReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

func replyOK(result any) *opReply {
	return &opReply{OK: true, Result: result}
}

func replyErr(err error) *opReply {
	return &opReply{OK: false, Error: err.Error()}
}

// buildTools binds the operation catalog to one turn's context. The closures
// hold the context; tool arguments arrive as JSON and are validated by the
// typed input structs at the boundary.
func buildTools(ops *chat.Ops, tc *chat.TurnContext) []tool.BaseTool {
	return []tool.BaseTool{
		utils.NewTool(
			&schema.ToolInfo{
				Name: "create_episode",
				Desc: "Start tracking a new symptom episode. Call get_active_episodes first; if an episode for this symptom already exists, use update_episode instead.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"name": {
						Type:     schema.String,
						Desc:     "The symptom name, e.g. 'headache'",
						Required: true,
					},
					"description": {
						Type: schema.String,
						Desc: "Optional description of the symptom",
					},
				}),
			},
			func(ctx context.Context, input chat.CreateEpisodeInput) (*opReply, error) {
				res, err := ops.CreateEpisode(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name: "update_episode",
				Desc: "Add detail to an existing episode. Only supplied fields change.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"episodeId": {
						Type:     schema.String,
						Desc:     "The episode id",
						Required: true,
					},
					"severity": {
						Type: schema.Integer,
						Desc: "Severity from 1 (mild) to 10 (worst imaginable)",
					},
					"location": {
						Type: schema.String,
						Desc: "Where on the body the symptom occurs",
					},
					"frequency": {
						Type: schema.String,
						Desc: "How often it occurs, e.g. 'daily', 'a few times a week'",
					},
					"triggers": {
						Type:     schema.Array,
						Desc:     "Things that bring the symptom on",
						ElemInfo: &schema.ParameterInfo{Type: schema.String},
					},
					"relievers": {
						Type:     schema.Array,
						Desc:     "Things that relieve the symptom",
						ElemInfo: &schema.ParameterInfo{Type: schema.String},
					},
					"pattern": {
						Type: schema.String,
						Desc: "Any pattern over time, e.g. 'worse in the morning'",
					},
					"note": {
						Type: schema.String,
						Desc: "Free-form timeline note for this episode",
					},
				}),
			},
			func(ctx context.Context, input chat.UpdateEpisodeInput) (*opReply, error) {
				res, err := ops.UpdateEpisode(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name: "link_episodes",
				Desc: "Mark two episodes as related, e.g. a headache that follows neck pain.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"episodeId": {
						Type:     schema.String,
						Desc:     "The episode id",
						Required: true,
					},
					"relatedEpisodeId": {
						Type:     schema.String,
						Desc:     "The id of the related episode",
						Required: true,
					},
				}),
			},
			func(ctx context.Context, input chat.LinkEpisodeInput) (*opReply, error) {
				res, err := ops.LinkEpisode(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name: "resolve_episode",
				Desc: "Mark an episode as resolved when the user says the symptom is gone.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"episodeId": {
						Type:     schema.String,
						Desc:     "The episode id",
						Required: true,
					},
				}),
			},
			func(ctx context.Context, input chat.ResolveEpisodeInput) (*opReply, error) {
				res, err := ops.ResolveEpisode(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name: "record_negative_finding",
				Desc: "Record that the user explicitly denies having a symptom.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"symptomName": {
						Type:     schema.String,
						Desc:     "The denied symptom, e.g. 'fever'",
						Required: true,
					},
					"episodeId": {
						Type: schema.String,
						Desc: "Optional episode this denial relates to",
					},
				}),
			},
			func(ctx context.Context, input chat.RecordNegativeFindingInput) (*opReply, error) {
				res, err := ops.RecordNegativeFinding(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name: "create_assessment",
				Desc: "Record a diagnostic hypothesis once enough detail is gathered.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"hypothesis": {
						Type:     schema.String,
						Desc:     "The primary hypothesis",
						Required: true,
					},
					"confidence": {
						Type:     schema.Number,
						Desc:     "Confidence between 0 and 1",
						Required: true,
					},
					"differentials": {
						Type:     schema.Array,
						Desc:     "Alternative explanations, most likely first",
						ElemInfo: &schema.ParameterInfo{Type: schema.String},
					},
					"reasoning": {
						Type:     schema.String,
						Desc:     "Why this hypothesis fits the findings",
						Required: true,
					},
					"recommendedAction": {
						Type:     schema.String,
						Desc:     "One of: self-care, see-gp, urgent-care, emergency",
						Required: true,
					},
					"negativeFindingIds": {
						Type:     schema.Array,
						Desc:     "Negative finding ids that narrowed the differential",
						ElemInfo: &schema.ParameterInfo{Type: schema.String},
					},
				}),
			},
			func(ctx context.Context, input chat.CreateAssessmentInput) (*opReply, error) {
				res, err := ops.CreateAssessment(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name: "update_assessment",
				Desc: "Revise the existing assessment. Only supplied fields change.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"assessmentId": {
						Type:     schema.String,
						Desc:     "The assessment id",
						Required: true,
					},
					"hypothesis": {
						Type: schema.String,
						Desc: "Revised primary hypothesis",
					},
					"confidence": {
						Type: schema.Number,
						Desc: "Revised confidence between 0 and 1",
					},
					"differentials": {
						Type:     schema.Array,
						Desc:     "Revised differentials",
						ElemInfo: &schema.ParameterInfo{Type: schema.String},
					},
					"reasoning": {
						Type: schema.String,
						Desc: "Revised reasoning",
					},
					"recommendedAction": {
						Type: schema.String,
						Desc: "One of: self-care, see-gp, urgent-care, emergency",
					},
				}),
			},
			func(ctx context.Context, input chat.UpdateAssessmentInput) (*opReply, error) {
				res, err := ops.UpdateAssessment(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name: "schedule_appointment",
				Desc: "Propose a follow-up appointment for the user.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"reason": {
						Type:     schema.String,
						Desc:     "Why the appointment is needed",
						Required: true,
					},
					"scheduledFor": {
						Type: schema.String,
						Desc: "Optional RFC3339 timestamp for the proposed slot",
					},
				}),
			},
			func(ctx context.Context, input chat.ScheduleAppointmentInput) (*opReply, error) {
				res, err := ops.ScheduleAppointment(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name:        "get_active_episodes",
				Desc:        "List the episodes currently being tracked. Use before create_episode to avoid duplicates.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
			},
			func(ctx context.Context, _ struct{}) (*opReply, error) {
				return replyOK(ops.GetActiveEpisodes(ctx, tc)), nil
			},
		),
		utils.NewTool(
			&schema.ToolInfo{
				Name: "get_symptom_history",
				Desc: "List all past episodes for a symptom name.",
				ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
					"symptomName": {
						Type:     schema.String,
						Desc:     "The symptom name",
						Required: true,
					},
				}),
			},
			func(ctx context.Context, input chat.SymptomHistoryInput) (*opReply, error) {
				res, err := ops.GetSymptomHistory(ctx, tc, input)
				if err != nil {
					return replyErr(err), nil
				}
				return replyOK(res), nil
			},
		),
	}
}
