package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-companion/internal/record"
)

func newTestOps(store *fakeStore, pub Publisher) *Ops {
	return NewOps(store, pub, nil)
}

func TestCreateEpisodeSuppressesDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	pub := &capturePublisher{}
	ops := newTestOps(store, pub)
	tc := newTurnContext(uuid.New())

	first, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)
	assert.False(t, first.Existing)

	second, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "  headache "})
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.EpisodeID, second.EpisodeID)
	assert.Contains(t, second.Note, "update_episode")

	assert.Len(t, store.episodes, 1)
	assert.Len(t, tc.Changes(), 1)
	assert.Len(t, pub.events, 1)
}

func TestCreateEpisodeReusesExistingSymptom(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	userID := uuid.New()

	sym := &record.Symptom{ID: uuid.New(), UserID: userID, Name: "Headache", CreatedAt: time.Now()}
	require.NoError(t, store.SaveSymptom(ctx, sym))

	tc := newTurnContext(userID)
	res, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "headache", Description: "throbbing"})
	require.NoError(t, err)

	assert.Equal(t, sym.ID, res.SymptomID)
	assert.Len(t, store.symptoms, 1)
	assert.Equal(t, "throbbing", store.symptoms[sym.ID].Description)
}

func TestCreateEpisodeAfterResolveOpensNewEpisode(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	first, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)

	_, err = ops.ResolveEpisode(ctx, tc, ResolveEpisodeInput{EpisodeID: first.EpisodeID})
	require.NoError(t, err)

	second, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)
	assert.False(t, second.Existing)
	assert.NotEqual(t, first.EpisodeID, second.EpisodeID)
}

func TestUpdateEpisodeAdvancesStage(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	created, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)

	sev := 6
	res, err := ops.UpdateEpisode(ctx, tc, UpdateEpisodeInput{EpisodeID: created.EpisodeID, Severity: &sev})
	require.NoError(t, err)
	assert.Equal(t, record.StageExplored, res.Stage)

	loc := "temples"
	freq := "daily"
	res, err = ops.UpdateEpisode(ctx, tc, UpdateEpisodeInput{
		EpisodeID: created.EpisodeID,
		Location:  &loc,
		Frequency: &freq,
	})
	require.NoError(t, err)
	assert.Equal(t, record.StageCharacterized, res.Stage)
}

func TestUpdateEpisodeStageNeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	a, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)
	b, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Nausea"})
	require.NoError(t, err)

	linked, err := ops.LinkEpisode(ctx, tc, LinkEpisodeInput{EpisodeID: a.EpisodeID, RelatedEpisodeID: b.EpisodeID})
	require.NoError(t, err)
	assert.Equal(t, record.StageLinked, linked.Stage)

	// a sparse update would otherwise map to an earlier stage
	sev := 4
	res, err := ops.UpdateEpisode(ctx, tc, UpdateEpisodeInput{EpisodeID: a.EpisodeID, Severity: &sev})
	require.NoError(t, err)
	assert.Equal(t, record.StageLinked, res.Stage)
}

func TestUpdateEpisodeRejectsSeverityOutOfRange(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	created, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)

	sev := 11
	_, err = ops.UpdateEpisode(ctx, tc, UpdateEpisodeInput{EpisodeID: created.EpisodeID, Severity: &sev})
	assert.Error(t, err)
}

func TestEpisodeOperationsRejectForeignUser(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)

	ownerTC := newTurnContext(uuid.New())
	created, err := ops.CreateEpisode(ctx, ownerTC, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)

	attackerTC := newTurnContext(uuid.New())

	sev := 9
	_, err = ops.UpdateEpisode(ctx, attackerTC, UpdateEpisodeInput{EpisodeID: created.EpisodeID, Severity: &sev})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ops.ResolveEpisode(ctx, attackerTC, ResolveEpisodeInput{EpisodeID: created.EpisodeID})
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := ops.CreateEpisode(ctx, attackerTC, CreateEpisodeInput{Name: "Cough"})
	require.NoError(t, err)
	_, err = ops.LinkEpisode(ctx, attackerTC, LinkEpisodeInput{EpisodeID: other.EpisodeID, RelatedEpisodeID: created.EpisodeID})
	assert.ErrorIs(t, err, ErrNotFound)

	saved := store.episodes[created.EpisodeID]
	assert.Equal(t, 0, saved.Severity)
	assert.Equal(t, record.StatusActive, saved.Status)
}

func TestUpdateAssessmentRejectsForeignUser(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)

	ownerTC := newTurnContext(uuid.New())
	created, err := ops.CreateAssessment(ctx, ownerTC, CreateAssessmentInput{
		Hypothesis:        "Tension headache",
		Confidence:        0.6,
		Reasoning:         "pattern",
		RecommendedAction: "self-care",
	})
	require.NoError(t, err)

	attackerTC := newTurnContext(uuid.New())
	hyp := "Something else"
	_, err = ops.UpdateAssessment(ctx, attackerTC, UpdateAssessmentInput{
		AssessmentID: created.AssessmentID,
		Hypothesis:   &hyp,
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Tension headache", store.assessments[created.AssessmentID].Hypothesis)
}

func TestUpdateEpisodeUnknownID(t *testing.T) {
	ctx := context.Background()
	ops := newTestOps(newFakeStore(), nil)
	tc := newTurnContext(uuid.New())

	_, err := ops.UpdateEpisode(ctx, tc, UpdateEpisodeInput{EpisodeID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAssessmentClampsWeights(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	a, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)
	b, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Nausea"})
	require.NoError(t, err)

	res, err := ops.CreateAssessment(ctx, tc, CreateAssessmentInput{
		Hypothesis:        "Migraine",
		Confidence:        1.4,
		Reasoning:         "headache with nausea",
		RecommendedAction: "see-gp",
		EpisodeWeights: []EpisodeWeightInput{
			{EpisodeID: a.EpisodeID, Weight: 1.5},
			{EpisodeID: b.EpisodeID, Weight: -0.2},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)

	saved := store.assessments[res.AssessmentID]
	require.NotNil(t, saved)
	require.Len(t, saved.EpisodeLinks, 2)
	assert.Equal(t, 1.0, saved.EpisodeLinks[0].Weight)
	assert.Equal(t, 0.0, saved.EpisodeLinks[1].Weight)
}

func TestCreateAssessmentEvenWeightSplit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	_, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)
	_, err = ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Nausea"})
	require.NoError(t, err)

	res, err := ops.CreateAssessment(ctx, tc, CreateAssessmentInput{
		Hypothesis:        "Migraine",
		Confidence:        0.6,
		Reasoning:         "headache with nausea",
		RecommendedAction: "self-care",
	})
	require.NoError(t, err)

	saved := store.assessments[res.AssessmentID]
	require.Len(t, saved.EpisodeLinks, 2)
	for _, link := range saved.EpisodeLinks {
		assert.InDelta(t, 0.5, link.Weight, 1e-9)
	}
}

func TestCreateAssessmentRejectsUnknownAction(t *testing.T) {
	ctx := context.Background()
	ops := newTestOps(newFakeStore(), nil)
	tc := newTurnContext(uuid.New())

	_, err := ops.CreateAssessment(ctx, tc, CreateAssessmentInput{
		Hypothesis:        "Migraine",
		Confidence:        0.5,
		Reasoning:         "x",
		RecommendedAction: "call-a-friend",
	})
	assert.Error(t, err)
}

func TestCreateAssessmentPublishesGeneratingThenCreated(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	pub := &capturePublisher{}
	ops := newTestOps(store, pub)
	tc := newTurnContext(uuid.New())

	_, err := ops.CreateAssessment(ctx, tc, CreateAssessmentInput{
		Hypothesis:        "Tension headache",
		Confidence:        0.7,
		Reasoning:         "stress pattern",
		RecommendedAction: "self-care",
	})
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	assert.Equal(t, StatusAssessmentGenerating, pub.events[0].Type)
	assert.Equal(t, StatusAssessmentCreated, pub.events[1].Type)
	assert.Equal(t, PhaseAssessing, tc.Phase)
}

func TestUpdateAssessmentPartial(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	pub := &capturePublisher{}
	ops := newTestOps(store, pub)
	tc := newTurnContext(uuid.New())

	created, err := ops.CreateAssessment(ctx, tc, CreateAssessmentInput{
		Hypothesis:        "Tension headache",
		Confidence:        0.5,
		Reasoning:         "initial",
		RecommendedAction: "self-care",
	})
	require.NoError(t, err)

	conf := 0.8
	updated, err := ops.UpdateAssessment(ctx, tc, UpdateAssessmentInput{
		AssessmentID: created.AssessmentID,
		Confidence:   &conf,
	})
	require.NoError(t, err)

	assert.Equal(t, created.AssessmentID, updated.AssessmentID)
	assert.Equal(t, "Tension headache", updated.Hypothesis)
	assert.Equal(t, 0.8, updated.Confidence)

	var sawAnalyzing bool
	for _, e := range pub.events {
		if e.Type == StatusAssessmentAnalyzing {
			sawAnalyzing = true
		}
	}
	assert.True(t, sawAnalyzing)
}

func TestScheduleAppointment(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	pub := &capturePublisher{}
	ops := newTestOps(store, pub)
	tc := newTurnContext(uuid.New())

	res, err := ops.ScheduleAppointment(ctx, tc, ScheduleAppointmentInput{Reason: "persistent headaches"})
	require.NoError(t, err)

	saved := store.appointments[res.AppointmentID]
	require.NotNil(t, saved)
	assert.Equal(t, record.AppointmentProposed, saved.Status)

	require.Len(t, pub.events, 1)
	assert.Equal(t, StatusGeneral, pub.events[0].Type)

	changes := tc.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, KindAppointment, changes[0].Kind)
}

func TestRecordNegativeFinding(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	res, err := ops.RecordNegativeFinding(ctx, tc, RecordNegativeFindingInput{SymptomName: "fever"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.FindingID)

	require.Len(t, tc.NegativeFindings(), 1)
	assert.Equal(t, "fever", tc.NegativeFindings()[0].SymptomName)
}

func TestGetActiveEpisodes(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	created, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)
	resolved, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Nausea"})
	require.NoError(t, err)
	_, err = ops.ResolveEpisode(ctx, tc, ResolveEpisodeInput{EpisodeID: resolved.EpisodeID})
	require.NoError(t, err)

	active := ops.GetActiveEpisodes(ctx, tc)
	require.Len(t, active, 1)
	assert.Equal(t, created.EpisodeID, active[0].EpisodeID)
	assert.Equal(t, "Headache", active[0].SymptomName)
}

func TestGetSymptomHistory(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	ops := newTestOps(store, nil)
	tc := newTurnContext(uuid.New())

	created, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)
	_, err = ops.ResolveEpisode(ctx, tc, ResolveEpisodeInput{EpisodeID: created.EpisodeID})
	require.NoError(t, err)
	again, err := ops.CreateEpisode(ctx, tc, CreateEpisodeInput{Name: "Headache"})
	require.NoError(t, err)
	assert.False(t, again.Existing)

	history, err := ops.GetSymptomHistory(ctx, tc, SymptomHistoryInput{SymptomName: "headache"})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
