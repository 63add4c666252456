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

func TestTrackEpisodeKeepsLatestOpenPerName(t *testing.T) {
	tc := newTurnContext(uuid.New())
	sym := &record.Symptom{ID: uuid.New(), UserID: tc.UserID, Name: "Headache"}

	older := &record.Episode{
		ID: uuid.New(), SymptomID: sym.ID, UserID: tc.UserID,
		Status: record.StatusActive, StartedAt: time.Now().Add(-48 * time.Hour),
	}
	newer := &record.Episode{
		ID: uuid.New(), SymptomID: sym.ID, UserID: tc.UserID,
		Status: record.StatusActive, StartedAt: time.Now(),
	}
	tc.TrackEpisode(sym, newer)
	tc.TrackEpisode(sym, older)

	got, ok := tc.OpenEpisodeFor("HEADACHE")
	require.True(t, ok)
	assert.Equal(t, newer.ID, got.ID)
	assert.Len(t, tc.ActiveEpisodes(), 2)
}

func TestTrackEpisodeSkipsResolvedInIndex(t *testing.T) {
	tc := newTurnContext(uuid.New())
	sym := &record.Symptom{ID: uuid.New(), UserID: tc.UserID, Name: "Cough"}
	resolvedAt := time.Now()

	tc.TrackEpisode(sym, &record.Episode{
		ID: uuid.New(), SymptomID: sym.ID, UserID: tc.UserID,
		Status: record.StatusResolved, ResolvedAt: &resolvedAt, StartedAt: time.Now(),
	})

	_, ok := tc.OpenEpisodeFor("cough")
	assert.False(t, ok)
	assert.Empty(t, tc.ActiveEpisodes())
}

func TestHydrateWindowsAndAssessment(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	userID := uuid.New()
	convID := uuid.New()

	sym := &record.Symptom{ID: uuid.New(), UserID: userID, Name: "Headache", CreatedAt: time.Now()}
	require.NoError(t, store.SaveSymptom(ctx, sym))

	recent := &record.Episode{
		ID: uuid.New(), SymptomID: sym.ID, UserID: userID,
		Status: record.StatusActive, StartedAt: time.Now().Add(-24 * time.Hour),
	}
	stale := &record.Episode{
		ID: uuid.New(), SymptomID: sym.ID, UserID: userID,
		Status: record.StatusActive, StartedAt: time.Now().Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, store.SaveEpisode(ctx, recent))
	require.NoError(t, store.SaveEpisode(ctx, stale))

	require.NoError(t, store.SaveNegativeFinding(ctx, &record.NegativeFinding{
		ID: uuid.New(), UserID: userID, SymptomName: "fever", ReportedAt: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, store.SaveNegativeFinding(ctx, &record.NegativeFinding{
		ID: uuid.New(), UserID: userID, SymptomName: "rash", ReportedAt: time.Now().Add(-10 * 24 * time.Hour),
	}))

	require.NoError(t, store.SaveAssessment(ctx, &record.Assessment{
		ID: uuid.New(), UserID: userID, ConversationID: convID,
		Hypothesis: "Tension headache", Confidence: 0.6,
		RecommendedAction: record.ActionSelfCare, CreatedAt: time.Now(),
	}))

	h := NewHydrator(store, 14*24*time.Hour, 7*24*time.Hour)
	tc, err := h.Hydrate(ctx, userID, &convID)
	require.NoError(t, err)

	active := tc.ActiveEpisodes()
	require.Len(t, active, 1)
	assert.Equal(t, recent.ID, active[0].ID)

	findings := tc.NegativeFindings()
	require.Len(t, findings, 1)
	assert.Equal(t, "fever", findings[0].SymptomName)

	require.NotNil(t, tc.Assessment())
	assert.Equal(t, PhaseAssessing, tc.Phase)
}

func TestHydrateWithoutConversationStaysGathering(t *testing.T) {
	store := newFakeStore()
	h := NewHydrator(store, 0, 0)

	tc, err := h.Hydrate(context.Background(), uuid.New(), nil)
	require.NoError(t, err)

	assert.Equal(t, PhaseGathering, tc.Phase)
	assert.Nil(t, tc.Assessment())
}

func TestHydrateNoAssessmentYet(t *testing.T) {
	store := newFakeStore()
	h := NewHydrator(store, 0, 0)
	convID := uuid.New()

	tc, err := h.Hydrate(context.Background(), uuid.New(), &convID)
	require.NoError(t, err)

	assert.Equal(t, PhaseGathering, tc.Phase)
	assert.Equal(t, convID, tc.ConversationID)
}
