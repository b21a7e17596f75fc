package services

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"paper-tutor/models"
	"paper-tutor/storage"
)

func newTestStatsService(t *testing.T) (*StatsService, *storage.Store, *fakeClock) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	clock := newFakeClock()
	return NewStatsService(store, zap.NewNop(), clock), store, clock
}

func statsQuestion(id, paperID string, tags ...string) *models.Question {
	return &models.Question{
		ID:            id,
		PaperID:       paperID,
		Text:          "Did the measured effect increase?",
		Type:          models.QuestionTypePredictive,
		CorrectAnswer: models.AnswerIncreased,
		Tags:          datatypes.NewJSONSlice(tags),
	}
}

func TestStatsService_RecordAnswerWeightedMeans(t *testing.T) {
	svc, store, _ := newTestStatsService(t)
	q1 := statsQuestion("p1-1", "p1", "q-bio.NC")
	q2 := statsQuestion("p1-2", "p1", "q-bio.NC", "cs.LG")
	require.NoError(t, store.SaveQuestions([]models.Question{*q1, *q2}))

	require.NoError(t, svc.RecordAnswer(q1, models.AnswerIncreased, true, 80))
	require.NoError(t, svc.RecordAnswer(q2, models.AnswerDecreased, false, 40))

	st, err := svc.Current()
	require.NoError(t, err)
	assert.Equal(t, 2, st.QuestionsAnswered)
	assert.InDelta(t, 60.0, st.AverageConfidence, 1e-9)

	accuracy := st.TopicAccuracy.Data()
	counts := st.TopicCounts.Data()
	assert.InDelta(t, 50.0, accuracy["q-bio.NC"], 1e-9)
	assert.Equal(t, 2, counts["q-bio.NC"])
	assert.InDelta(t, 0.0, accuracy["cs.LG"], 1e-9)
	assert.Equal(t, 1, counts["cs.LG"])

	assert.Equal(t, []string{"p1"}, []string(st.PapersRead))
}

func TestStatsService_Streak(t *testing.T) {
	svc, store, clock := newTestStatsService(t)
	q := statsQuestion("p1-1", "p1", "q-bio.NC")
	require.NoError(t, store.SaveQuestions([]models.Question{*q}))

	record := func() *models.Stats {
		require.NoError(t, svc.RecordAnswer(q, models.AnswerIncreased, true, 50))
		st, err := svc.Current()
		require.NoError(t, err)
		return st
	}

	// First activity starts the streak.
	assert.Equal(t, 1, record().Streak)

	// Same calendar day keeps it.
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, record().Streak)

	// Next calendar day extends it.
	clock.Advance(24 * time.Hour)
	assert.Equal(t, 2, record().Streak)

	// A skipped day resets to one.
	clock.Advance(48 * time.Hour)
	assert.Equal(t, 1, record().Streak)
}

func TestStatsService_RecomputeReproducesAggregate(t *testing.T) {
	svc, store, clock := newTestStatsService(t)
	q1 := statsQuestion("p1-1", "p1", "q-bio.NC")
	q2 := statsQuestion("p2-1", "p2", "cs.LG")
	require.NoError(t, store.SaveQuestions([]models.Question{*q1, *q2}))

	require.NoError(t, svc.RecordAnswer(q1, models.AnswerIncreased, true, 90))
	clock.Advance(26 * time.Hour)
	require.NoError(t, svc.RecordAnswer(q2, models.AnswerUnchanged, false, 30))
	clock.Advance(3 * time.Hour)
	require.NoError(t, svc.RecordAnswer(q1, models.AnswerDecreased, false, 60))

	before, err := svc.Current()
	require.NoError(t, err)

	after, err := svc.RecomputeFromHistory()
	require.NoError(t, err)

	assert.Equal(t, before.QuestionsAnswered, after.QuestionsAnswered)
	assert.InDelta(t, before.AverageConfidence, after.AverageConfidence, 1e-9)
	assert.Equal(t, before.Streak, after.Streak)
	assert.Equal(t, before.TopicCounts.Data(), after.TopicCounts.Data())
	for topic, acc := range before.TopicAccuracy.Data() {
		assert.InDelta(t, acc, after.TopicAccuracy.Data()[topic], 1e-9)
	}
	assert.ElementsMatch(t, []string(before.PapersRead), []string(after.PapersRead))
}

func TestDayDiff(t *testing.T) {
	standard := time.FixedZone("UTC-5", -5*3600)
	daylight := time.FixedZone("UTC-4", -4*3600)
	tests := []struct {
		name string
		last time.Time
		now  time.Time
		want int
	}{
		{
			name: "fresh stats",
			now:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			want: -1,
		},
		{
			name: "same day",
			last: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
			now:  time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC),
			want: 0,
		},
		{
			name: "next day",
			last: time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC),
			now:  time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC),
			want: 1,
		},
		{
			name: "two day gap",
			last: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			now:  time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC),
			want: 2,
		},
		{
			// Spring forward: only 23 hours elapse, but the local calendar
			// still advanced one day and the streak must continue.
			name: "short day after clocks spring forward",
			last: time.Date(2025, 3, 8, 23, 30, 0, 0, standard),
			now:  time.Date(2025, 3, 9, 23, 30, 0, 0, daylight),
			want: 1,
		},
		{
			// Fall back: 25 elapsed hours are still just one calendar day.
			name: "long day after clocks fall back",
			last: time.Date(2025, 11, 1, 0, 30, 0, 0, daylight),
			now:  time.Date(2025, 11, 2, 0, 30, 0, 0, standard),
			want: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dayDiff(tt.last, tt.now))
		})
	}
}
