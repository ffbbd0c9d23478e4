package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortaizi/unisync/internal/application"
	"github.com/ortaizi/unisync/internal/domain/model"
)

// runPipeline feeds the stage data through every stage in order, the way the
// orchestrator does, and returns the accumulated result.
func runPipeline(t *testing.T, stages []application.Stage, creds application.Credentials) (model.StageData, error) {
	t.Helper()
	var data model.StageData
	for _, st := range stages {
		next, err := st.Run(context.Background(), creds, data)
		if err != nil {
			return data, err
		}
		data = next
	}
	return data, nil
}

func TestDefaultPipelineOrder(t *testing.T) {
	stages := application.DefaultPipeline(&mockMoodleClient{})
	var got []model.SyncStatus
	for _, st := range stages {
		got = append(got, st.Status)
	}
	assert.Equal(t, []model.SyncStatus{
		model.SyncStatusStarting,
		model.SyncStatusCreatingTables,
		model.SyncStatusFetchingCourses,
		model.SyncStatusAnalyzing,
		model.SyncStatusClassifying,
		model.SyncStatusSaving,
	}, got)

	// Progress values strictly increase along the pipeline.
	for i := 1; i < len(stages); i++ {
		assert.Greater(t, stages[i].Progress, stages[i-1].Progress)
	}
}

func TestDefaultPipelineEndToEnd(t *testing.T) {
	moodle := &mockMoodleClient{
		fetchFn: func(_ context.Context, username, _ string, inst model.Institution) ([]model.Course, error) {
			assert.Equal(t, "student1", username)
			assert.Equal(t, "bgu", inst.ID)
			return []model.Course{
				{ID: "101", Name: "מבוא למדעי המחשב", Summary: "מטלה שבועית ובחינה סופית"},
				{ID: "102", Name: "חדוא 1", Summary: "הרצאה מוקלטת"},
				{ID: "103", Name: "Statistics", Summary: "weekly quiz"},
				{ID: "104", Name: "סמינר מחלקתי", Summary: ""},
			}, nil
		},
	}

	data, err := runPipeline(t, application.DefaultPipeline(moodle), testCreds)
	require.NoError(t, err)

	require.NotNil(t, data.Tables)
	assert.Contains(t, data.Tables.TablesEnsured, "courses")

	require.NotNil(t, data.Courses)
	assert.Len(t, data.Courses.Courses, 4)

	require.NotNil(t, data.Analysis)
	assert.Equal(t, 4, data.Analysis.ItemsAnalyzed)
	assert.NotEmpty(t, data.Analysis.Keywords)

	// Assignment keywords win over exam keywords when both appear.
	require.NotNil(t, data.Classification)
	assert.Equal(t, 1, data.Classification.Assignments)
	assert.Equal(t, 1, data.Classification.Exams)
	assert.Equal(t, 1, data.Classification.Lectures)
	assert.Equal(t, 1, data.Classification.Other)

	require.NotNil(t, data.Save)
	assert.Equal(t, 4, data.Save.RowsWritten)
}

func TestDefaultPipelineFetchFailures(t *testing.T) {
	t.Run("unknown institution", func(t *testing.T) {
		_, err := runPipeline(t, application.DefaultPipeline(&mockMoodleClient{}),
			application.Credentials{Username: "u", Password: "p", InstitutionID: "mit"})
		assert.ErrorIs(t, err, application.ErrInstitutionNotSupported)
	})

	t.Run("transport error", func(t *testing.T) {
		moodle := &mockMoodleClient{
			fetchFn: func(_ context.Context, _, _ string, _ model.Institution) ([]model.Course, error) {
				return nil, errors.New("connection refused")
			},
		}
		_, err := runPipeline(t, application.DefaultPipeline(moodle), testCreds)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("empty course list", func(t *testing.T) {
		moodle := &mockMoodleClient{
			fetchFn: func(_ context.Context, _, _ string, _ model.Institution) ([]model.Course, error) {
				return nil, nil
			},
		}
		_, err := runPipeline(t, application.DefaultPipeline(moodle), testCreds)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no courses")
	})
}
