package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortaizi/unisync/internal/domain/model"
)

func TestInstitutionByEmail(t *testing.T) {
	tests := []struct {
		email  string
		wantID string
		wantOK bool
	}{
		{"dana@post.bgu.ac.il", "bgu", true},
		{"dana@bgu.ac.il", "bgu", true},
		{"Dana@POST.BGU.AC.IL", "bgu", true},
		{"yossi@mail.tau.ac.il", "tau", true},
		{"noa@huji.ac.il", "huji", true},
		{"someone@gmail.com", "", false},
		{"no-at-sign", "", false},
		{"", "", false},
		{"bgu.ac.il@gmail.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			inst, ok := model.InstitutionByEmail(tt.email)
			require.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantID, inst.ID)
			}
		})
	}
}

func TestInstitutionByID(t *testing.T) {
	inst, ok := model.InstitutionByID("bgu")
	require.True(t, ok)
	assert.Equal(t, "Ben-Gurion University of the Negev", inst.Name)
	assert.NotEmpty(t, inst.NameHebrew)

	_, ok = model.InstitutionByID("mit")
	assert.False(t, ok)
}

func TestInstitutionLoginURL(t *testing.T) {
	inst, ok := model.InstitutionByID("bgu")
	require.True(t, ok)
	assert.Equal(t, "https://moodle.bgu.ac.il/moodle/login/index.php", inst.LoginURL())

	inst, ok = model.InstitutionByID("tau")
	require.True(t, ok)
	assert.Equal(t, "https://moodle.tau.ac.il/login/index.php", inst.LoginURL())
}

func TestSyncStatusIsTerminal(t *testing.T) {
	terminal := []model.SyncStatus{
		model.SyncStatusCompleted, model.SyncStatusError, model.SyncStatusCancelled,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}
	for _, s := range model.PipelineOrder {
		if s != model.SyncStatusCompleted {
			assert.False(t, s.IsTerminal(), string(s))
		}
	}
}

func TestSyncJobDuration(t *testing.T) {
	job := model.SyncJob{Status: model.SyncStatusFetchingCourses}
	assert.Nil(t, job.Duration())
}
