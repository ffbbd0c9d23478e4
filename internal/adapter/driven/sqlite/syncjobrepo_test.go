package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// seedUser inserts a user row so foreign keys on dependent tables hold.
func seedUser(t *testing.T, db *DB, id, email string) {
	t.Helper()

	repo := NewUserRepo(db)
	_, err := repo.Upsert(context.Background(), model.User{
		ID:        id,
		Email:     email,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func testJob(id, userID string, createdAt time.Time) model.SyncJob {
	return model.SyncJob{
		ID:        id,
		UserID:    userID,
		Status:    model.SyncStatusStarting,
		Progress:  5,
		Message:   "starting sync",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestSyncJobRepo_CreateIfIdle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepo(db)
	ctx := context.Background()
	seedUser(t, db, "u1", "u1@post.bgu.ac.il")

	created, err := repo.CreateIfIdle(ctx, testJob("job-1", "u1", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "job-1", created.ID)

	// A second job for the same user conflicts and reports the active job.
	conflict, err := repo.CreateIfIdle(ctx, testJob("job-2", "u1", time.Now()))
	require.ErrorIs(t, err, driven.ErrActiveJobExists)
	require.NotNil(t, conflict)
	assert.Equal(t, "job-1", conflict.ID)

	// A different user is unaffected.
	seedUser(t, db, "u2", "u2@post.bgu.ac.il")
	_, err = repo.CreateIfIdle(ctx, testJob("job-3", "u2", time.Now()))
	assert.NoError(t, err)
}

func TestSyncJobRepo_CreateIfIdleAfterTerminal(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepo(db)
	ctx := context.Background()
	seedUser(t, db, "u1", "u1@post.bgu.ac.il")

	job, err := repo.CreateIfIdle(ctx, testJob("job-1", "u1", time.Now()))
	require.NoError(t, err)

	now := time.Now()
	job.Status = model.SyncStatusCompleted
	job.Progress = 100
	job.UpdatedAt = now
	job.CompletedAt = &now
	require.NoError(t, repo.Update(ctx, *job))

	_, err = repo.CreateIfIdle(ctx, testJob("job-2", "u1", time.Now()))
	assert.NoError(t, err)
}

func TestSyncJobRepo_CreateIfIdleConcurrent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepo(db)
	ctx := context.Background()
	seedUser(t, db, "u1", "u1@post.bgu.ac.il")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.CreateIfIdle(ctx, testJob(fmt.Sprintf("job-%d", i), "u1", time.Now()))
		}(i)
	}
	wg.Wait()

	var created int
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, driven.ErrActiveJobExists)
		}
	}
	assert.Equal(t, 1, created, "exactly one concurrent trigger should create a job")
}

func TestSyncJobRepo_UpdateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepo(db)
	ctx := context.Background()
	seedUser(t, db, "u1", "u1@post.bgu.ac.il")

	job, err := repo.CreateIfIdle(ctx, testJob("job-1", "u1", time.Now()))
	require.NoError(t, err)

	job.Status = model.SyncStatusFetchingCourses
	job.Progress = 35
	job.Message = "fetching courses"
	job.StageData = model.StageData{
		CurrentStage: model.SyncStatusFetchingCourses,
		Courses: &model.CoursesStageData{
			Courses: []model.Course{{ID: "c1", Name: "Intro to CS"}},
		},
	}
	job.UpdatedAt = time.Now()
	require.NoError(t, repo.Update(ctx, *job))

	got, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SyncStatusFetchingCourses, got.Status)
	assert.Equal(t, 35, got.Progress)
	assert.Equal(t, "fetching courses", got.Message)
	require.NotNil(t, got.StageData.Courses)
	assert.Equal(t, "Intro to CS", got.StageData.Courses.Courses[0].Name)
	assert.Nil(t, got.CompletedAt)
}

func TestSyncJobRepo_GetByIDMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepo(db)

	got, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSyncJobRepo_CompletedAtRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepo(db)
	ctx := context.Background()
	seedUser(t, db, "u1", "u1@post.bgu.ac.il")

	job, err := repo.CreateIfIdle(ctx, testJob("job-1", "u1", time.Now()))
	require.NoError(t, err)

	done := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	job.Status = model.SyncStatusCompleted
	job.Progress = 100
	job.UpdatedAt = done
	job.CompletedAt = &done
	require.NoError(t, repo.Update(ctx, *job))

	got, err := repo.GetByID(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(done))
}

// finishJob moves a job into the given terminal status.
func finishJob(t *testing.T, repo *SyncJobRepo, job *model.SyncJob, status model.SyncStatus, at time.Time) {
	t.Helper()

	job.Status = status
	job.UpdatedAt = at
	if status == model.SyncStatusCompleted {
		job.Progress = 100
		job.CompletedAt = &at
	}
	require.NoError(t, repo.Update(context.Background(), *job))
}

func TestSyncJobRepo_ListByUser(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepo(db)
	ctx := context.Background()
	seedUser(t, db, "u1", "u1@post.bgu.ac.il")

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		job, err := repo.CreateIfIdle(ctx, testJob(fmt.Sprintf("job-%d", i), "u1", base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		status := model.SyncStatusCompleted
		if i%2 == 1 {
			status = model.SyncStatusError
		}
		finishJob(t, repo, job, status, base.Add(time.Duration(i)*time.Hour+30*time.Minute))
	}

	all, err := repo.ListByUser(ctx, "u1", driven.HistoryFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "job-3", all[0].ID, "newest first")
	assert.Equal(t, "job-0", all[3].ID)

	paged, err := repo.ListByUser(ctx, "u1", driven.HistoryFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, "job-2", paged[0].ID)

	failed, err := repo.ListByUser(ctx, "u1", driven.HistoryFilter{Limit: 10, Status: model.SyncStatusError})
	require.NoError(t, err)
	require.Len(t, failed, 2)

	count, err := repo.CountByUser(ctx, "u1", model.SyncStatusError)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSyncJobRepo_DeleteTerminalBeyond(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSyncJobRepo(db)
	ctx := context.Background()
	seedUser(t, db, "u1", "u1@post.bgu.ac.il")

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		job, err := repo.CreateIfIdle(ctx, testJob(fmt.Sprintf("job-%d", i), "u1", base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		finishJob(t, repo, job, model.SyncStatusCompleted, base.Add(time.Duration(i)*time.Hour+time.Minute))
	}

	// One active job on top; it must survive pruning.
	_, err := repo.CreateIfIdle(ctx, testJob("job-active", "u1", base.Add(8*time.Hour)))
	require.NoError(t, err)

	deleted, err := repo.DeleteTerminalBeyond(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := repo.ListByUser(ctx, "u1", driven.HistoryFilter{Limit: 20})
	require.NoError(t, err)
	require.Len(t, remaining, 6)
	assert.Equal(t, "job-active", remaining[0].ID)

	// The two oldest terminal jobs are the ones gone.
	for _, job := range remaining {
		assert.NotContains(t, []string{"job-0", "job-1"}, job.ID)
	}
}
