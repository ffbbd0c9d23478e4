package model

import "time"

// SyncJob tracks one background synchronization run for a user. At most one
// job per user may be non-terminal at any time; the store enforces this with
// a conditional insert rather than a read-then-write check.
type SyncJob struct {
	ID          string
	UserID      string
	Status      SyncStatus
	Progress    int // 0..100, non-decreasing except into error
	Message     string
	StageData   StageData
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Duration returns how long the job ran. Nil for non-terminal jobs, where a
// wall-clock duration would still be growing.
func (j *SyncJob) Duration() *time.Duration {
	if !j.Status.IsTerminal() {
		return nil
	}
	d := j.UpdatedAt.Sub(j.CreatedAt)
	return &d
}

// StageData is the accumulated output of the pipeline, tagged by the stage
// that last wrote it. Each stage has its own schema; only the fields for
// stages that have already run are populated.
type StageData struct {
	CurrentStage   SyncStatus              `json:"current_stage,omitempty"`
	Tables         *TablesStageData        `json:"tables,omitempty"`
	Courses        *CoursesStageData       `json:"courses,omitempty"`
	Analysis       *AnalysisStageData      `json:"analysis,omitempty"`
	Classification *ClassificationStageData `json:"classification,omitempty"`
	Save           *SaveStageData          `json:"save,omitempty"`
}

// TablesStageData records the schema-preparation stage output.
type TablesStageData struct {
	TablesEnsured []string `json:"tables_ensured"`
}

// CoursesStageData records what the fetch stage pulled from the institution.
type CoursesStageData struct {
	Courses []Course `json:"courses"`
}

// AnalysisStageData records per-course content analysis results.
type AnalysisStageData struct {
	ItemsAnalyzed int      `json:"items_analyzed"`
	Keywords      []string `json:"keywords,omitempty"`
}

// ClassificationStageData records how analyzed items were bucketed.
type ClassificationStageData struct {
	Assignments int `json:"assignments"`
	Exams       int `json:"exams"`
	Lectures    int `json:"lectures"`
	Other       int `json:"other"`
}

// SaveStageData records the final persistence stage output.
type SaveStageData struct {
	RowsWritten int `json:"rows_written"`
}

// Course is a single course pulled from the institution's Moodle instance.
// Summary is sanitized HTML; raw provider markup never leaves the adapter.
type Course struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
}
