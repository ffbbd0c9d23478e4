package model

// SyncStatus represents the lifecycle state of a sync job. The non-terminal
// statuses form a fixed ordered pipeline; error and cancelled are terminal
// sinks reachable from any non-terminal status.
type SyncStatus string

const (
	SyncStatusStarting        SyncStatus = "starting"
	SyncStatusCreatingTables  SyncStatus = "creating_tables"
	SyncStatusFetchingCourses SyncStatus = "fetching_courses"
	SyncStatusAnalyzing       SyncStatus = "analyzing_content"
	SyncStatusClassifying     SyncStatus = "classifying_data"
	SyncStatusSaving          SyncStatus = "saving_to_database"
	SyncStatusCompleted       SyncStatus = "completed"
	SyncStatusError           SyncStatus = "error"
	SyncStatusCancelled       SyncStatus = "cancelled"
)

// IsTerminal reports whether the status is a sink state.
func (s SyncStatus) IsTerminal() bool {
	switch s {
	case SyncStatusCompleted, SyncStatusError, SyncStatusCancelled:
		return true
	}
	return false
}

// PipelineOrder lists the pipeline statuses in execution order, ending with
// completed. Error and cancelled are not part of the happy path.
var PipelineOrder = []SyncStatus{
	SyncStatusStarting,
	SyncStatusCreatingTables,
	SyncStatusFetchingCourses,
	SyncStatusAnalyzing,
	SyncStatusClassifying,
	SyncStatusSaving,
	SyncStatusCompleted,
}

// SessionStage identifies how far through the dual-stage login a user is.
type SessionStage string

const (
	StageUnauthenticated SessionStage = "unauthenticated"
	StageOneComplete     SessionStage = "stage1_complete"
	StageTwoComplete     SessionStage = "stage2_complete"
)

// AttemptKind distinguishes audit log entries by the operation attempted.
type AttemptKind string

const (
	AttemptKindGoogleLogin    AttemptKind = "google_login"
	AttemptKindDomainRejected AttemptKind = "domain_rejected"
	AttemptKindCredentialTest AttemptKind = "credential_test"
	AttemptKindRevalidation   AttemptKind = "revalidation"
	AttemptKindSyncTrigger    AttemptKind = "sync_trigger"
)
