package application

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ortaizi/unisync/internal/domain/model"
	"github.com/ortaizi/unisync/internal/domain/port/driven"
)

// classificationKeywords maps content keywords (Hebrew and English, as they
// appear in Moodle course material) to classification buckets.
var classificationKeywords = map[string][]string{
	"assignment": {"מטלה", "תרגיל", "הגשה", "assignment", "exercise", "homework"},
	"exam":       {"בחינה", "מבחן", "בוחן", "מועד", "exam", "quiz", "midterm"},
	"lecture":    {"הרצאה", "שיעור", "סיכום", "lecture", "slides", "notes"},
}

// DefaultPipeline builds the fixed stage sequence the orchestrator runs. The
// fetch stage talks to Moodle; the remaining workers operate on accumulated
// stage data only.
func DefaultPipeline(moodle driven.MoodleClient) []Stage {
	return []Stage{
		{
			Status:   model.SyncStatusStarting,
			Progress: 5,
			Message:  "sync starting",
			Run: func(_ context.Context, _ Credentials, data model.StageData) (model.StageData, error) {
				return data, nil
			},
		},
		{
			Status:   model.SyncStatusCreatingTables,
			Progress: 15,
			Message:  "preparing user tables",
			Run:      runCreateTables,
		},
		{
			Status:   model.SyncStatusFetchingCourses,
			Progress: 35,
			Message:  "fetching courses from institution",
			Run:      fetchCoursesStage(moodle),
		},
		{
			Status:   model.SyncStatusAnalyzing,
			Progress: 60,
			Message:  "analyzing course content",
			Run:      runAnalyzeContent,
		},
		{
			Status:   model.SyncStatusClassifying,
			Progress: 80,
			Message:  "classifying academic data",
			Run:      runClassify,
		},
		{
			Status:   model.SyncStatusSaving,
			Progress: 95,
			Message:  "saving results",
			Run:      runSave,
		},
	}
}

// runCreateTables records which per-user logical tables the sync writes into.
func runCreateTables(_ context.Context, _ Credentials, data model.StageData) (model.StageData, error) {
	data.Tables = &model.TablesStageData{
		TablesEnsured: []string{"courses", "course_items", "classifications"},
	}
	return data, nil
}

// fetchCoursesStage pulls the user's course list from the institution.
func fetchCoursesStage(moodle driven.MoodleClient) StageRunner {
	return func(ctx context.Context, creds Credentials, data model.StageData) (model.StageData, error) {
		inst, ok := model.InstitutionByID(creds.InstitutionID)
		if !ok {
			return data, ErrInstitutionNotSupported
		}

		courses, err := moodle.FetchCourses(ctx, creds.Username, creds.Password, inst)
		if err != nil {
			return data, fmt.Errorf("fetch courses: %w", err)
		}
		if len(courses) == 0 {
			return data, fmt.Errorf("institution returned no courses")
		}

		data.Courses = &model.CoursesStageData{Courses: courses}
		return data, nil
	}
}

// runAnalyzeContent extracts classification keywords present in the fetched
// course names and summaries.
func runAnalyzeContent(_ context.Context, _ Credentials, data model.StageData) (model.StageData, error) {
	if data.Courses == nil {
		return data, fmt.Errorf("no courses to analyze")
	}

	found := make(map[string]bool)
	for _, course := range data.Courses.Courses {
		text := strings.ToLower(course.Name + " " + course.Summary)
		for _, words := range classificationKeywords {
			for _, w := range words {
				if strings.Contains(text, w) {
					found[w] = true
				}
			}
		}
	}

	keywords := make([]string, 0, len(found))
	for w := range found {
		keywords = append(keywords, w)
	}
	sort.Strings(keywords)

	data.Analysis = &model.AnalysisStageData{
		ItemsAnalyzed: len(data.Courses.Courses),
		Keywords:      keywords,
	}
	return data, nil
}

// runClassify buckets analyzed items by keyword category.
func runClassify(_ context.Context, _ Credentials, data model.StageData) (model.StageData, error) {
	if data.Courses == nil || data.Analysis == nil {
		return data, fmt.Errorf("classification requires fetched and analyzed courses")
	}

	var out model.ClassificationStageData
	for _, course := range data.Courses.Courses {
		text := strings.ToLower(course.Name + " " + course.Summary)
		switch {
		case containsAny(text, classificationKeywords["assignment"]):
			out.Assignments++
		case containsAny(text, classificationKeywords["exam"]):
			out.Exams++
		case containsAny(text, classificationKeywords["lecture"]):
			out.Lectures++
		default:
			out.Other++
		}
	}

	data.Classification = &out
	return data, nil
}

// runSave records how many rows the pipeline produced. The course rows
// themselves live in the job's stage data, which the store persists with the
// job row.
func runSave(_ context.Context, _ Credentials, data model.StageData) (model.StageData, error) {
	if data.Courses == nil {
		return data, fmt.Errorf("nothing to save")
	}
	data.Save = &model.SaveStageData{RowsWritten: len(data.Courses.Courses)}
	return data, nil
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
