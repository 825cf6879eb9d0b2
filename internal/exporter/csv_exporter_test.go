package exporter

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"learnhub/internal/learning"
)

func TestCSVExporter_ExportEmpty(t *testing.T) {
	exporter := NewCSVExporter()
	var buf bytes.Buffer

	if err := exporter.Export(&buf, nil); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 row (header), got %d", len(records))
	}
	if records[0][0] != "schemaVersion" || len(records[0]) != len(csvColumns) {
		t.Fatalf("unexpected header %v", records[0])
	}
}

func TestCSVExporter_ExportTranscript(t *testing.T) {
	exporter := NewCSVExporter()
	var buf bytes.Buffer

	enrolled := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	accessed := time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC)
	completed := time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC)
	grade := 92.5

	courses := []learning.UserCourse{
		{
			Course: learning.Course{ID: 1, Title: "Go, the practical way", Category: "Dev", Difficulty: learning.DifficultyIntermediate, EstimatedHours: 6.5},
			Enrollment: &learning.Enrollment{
				ID:         10,
				CourseID:   1,
				EnrolledAt: enrolled,
				Status:     learning.EnrollmentCompleted,
				Grade:      &grade,
			},
			Progress: &learning.Progress{
				CourseID:         1,
				Status:           learning.ProgressCompleted,
				Percentage:       100,
				TimeSpentMinutes: 390,
				LastAccessedAt:   accessed,
				CompletedAt:      &completed,
			},
		},
		{
			Course:     learning.Course{ID: 2, Title: "SQL basics", Category: "Data", Difficulty: learning.DifficultyBeginner, EstimatedHours: 3},
			Enrollment: &learning.Enrollment{ID: 11, CourseID: 2, EnrolledAt: enrolled, Status: learning.EnrollmentActive},
		},
	}

	if err := exporter.Export(&buf, courses); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}

	first := records[1]
	want := []string{
		SchemaVersion, "1", "Go, the practical way", "Dev", "Intermediate", "6.5",
		"Completed", "2024-02-01T09:00:00Z", "Completed", "100", "390",
		"2024-03-10T18:30:00Z", "2024-03-10T18:30:00Z", "92.50",
	}
	for i := range want {
		if first[i] != want[i] {
			t.Fatalf("column %s: got %q, want %q", csvColumns[i], first[i], want[i])
		}
	}

	second := records[2]
	if second[8] != "Not Started" || second[9] != "0" || second[11] != "" || second[13] != "" {
		t.Fatalf("unexpected row for course without progress: %v", second)
	}
}
