package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"learnhub/internal/learning"
)

// SchemaVersion identifies the transcript CSV format version.
// Increment it when columns are added or their meaning changes.
const SchemaVersion = "1"

var csvColumns = []string{
	"schemaVersion",
	"courseId",
	"title",
	"category",
	"difficulty",
	"estimatedHours",
	"enrollmentStatus",
	"enrolledAt",
	"progressStatus",
	"percentage",
	"timeSpentMinutes",
	"lastAccessedAt",
	"completedAt",
	"grade",
}

// CSVExporter writes a learner transcript in CSV format.
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes one row per enrolled course to w.
func (e *CSVExporter) Export(w io.Writer, courses []learning.UserCourse) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, course := range courses {
		if err := writer.Write(e.courseToRow(course)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func (e *CSVExporter) courseToRow(view learning.UserCourse) []string {
	row := make([]string, len(csvColumns))

	row[0] = SchemaVersion
	row[1] = strconv.Itoa(view.Course.ID)
	row[2] = view.Course.Title
	row[3] = view.Course.Category
	row[4] = view.Course.Difficulty.Label()
	row[5] = strconv.FormatFloat(view.Course.EstimatedHours, 'f', -1, 64)
	row[8] = view.Status().Label()

	if enrollment := view.Enrollment; enrollment != nil {
		row[6] = enrollment.Status.Label()
		row[7] = formatTime(enrollment.EnrolledAt)
		row[13] = formatOptionalFloat(enrollment.Grade)
	}

	if progress := view.Progress; progress != nil {
		row[9] = strconv.Itoa(progress.Percentage)
		row[10] = strconv.Itoa(progress.TimeSpentMinutes)
		row[11] = formatTime(progress.LastAccessedAt)
		row[12] = formatOptionalTime(progress.CompletedAt)
	} else {
		row[9] = "0"
		row[10] = "0"
	}

	return row
}

// formatOptionalFloat formats an optional float pointer to a string.
func formatOptionalFloat(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', 2, 64)
}

// formatOptionalTime formats an optional time pointer to RFC3339 string.
func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(time.RFC3339)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(time.RFC3339)
}
