package learning

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"learnhub/internal/content"
)

// number accepts JSON numbers, numeric strings, and null.
type number struct {
	value float64
	ok    bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*n = number{}
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", raw, err)
	}
	*n = number{value: v, ok: true}
	return nil
}

func (n number) Int() int {
	return int(n.value)
}

func (n number) IntPtr() *int {
	if !n.ok {
		return nil
	}
	v := int(n.value)
	return &v
}

func (n number) FloatPtr() *float64 {
	if !n.ok {
		return nil
	}
	v := n.value
	return &v
}

// timestamp accepts RFC 3339 strings, plain dates, empty strings, and null.
type timestamp struct {
	value time.Time
	ok    bool
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*t = timestamp{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if v, err := time.Parse(layout, raw); err == nil {
			*t = timestamp{value: v.UTC(), ok: true}
			return nil
		}
	}
	return fmt.Errorf("parse time %q", raw)
}

func (t timestamp) Ptr() *time.Time {
	if !t.ok {
		return nil
	}
	v := t.value
	return &v
}

func (t timestamp) Or(fallback time.Time) time.Time {
	if t.ok {
		return t.value
	}
	return fallback
}

// itemID prefers the id inside fields and falls back to the envelope id.
func itemID(item content.Item, fieldID number) (int, error) {
	if fieldID.ok {
		return fieldID.Int(), nil
	}
	id, err := strconv.Atoi(strings.TrimSpace(item.ID))
	if err != nil {
		return 0, fmt.Errorf("item id %q is not numeric", item.ID)
	}
	return id, nil
}

type courseFields struct {
	ID             number    `json:"id"`
	Title          string    `json:"Title"`
	Description    string    `json:"Description"`
	Category       string    `json:"Category"`
	Difficulty     string    `json:"Difficulty"`
	EstimatedHours number    `json:"EstimatedHours"`
	ImageURL       string    `json:"ImageUrl"`
	IsActive       bool      `json:"IsActive"`
	Created        timestamp `json:"Created"`
	Modified       timestamp `json:"Modified"`
}

func decodeCourse(item content.Item) (Course, error) {
	var f courseFields
	if err := item.DecodeFields(&f); err != nil {
		return Course{}, err
	}
	id, err := itemID(item, f.ID)
	if err != nil {
		return Course{}, err
	}
	return Course{
		ID:             id,
		Title:          f.Title,
		Description:    f.Description,
		Category:       f.Category,
		Difficulty:     Difficulty(f.Difficulty),
		EstimatedHours: f.EstimatedHours.value,
		ImageURL:       f.ImageURL,
		IsActive:       f.IsActive,
		CreatedAt:      f.Created.Or(item.Created),
		ModifiedAt:     f.Modified.Or(item.Modified),
	}, nil
}

type moduleFields struct {
	ID          number `json:"id"`
	CourseID    number `json:"CourseId"`
	Title       string `json:"Title"`
	Description string `json:"Description"`
	ContentType string `json:"ContentType"`
	ContentURL  string `json:"ContentUrl"`
	Duration    number `json:"Duration"`
	OrderIndex  number `json:"OrderIndex"`
}

func decodeModule(item content.Item) (CourseModule, error) {
	var f moduleFields
	if err := item.DecodeFields(&f); err != nil {
		return CourseModule{}, err
	}
	id, err := itemID(item, f.ID)
	if err != nil {
		return CourseModule{}, err
	}
	return CourseModule{
		ID:              id,
		CourseID:        f.CourseID.Int(),
		Title:           f.Title,
		Description:     f.Description,
		ContentType:     ContentType(f.ContentType),
		ContentURL:      f.ContentURL,
		DurationMinutes: f.Duration.Int(),
		OrderIndex:      f.OrderIndex.Int(),
	}, nil
}

type enrollmentFields struct {
	ID             number    `json:"id"`
	UserEmail      string    `json:"UserEmail"`
	CourseID       number    `json:"CourseId"`
	EnrolledDate   timestamp `json:"EnrolledDate"`
	Status         string    `json:"Status"`
	CompletionDate timestamp `json:"CompletionDate"`
	Grade          number    `json:"Grade"`
}

func decodeEnrollment(item content.Item) (Enrollment, error) {
	var f enrollmentFields
	if err := item.DecodeFields(&f); err != nil {
		return Enrollment{}, err
	}
	id, err := itemID(item, f.ID)
	if err != nil {
		return Enrollment{}, err
	}
	return Enrollment{
		ID:             id,
		UserEmail:      f.UserEmail,
		CourseID:       f.CourseID.Int(),
		EnrolledAt:     f.EnrolledDate.Or(item.Created),
		Status:         EnrollmentStatus(f.Status),
		CompletionDate: f.CompletionDate.Ptr(),
		Grade:          f.Grade.FloatPtr(),
	}, nil
}

type progressFields struct {
	ID                 number    `json:"id"`
	UserEmail          string    `json:"UserEmail"`
	CourseID           number    `json:"CourseId"`
	ModuleID           number    `json:"ModuleId"`
	Status             string    `json:"Status"`
	ProgressPercentage number    `json:"ProgressPercentage"`
	StartedDate        timestamp `json:"StartedDate"`
	CompletedDate      timestamp `json:"CompletedDate"`
	LastAccessedDate   timestamp `json:"LastAccessedDate"`
	Modified           timestamp `json:"Modified"`
	TimeSpent          number    `json:"TimeSpent"`
}

func decodeProgress(item content.Item) (Progress, error) {
	var f progressFields
	if err := item.DecodeFields(&f); err != nil {
		return Progress{}, err
	}
	id, err := itemID(item, f.ID)
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		ID:               id,
		UserEmail:        f.UserEmail,
		CourseID:         f.CourseID.Int(),
		ModuleID:         f.ModuleID.IntPtr(),
		Status:           ProgressStatus(f.Status),
		Percentage:       f.ProgressPercentage.Int(),
		StartedAt:        f.StartedDate.Ptr(),
		CompletedAt:      f.CompletedDate.Ptr(),
		LastAccessedAt:   f.LastAccessedDate.Or(f.Modified.Or(item.Modified)),
		TimeSpentMinutes: f.TimeSpent.Int(),
	}, nil
}

type certificateFields struct {
	ID                number    `json:"id"`
	UserEmail         string    `json:"UserEmail"`
	CourseID          number    `json:"CourseId"`
	CertificateNumber string    `json:"CertificateNumber"`
	IssuedDate        timestamp `json:"IssuedDate"`
	ExpiryDate        timestamp `json:"ExpiryDate"`
	CertificateURL    string    `json:"CertificateUrl"`
}

func decodeCertificate(item content.Item) (Certificate, error) {
	var f certificateFields
	if err := item.DecodeFields(&f); err != nil {
		return Certificate{}, err
	}
	id, err := itemID(item, f.ID)
	if err != nil {
		return Certificate{}, err
	}
	return Certificate{
		ID:                id,
		UserEmail:         f.UserEmail,
		CourseID:          f.CourseID.Int(),
		CertificateNumber: f.CertificateNumber,
		IssuedAt:          f.IssuedDate.Or(item.Created),
		ExpiresAt:         f.ExpiryDate.Ptr(),
		URL:               f.CertificateURL,
	}, nil
}

func decodeAll[T any](items []content.Item, decode func(content.Item) (T, error)) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, err := decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
