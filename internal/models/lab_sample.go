package models

import (
	"time"
)

// SampleStatus represents the processing state of a lab sample
type SampleStatus string

const (
	SampleStatusPending    SampleStatus = "pending"
	SampleStatusInProgress SampleStatus = "in-progress"
	SampleStatusCompleted  SampleStatus = "completed"
	SampleStatusFailed     SampleStatus = "failed"
)

// ValidSampleStatus reports whether s is one of the known statuses.
func ValidSampleStatus(s SampleStatus) bool {
	switch s {
	case SampleStatusPending, SampleStatusInProgress, SampleStatusCompleted, SampleStatusFailed:
		return true
	}
	return false
}

// SamplePriority represents how urgently a sample should be processed
type SamplePriority string

const (
	PriorityLow    SamplePriority = "low"
	PriorityNormal SamplePriority = "normal"
	PriorityHigh   SamplePriority = "high"
	PriorityUrgent SamplePriority = "urgent"
)

// ValidSamplePriority reports whether p is one of the known priorities.
func ValidSamplePriority(p SamplePriority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// LabSample represents a physical specimen tracked through the lab pipeline
type LabSample struct {
	BaseModel
	LabID        string         `gorm:"size:100;not null;index" json:"labId"`
	Barcode      string         `gorm:"size:100;not null;index" json:"barcode"`
	TestTypeID   string         `gorm:"size:36;not null;index" json:"testTypeId"`
	SampleType   string         `gorm:"size:100;not null" json:"sampleType"`
	Volume       string         `gorm:"size:50" json:"volume"`
	Container    string         `gorm:"size:100" json:"container"`
	PatientID    string         `gorm:"size:100;not null;index" json:"patientId"`
	ExpectedTime time.Time      `json:"expectedTime"`
	Status       SampleStatus   `gorm:"size:20;default:'pending'" json:"status"`
	Priority     SamplePriority `gorm:"size:20;default:'normal'" json:"priority"`
	Notes        string         `gorm:"type:text" json:"notes,omitempty"`

	// Relations
	TestType   TestType    `gorm:"foreignKey:TestTypeID" json:"testType,omitempty"`
	LabResults []LabResult `gorm:"foreignKey:LabSampleID" json:"labResults,omitempty"`
}
