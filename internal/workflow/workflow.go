package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lab-report-server/internal/events"
	"lab-report-server/internal/extraction"
	"lab-report-server/internal/models"
	"lab-report-server/internal/store"
)

// Service orchestrates the lab sample lifecycle:
//
//	pending -> in-progress -> completed | failed
//
// The transition to in-progress is committed before ProcessLabReport
// returns its acknowledgement, and extraction runs on a detached
// background goroutine. Terminal outcomes are only observable through
// subsequent status queries; nothing propagates back to the original
// caller once the acknowledgement is out.
type Service struct {
	Store     *store.Store
	Extractor extraction.Extractor
	Publisher events.Publisher
	Log       zerolog.Logger

	bg sync.WaitGroup
}

// New creates a workflow Service.
func New(st *store.Store, ex extraction.Extractor, pub events.Publisher, log zerolog.Logger) *Service {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Service{Store: st, Extractor: ex, Publisher: pub, Log: log}
}

// Wait blocks until all in-flight background extractions have finished.
// Called on shutdown so a terminating process does not strand samples
// in in-progress.
func (s *Service) Wait() {
	s.bg.Wait()
}

// CreateLabSampleInput carries the fields accepted at sample intake.
type CreateLabSampleInput struct {
	LabID        string
	Barcode      string
	TestTypeID   string
	SampleType   string
	Volume       string
	Container    string
	PatientID    string
	ExpectedTime time.Time
	Priority     models.SamplePriority
	Notes        string
}

// CreateLabSample validates intake data, persists the sample with
// status pending and announces it on the message bus. The announcement
// is fire-and-forget: a publish failure is logged and never rolls back
// the sample.
func (s *Service) CreateLabSample(ctx context.Context, input CreateLabSampleInput) (*models.LabSample, error) {
	switch {
	case input.LabID == "":
		return nil, &store.ValidationError{Message: "labId is required"}
	case input.Barcode == "":
		return nil, &store.ValidationError{Message: "barcode is required"}
	case input.TestTypeID == "":
		return nil, &store.ValidationError{Message: "testTypeId is required"}
	case input.SampleType == "":
		return nil, &store.ValidationError{Message: "sampleType is required"}
	case input.PatientID == "":
		return nil, &store.ValidationError{Message: "patientId is required"}
	case input.ExpectedTime.IsZero():
		return nil, &store.ValidationError{Message: "expectedTime is required"}
	}
	if input.Priority != "" && !models.ValidSamplePriority(input.Priority) {
		return nil, &store.ValidationError{Message: "invalid priority: " + string(input.Priority)}
	}

	sample := &models.LabSample{
		LabID:        input.LabID,
		Barcode:      input.Barcode,
		TestTypeID:   input.TestTypeID,
		SampleType:   input.SampleType,
		Volume:       input.Volume,
		Container:    input.Container,
		PatientID:    input.PatientID,
		ExpectedTime: input.ExpectedTime,
		Priority:     input.Priority,
		Notes:        input.Notes,
	}
	if err := s.Store.CreateSample(sample); err != nil {
		return nil, err
	}

	s.Log.Info().Str("labSampleId", sample.ID).Str("patientId", sample.PatientID).Msg("lab sample created")

	if err := s.Publisher.PublishSampleCreated(ctx, sample); err != nil {
		s.Log.Error().Err(err).Str("labSampleId", sample.ID).Msg("failed to publish sample created event")
	}

	return sample, nil
}

// ProcessAck is the immediate acknowledgement returned by
// ProcessLabReport.
type ProcessAck struct {
	LabSampleID string              `json:"labSampleId"`
	Status      models.SampleStatus `json:"status"`
}

// ProcessLabReport transitions the sample to in-progress and kicks off
// extraction in the background, returning at once. Re-entry on a
// pending, completed or failed sample supersedes the previous outcome
// (retry); a sample already in-progress is rejected with
// store.ErrAlreadyProcessing rather than racing the running attempt.
func (s *Service) ProcessLabReport(ctx context.Context, labSampleID, reportFilePath string) (*ProcessAck, error) {
	sample, err := s.Store.BeginProcessing(labSampleID)
	if err != nil {
		return nil, err
	}

	s.Log.Info().
		Str("labSampleId", sample.ID).
		Str("report", reportFilePath).
		Msg("lab report processing started")

	s.bg.Add(1)
	go s.runExtraction(sample, reportFilePath)

	return &ProcessAck{LabSampleID: sample.ID, Status: models.SampleStatusInProgress}, nil
}

// runExtraction is the detached half of ProcessLabReport. It is never
// awaited by a request handler and uses a fresh context: the caller's
// request context is gone by the time this runs.
func (s *Service) runExtraction(sample *models.LabSample, reportFilePath string) {
	defer s.bg.Done()
	ctx := context.Background()

	extracted, err := s.Extractor.Extract(ctx, reportFilePath, sample.TestType.Value)
	if err != nil {
		s.Log.Error().Err(err).Str("labSampleId", sample.ID).Msg("lab report extraction failed")
		s.markFailed(sample.ID)
		return
	}

	if _, err := s.Store.CreateResult(sample.ID, reportFilePath, extracted); err != nil {
		s.Log.Error().Err(err).Str("labSampleId", sample.ID).Msg("failed to persist lab result")
		s.markFailed(sample.ID)
		return
	}

	s.Log.Info().Str("labSampleId", sample.ID).Msg("lab report processed")
}

func (s *Service) markFailed(labSampleID string) {
	failed := models.SampleStatusFailed
	if _, err := s.Store.UpdateSample(labSampleID, store.UpdateSampleInput{Status: &failed}); err != nil {
		s.Log.Error().Err(err).Str("labSampleId", labSampleID).Msg("failed to mark lab sample as failed")
	}
}

// ProcessingStatus is a read-only projection of a sample's state.
type ProcessingStatus struct {
	LabSampleID  string              `json:"labSampleId"`
	Status       models.SampleStatus `json:"status"`
	IsComplete   bool                `json:"isComplete"`
	IsFailed     bool                `json:"isFailed"`
	IsProcessing bool                `json:"isProcessing"`
	IsPending    bool                `json:"isPending"`
	HasResults   bool                `json:"hasResults"`
	ResultCount  int                 `json:"resultCount"`
	Message      string              `json:"message"`
}

// GetProcessingStatus derives a human-readable summary from the
// sample's current status and attached results. It never mutates state.
func (s *Service) GetProcessingStatus(id string) (*ProcessingStatus, error) {
	sample, err := s.Store.GetSample(id)
	if err != nil {
		return nil, err
	}

	status := &ProcessingStatus{
		LabSampleID:  sample.ID,
		Status:       sample.Status,
		IsComplete:   sample.Status == models.SampleStatusCompleted,
		IsFailed:     sample.Status == models.SampleStatusFailed,
		IsProcessing: sample.Status == models.SampleStatusInProgress,
		IsPending:    sample.Status == models.SampleStatusPending,
		HasResults:   len(sample.LabResults) > 0,
		ResultCount:  len(sample.LabResults),
	}

	switch sample.Status {
	case models.SampleStatusCompleted:
		status.Message = "Lab report processed successfully"
	case models.SampleStatusFailed:
		status.Message = "Lab report processing failed"
	case models.SampleStatusInProgress:
		status.Message = "Lab report is being processed"
	default:
		status.Message = "Lab sample is awaiting processing"
	}

	return status, nil
}

// PatientLabHistory aggregates a patient's samples and results.
type PatientLabHistory struct {
	Patient         string             `json:"patient"`
	TotalSamples    int                `json:"totalSamples"`
	CompletedTests  int                `json:"completedTests"`
	PendingTests    int                `json:"pendingTests"`
	InProgressTests int                `json:"inProgressTests"`
	FailedTests     int                `json:"failedTests"`
	Samples         []models.LabSample `json:"samples"`
	Results         []models.LabResult `json:"results"`
}

// GetPatientLabHistory reports counts of the patient's samples by
// status and attaches the full result list. A read-only report.
func (s *Service) GetPatientLabHistory(patientID string) (*PatientLabHistory, error) {
	samples, err := s.Store.ListSamples(patientID)
	if err != nil {
		return nil, err
	}
	results, err := s.Store.ListResultsByPatient(patientID)
	if err != nil {
		return nil, err
	}

	history := &PatientLabHistory{
		Patient:      patientID,
		TotalSamples: len(samples),
		Samples:      samples,
		Results:      results,
	}
	for _, sample := range samples {
		switch sample.Status {
		case models.SampleStatusCompleted:
			history.CompletedTests++
		case models.SampleStatusPending:
			history.PendingTests++
		case models.SampleStatusInProgress:
			history.InProgressTests++
		case models.SampleStatusFailed:
			history.FailedTests++
		}
	}
	return history, nil
}

// SampleWithResults pairs a sample with derived result metadata. Both
// the latest result and the full list are exposed; the data model
// permits multiple results per sample even though the common case is
// exactly one.
type SampleWithResults struct {
	Sample       *models.LabSample   `json:"sample"`
	Status       models.SampleStatus `json:"status"`
	HasResults   bool                `json:"hasResults"`
	ResultCount  int                 `json:"resultCount"`
	LatestResult *models.LabResult   `json:"latestResult,omitempty"`
}

// GetLabSampleWithResults returns the sample plus derived result
// metadata, or store.ErrSampleNotFound.
func (s *Service) GetLabSampleWithResults(id string) (*SampleWithResults, error) {
	sample, err := s.Store.GetSample(id)
	if err != nil {
		return nil, err
	}

	out := &SampleWithResults{
		Sample:      sample,
		Status:      sample.Status,
		HasResults:  len(sample.LabResults) > 0,
		ResultCount: len(sample.LabResults),
	}
	for i := range sample.LabResults {
		r := &sample.LabResults[i]
		if out.LatestResult == nil || r.CreatedAt.After(out.LatestResult.CreatedAt) {
			out.LatestResult = r
		}
	}
	return out, nil
}
