package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"lab-report-server/internal/crypto"
	"lab-report-server/internal/extraction"
	"lab-report-server/internal/models"
	"lab-report-server/internal/store"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// extractorFunc adapts a plain function to the Extractor interface.
type extractorFunc func(ctx context.Context, filePath, testTypeCode string) (map[string]interface{}, error)

func (f extractorFunc) Extract(ctx context.Context, filePath, testTypeCode string) (map[string]interface{}, error) {
	return f(ctx, filePath, testTypeCode)
}

// spyPublisher records published samples.
type spyPublisher struct {
	published []string
	err       error
}

func (p *spyPublisher) PublishSampleCreated(_ context.Context, sample *models.LabSample) error {
	p.published = append(p.published, sample.ID)
	return p.err
}

func newTestService(t *testing.T, ex extraction.Extractor, pub *spyPublisher) (*Service, *store.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	codec, err := crypto.NewCodec(testKey)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	st := store.New(db, codec, zerolog.Nop())

	var publisher *spyPublisher
	if pub != nil {
		publisher = pub
	} else {
		publisher = &spyPublisher{}
	}
	return New(st, ex, publisher, zerolog.Nop()), st
}

func seedTestType(t *testing.T, st *store.Store) *models.TestType {
	t.Helper()
	tt := &models.TestType{Value: "lab_report", Label: "General Lab Report", Category: "chemistry"}
	if err := st.CreateTestType(tt); err != nil {
		t.Fatalf("CreateTestType: %v", err)
	}
	return tt
}

func sampleInput(testTypeID, patientID string) CreateLabSampleInput {
	return CreateLabSampleInput{
		LabID:        "L1",
		Barcode:      "B100",
		TestTypeID:   testTypeID,
		SampleType:   "blood",
		Volume:       "5ml",
		Container:    "EDTA tube",
		PatientID:    patientID,
		ExpectedTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateLabSampleValidation(t *testing.T) {
	svc, st := newTestService(t, nil, nil)
	tt := seedTestType(t, st)

	cases := []struct {
		name   string
		mutate func(*CreateLabSampleInput)
	}{
		{"missing labId", func(in *CreateLabSampleInput) { in.LabID = "" }},
		{"missing barcode", func(in *CreateLabSampleInput) { in.Barcode = "" }},
		{"missing testTypeId", func(in *CreateLabSampleInput) { in.TestTypeID = "" }},
		{"missing sampleType", func(in *CreateLabSampleInput) { in.SampleType = "" }},
		{"missing patientId", func(in *CreateLabSampleInput) { in.PatientID = "" }},
		{"missing expectedTime", func(in *CreateLabSampleInput) { in.ExpectedTime = time.Time{} }},
		{"bad priority", func(in *CreateLabSampleInput) { in.Priority = "whenever" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := sampleInput(tt.ID, "P1")
			tc.mutate(&input)

			_, err := svc.CreateLabSample(context.Background(), input)
			var validationErr *store.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("CreateLabSample error = %v, want ValidationError", err)
			}
		})
	}

	var count int64
	st.DB.Model(&models.LabSample{}).Count(&count)
	if count != 0 {
		t.Fatalf("samples persisted despite validation failures, count = %d", count)
	}
}

func TestCreateLabSamplePublishesEvent(t *testing.T) {
	pub := &spyPublisher{}
	svc, st := newTestService(t, nil, pub)
	tt := seedTestType(t, st)

	sample, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}
	if sample.Status != models.SampleStatusPending {
		t.Fatalf("status = %q, want pending", sample.Status)
	}
	if len(pub.published) != 1 || pub.published[0] != sample.ID {
		t.Fatalf("published = %v, want [%s]", pub.published, sample.ID)
	}
}

func TestCreateLabSamplePublishFailureDoesNotRollBack(t *testing.T) {
	pub := &spyPublisher{err: errors.New("broker down")}
	svc, st := newTestService(t, nil, pub)
	tt := seedTestType(t, st)

	sample, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}

	if _, err := st.GetSample(sample.ID); err != nil {
		t.Fatalf("sample rolled back after publish failure: %v", err)
	}
}

func TestProcessLabReportHappyPath(t *testing.T) {
	var gotFormat string
	ex := extractorFunc(func(_ context.Context, _, testTypeCode string) (map[string]interface{}, error) {
		gotFormat = testTypeCode
		return map[string]interface{}{"glucose": float64(95)}, nil
	})
	svc, st := newTestService(t, ex, nil)
	tt := seedTestType(t, st)
	sample, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}

	ack, err := svc.ProcessLabReport(context.Background(), sample.ID, "/reports/r1.pdf")
	if err != nil {
		t.Fatalf("ProcessLabReport: %v", err)
	}
	if ack.Status != models.SampleStatusInProgress || ack.LabSampleID != sample.ID {
		t.Fatalf("ack = %#v", ack)
	}

	svc.Wait()

	if gotFormat != "lab_report" {
		t.Fatalf("extractor received format %q, want the sample's test type code", gotFormat)
	}

	loaded, err := st.GetSample(sample.ID)
	if err != nil {
		t.Fatalf("GetSample: %v", err)
	}
	if loaded.Status != models.SampleStatusCompleted {
		t.Fatalf("status = %q, want completed", loaded.Status)
	}
	if len(loaded.LabResults) != 1 {
		t.Fatalf("results = %d, want 1", len(loaded.LabResults))
	}
	if loaded.LabResults[0].ExtractedData["glucose"] != float64(95) {
		t.Fatalf("extracted data = %#v", loaded.LabResults[0].ExtractedData)
	}
}

func TestProcessLabReportAckPrecedesExtraction(t *testing.T) {
	release := make(chan struct{})
	ex := extractorFunc(func(context.Context, string, string) (map[string]interface{}, error) {
		<-release
		return map[string]interface{}{"ok": true}, nil
	})
	svc, st := newTestService(t, ex, nil)
	tt := seedTestType(t, st)
	sample, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}

	if _, err := svc.ProcessLabReport(context.Background(), sample.ID, "/reports/r1.pdf"); err != nil {
		t.Fatalf("ProcessLabReport: %v", err)
	}

	// The in-progress transition is committed before the ack returns, so
	// a status query right now can never observe pending.
	loaded, err := st.GetSample(sample.ID)
	if err != nil {
		t.Fatalf("GetSample: %v", err)
	}
	if loaded.Status != models.SampleStatusInProgress {
		t.Fatalf("status after ack = %q, want in-progress", loaded.Status)
	}

	// A second process-report call while extraction is running is rejected.
	if _, err := svc.ProcessLabReport(context.Background(), sample.ID, "/reports/r1.pdf"); !errors.Is(err, store.ErrAlreadyProcessing) {
		t.Fatalf("overlapping call error = %v, want ErrAlreadyProcessing", err)
	}

	close(release)
	svc.Wait()
}

func TestProcessLabReportExtractionFailure(t *testing.T) {
	ex := extractorFunc(func(context.Context, string, string) (map[string]interface{}, error) {
		return nil, &extraction.ExitError{Code: 1, Stderr: "unreadable scan"}
	})
	svc, st := newTestService(t, ex, nil)
	tt := seedTestType(t, st)
	sample, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}

	if _, err := svc.ProcessLabReport(context.Background(), sample.ID, "/reports/r1.pdf"); err != nil {
		t.Fatalf("ProcessLabReport: %v", err)
	}
	svc.Wait()

	loaded, err := st.GetSample(sample.ID)
	if err != nil {
		t.Fatalf("GetSample: %v", err)
	}
	if loaded.Status != models.SampleStatusFailed {
		t.Fatalf("status = %q, want failed", loaded.Status)
	}
	if len(loaded.LabResults) != 0 {
		t.Fatalf("results persisted for a failed extraction: %d", len(loaded.LabResults))
	}
}

func TestProcessLabReportRetryAfterFailure(t *testing.T) {
	attempts := 0
	ex := extractorFunc(func(context.Context, string, string) (map[string]interface{}, error) {
		attempts++
		if attempts == 1 {
			return nil, &extraction.ExitError{Code: 1, Stderr: "transient"}
		}
		return map[string]interface{}{"glucose": float64(95)}, nil
	})
	svc, st := newTestService(t, ex, nil)
	tt := seedTestType(t, st)
	sample, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}

	if _, err := svc.ProcessLabReport(context.Background(), sample.ID, "/reports/r1.pdf"); err != nil {
		t.Fatalf("first ProcessLabReport: %v", err)
	}
	svc.Wait()

	// The failed terminal state admits an explicit retry.
	if _, err := svc.ProcessLabReport(context.Background(), sample.ID, "/reports/r1.pdf"); err != nil {
		t.Fatalf("retry ProcessLabReport: %v", err)
	}
	svc.Wait()

	loaded, err := st.GetSample(sample.ID)
	if err != nil {
		t.Fatalf("GetSample: %v", err)
	}
	if loaded.Status != models.SampleStatusCompleted {
		t.Fatalf("status after retry = %q, want completed", loaded.Status)
	}
	if attempts != 2 {
		t.Fatalf("extraction attempts = %d, want 2", attempts)
	}
}

func TestProcessLabReportMissingSample(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)

	_, err := svc.ProcessLabReport(context.Background(), "missing-id", "/reports/r1.pdf")
	if !errors.Is(err, store.ErrSampleNotFound) {
		t.Fatalf("ProcessLabReport error = %v, want ErrSampleNotFound", err)
	}
}

func TestGetProcessingStatusProjection(t *testing.T) {
	ex := extractorFunc(func(context.Context, string, string) (map[string]interface{}, error) {
		return map[string]interface{}{"glucose": float64(95)}, nil
	})
	svc, st := newTestService(t, ex, nil)
	tt := seedTestType(t, st)
	sample, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}

	status, err := svc.GetProcessingStatus(sample.ID)
	if err != nil {
		t.Fatalf("GetProcessingStatus: %v", err)
	}
	if !status.IsPending || status.HasResults || status.ResultCount != 0 {
		t.Fatalf("pending projection wrong: %#v", status)
	}

	if _, err := svc.ProcessLabReport(context.Background(), sample.ID, "/reports/r1.pdf"); err != nil {
		t.Fatalf("ProcessLabReport: %v", err)
	}
	svc.Wait()

	status, err = svc.GetProcessingStatus(sample.ID)
	if err != nil {
		t.Fatalf("GetProcessingStatus: %v", err)
	}
	if !status.IsComplete || status.IsPending || status.IsProcessing || status.IsFailed {
		t.Fatalf("completed projection wrong: %#v", status)
	}
	if !status.HasResults || status.ResultCount != 1 {
		t.Fatalf("result metadata wrong: %#v", status)
	}
	if status.Message == "" {
		t.Fatal("projection missing message")
	}

	if _, err := svc.GetProcessingStatus("missing-id"); !errors.Is(err, store.ErrSampleNotFound) {
		t.Fatalf("GetProcessingStatus(missing) error = %v, want ErrSampleNotFound", err)
	}
}

func TestGetPatientLabHistoryCounts(t *testing.T) {
	ex := extractorFunc(func(context.Context, string, string) (map[string]interface{}, error) {
		return map[string]interface{}{"glucose": float64(95)}, nil
	})
	svc, st := newTestService(t, ex, nil)
	tt := seedTestType(t, st)

	completed, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}
	if _, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1")); err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}
	if _, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P2")); err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}

	if _, err := svc.ProcessLabReport(context.Background(), completed.ID, "/reports/r1.pdf"); err != nil {
		t.Fatalf("ProcessLabReport: %v", err)
	}
	svc.Wait()

	history, err := svc.GetPatientLabHistory("P1")
	if err != nil {
		t.Fatalf("GetPatientLabHistory: %v", err)
	}
	if history.TotalSamples != 2 {
		t.Fatalf("totalSamples = %d, want 2", history.TotalSamples)
	}
	if history.CompletedTests != 1 || history.PendingTests != 1 {
		t.Fatalf("counts wrong: %#v", history)
	}
	if len(history.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(history.Results))
	}
	if history.Results[0].ExtractedData["glucose"] != float64(95) {
		t.Fatalf("history result not decrypted: %#v", history.Results[0].ExtractedData)
	}
}

func TestGetLabSampleWithResults(t *testing.T) {
	ex := extractorFunc(func(context.Context, string, string) (map[string]interface{}, error) {
		return map[string]interface{}{"glucose": float64(95)}, nil
	})
	svc, st := newTestService(t, ex, nil)
	tt := seedTestType(t, st)
	sample, err := svc.CreateLabSample(context.Background(), sampleInput(tt.ID, "P1"))
	if err != nil {
		t.Fatalf("CreateLabSample: %v", err)
	}

	if _, err := svc.ProcessLabReport(context.Background(), sample.ID, "/reports/r1.pdf"); err != nil {
		t.Fatalf("ProcessLabReport: %v", err)
	}
	svc.Wait()

	got, err := svc.GetLabSampleWithResults(sample.ID)
	if err != nil {
		t.Fatalf("GetLabSampleWithResults: %v", err)
	}
	if !got.HasResults || got.ResultCount != 1 {
		t.Fatalf("result metadata wrong: %#v", got)
	}
	if got.LatestResult == nil || got.LatestResult.ExtractedData["glucose"] != float64(95) {
		t.Fatalf("latest result wrong: %#v", got.LatestResult)
	}

	if _, err := svc.GetLabSampleWithResults("missing-id"); !errors.Is(err, store.ErrSampleNotFound) {
		t.Fatalf("GetLabSampleWithResults(missing) error = %v, want ErrSampleNotFound", err)
	}
}
