package store

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"lab-report-server/internal/crypto"
	"lab-report-server/internal/models"
)

// Sentinel errors for lookup and state failures. Handlers map these to
// HTTP statuses.
var (
	ErrSampleNotFound    = errors.New("lab sample not found")
	ErrTestTypeNotFound  = errors.New("test type not found")
	ErrResultNotFound    = errors.New("lab result not found")
	ErrAlreadyProcessing = errors.New("lab sample is already being processed")
)

// ValidationError reports invalid input rejected before any persistence.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Store is the only component that reads or writes sample, result and
// test-type rows. It owns referential checks between samples and the
// test-type catalog, and the encrypt-before-write / decrypt-after-read
// handling of extracted payloads.
type Store struct {
	DB    *gorm.DB
	Codec *crypto.Codec
	Log   zerolog.Logger
}

// New creates a Store.
func New(db *gorm.DB, codec *crypto.Codec, log zerolog.Logger) *Store {
	return &Store{DB: db, Codec: codec, Log: log}
}

// --- TestType catalog ---

// CreateTestType adds a catalog entry.
func (s *Store) CreateTestType(t *models.TestType) error {
	if t.Value == "" || t.Label == "" {
		return &ValidationError{Message: "test type value and label are required"}
	}
	return s.DB.Create(t).Error
}

// ListTestTypes returns the full catalog.
func (s *Store) ListTestTypes() ([]models.TestType, error) {
	var types []models.TestType
	if err := s.DB.Order("category, label").Find(&types).Error; err != nil {
		return nil, err
	}
	return types, nil
}

// GetTestType fetches one catalog entry by ID.
func (s *Store) GetTestType(id string) (*models.TestType, error) {
	var t models.TestType
	if err := s.DB.First(&t, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTestTypeNotFound
		}
		return nil, err
	}
	return &t, nil
}

// --- LabSample ---

// CreateSample persists a new sample with status pending. The sample's
// TestTypeID must reference an existing catalog entry; anything else is
// rejected before any row is written.
func (s *Store) CreateSample(sample *models.LabSample) error {
	var testType models.TestType
	if err := s.DB.First(&testType, "id = ?", sample.TestTypeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ValidationError{Message: "test type not found: " + sample.TestTypeID}
		}
		return err
	}

	sample.Status = models.SampleStatusPending
	if sample.Priority == "" {
		sample.Priority = models.PriorityNormal
	}

	if err := s.DB.Create(sample).Error; err != nil {
		return fmt.Errorf("failed to create lab sample: %w", err)
	}
	sample.TestType = testType
	return nil
}

// GetSample returns a sample with its test type and results eagerly
// attached, result payloads decrypted.
func (s *Store) GetSample(id string) (*models.LabSample, error) {
	var sample models.LabSample
	err := s.DB.Preload("TestType").Preload("LabResults").First(&sample, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSampleNotFound
		}
		return nil, err
	}
	for i := range sample.LabResults {
		s.decryptResult(&sample.LabResults[i])
	}
	return &sample, nil
}

// UpdateSampleInput is the patch surface exposed for samples. Only
// status, priority and notes may be changed this way; everything else
// is owned by the workflow.
type UpdateSampleInput struct {
	Status   *models.SampleStatus
	Priority *models.SamplePriority
	Notes    *string
}

// UpdateSample applies a partial update and returns the refreshed sample.
func (s *Store) UpdateSample(id string, input UpdateSampleInput) (*models.LabSample, error) {
	updates := map[string]interface{}{}
	if input.Status != nil {
		if !models.ValidSampleStatus(*input.Status) {
			return nil, &ValidationError{Message: "invalid status: " + string(*input.Status)}
		}
		updates["status"] = *input.Status
	}
	if input.Priority != nil {
		if !models.ValidSamplePriority(*input.Priority) {
			return nil, &ValidationError{Message: "invalid priority: " + string(*input.Priority)}
		}
		updates["priority"] = *input.Priority
	}
	if input.Notes != nil {
		updates["notes"] = *input.Notes
	}
	if len(updates) == 0 {
		return nil, &ValidationError{Message: "no updatable fields provided"}
	}

	res := s.DB.Model(&models.LabSample{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrSampleNotFound
	}
	return s.GetSample(id)
}

// BeginProcessing transitions a sample into in-progress using a
// conditional single-row update, so concurrent process-report calls on
// the same sample cannot both win. Re-entry is allowed from pending and
// from the terminal states (retry); a sample already in-progress is
// rejected with ErrAlreadyProcessing.
func (s *Store) BeginProcessing(id string) (*models.LabSample, error) {
	res := s.DB.Model(&models.LabSample{}).
		Where("id = ? AND status <> ?", id, models.SampleStatusInProgress).
		Update("status", models.SampleStatusInProgress)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.DB.Model(&models.LabSample{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, ErrSampleNotFound
		}
		return nil, ErrAlreadyProcessing
	}
	return s.GetSample(id)
}

// ListSamples returns samples with relations attached, optionally
// filtered by owning patient. An empty patientID returns all samples.
func (s *Store) ListSamples(patientID string) ([]models.LabSample, error) {
	query := s.DB.Preload("TestType").Preload("LabResults").Order("created_at desc")
	if patientID != "" {
		query = query.Where("patient_id = ?", patientID)
	}
	var samples []models.LabSample
	if err := query.Find(&samples).Error; err != nil {
		return nil, err
	}
	for i := range samples {
		for j := range samples[i].LabResults {
			s.decryptResult(&samples[i].LabResults[j])
		}
	}
	return samples, nil
}

// --- LabResult ---

// CreateResult persists the extracted payload in encrypted form and
// marks the owning sample completed. Both writes happen in one
// transaction: a result must never exist without the status flip, and
// a failed insert must leave the sample status untouched.
func (s *Store) CreateResult(labSampleID, reportURL string, extractedData map[string]interface{}) (*models.LabResult, error) {
	encrypted, err := s.Codec.Encrypt(extractedData)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt lab data: %w", err)
	}

	result := models.LabResult{
		LabSampleID:   labSampleID,
		ReportURL:     reportURL,
		Status:        models.ResultStatusProcessed,
		EncryptedData: encrypted,
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var sample models.LabSample
		if err := tx.First(&sample, "id = ?", labSampleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSampleNotFound
			}
			return err
		}
		if err := tx.Create(&result).Error; err != nil {
			return fmt.Errorf("failed to create lab result: %w", err)
		}
		return tx.Model(&models.LabSample{}).
			Where("id = ?", labSampleID).
			Update("status", models.SampleStatusCompleted).Error
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info().Str("labSampleId", labSampleID).Str("resultId", result.ID).Msg("lab result saved with encrypted data")
	result.ExtractedData = extractedData
	return &result, nil
}

// GetResult fetches one result by ID with its payload decrypted.
func (s *Store) GetResult(id string) (*models.LabResult, error) {
	var result models.LabResult
	if err := s.DB.Preload("LabSample").Preload("LabSample.TestType").First(&result, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	s.decryptResult(&result)
	return &result, nil
}

// ListResultsByPatient joins through samples to return every result
// belonging to the patient, payloads decrypted.
func (s *Store) ListResultsByPatient(patientID string) ([]models.LabResult, error) {
	var results []models.LabResult
	err := s.DB.
		Joins("JOIN lab_samples ON lab_samples.id = lab_results.lab_sample_id").
		Where("lab_samples.patient_id = ?", patientID).
		Preload("LabSample").Preload("LabSample.TestType").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	for i := range results {
		s.decryptResult(&results[i])
	}
	return results, nil
}

// decryptResult populates ExtractedData from the stored ciphertext.
// Records that cannot be decrypted (tampered rows, or legacy plaintext
// rows written before encryption was introduced) degrade to an empty
// payload so their non-sensitive fields stay retrievable; the anomaly
// is logged rather than propagated.
func (s *Store) decryptResult(r *models.LabResult) {
	if r.EncryptedData == "" {
		r.ExtractedData = map[string]interface{}{}
		return
	}
	data, err := s.Codec.Decrypt(r.EncryptedData)
	if err != nil {
		s.Log.Warn().Err(err).Str("resultId", r.ID).Msg("failed to decrypt lab result data")
		r.ExtractedData = map[string]interface{}{}
		return
	}
	r.ExtractedData = data
}
