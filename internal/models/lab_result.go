package models

// ResultStatus represents the state of an individual lab result
type ResultStatus string

const (
	ResultStatusProcessed ResultStatus = "processed"
	ResultStatusFailed    ResultStatus = "failed"
	ResultStatusPending   ResultStatus = "pending"
)

// LabResult is the outcome of processing one sample's report. The
// extracted payload is persisted only as ciphertext; the store decrypts
// it after load, so ExtractedData always holds the plaintext form in
// memory and is never written to the database.
type LabResult struct {
	BaseModel
	LabSampleID string       `gorm:"size:36;not null;index" json:"labSampleId"`
	ReportURL   string       `gorm:"size:512;not null" json:"reportUrl"`
	Status      ResultStatus `gorm:"size:20;default:'processed'" json:"status"`

	// EncryptedData is the at-rest form: nonce, tag and ciphertext as
	// colon-separated hex segments.
	EncryptedData string `gorm:"column:extracted_data;type:text" json:"-"`

	// ExtractedData is the decrypted payload, populated by the store.
	ExtractedData map[string]interface{} `gorm:"-" json:"extractedData"`

	// Relations
	LabSample *LabSample `gorm:"foreignKey:LabSampleID" json:"-"`
}
