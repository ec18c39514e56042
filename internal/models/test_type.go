package models

// TestType is a catalog entry describing a kind of lab test. Rows are
// created administratively and treated as immutable once a sample
// references them.
type TestType struct {
	BaseModel
	Value    string `gorm:"size:100;not null;uniqueIndex" json:"value"` // machine code passed to the extractor
	Label    string `gorm:"size:255;not null" json:"label"`
	Category string `gorm:"size:100" json:"category"`
}
