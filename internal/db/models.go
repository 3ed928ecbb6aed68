// internal/db/models.go
package db

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// import_files status
const (
	FilePending    = 0
	FileDone       = 1
	FileError      = 2
	FileProcessing = 3 // handed to a job that has not finished yet
)

// product_versions
//
// Rows are append-only. After insert only is_current / is_current_published
// are ever flipped (to false), when a newer version takes over.
type ProductVersion struct {
	ID                  string `gorm:"primaryKey;size:26"`
	EntityCode          string `gorm:"size:191;not null;uniqueIndex:uniq_entity_version,priority:1"`
	Version             int    `gorm:"not null;uniqueIndex:uniq_entity_version,priority:2"`
	SKU                 string `gorm:"size:191;index"`
	IsCurrent           bool   `gorm:"not null;default:false;index"`
	IsCurrentPublished  bool   `gorm:"not null;default:false;index"`
	Status              string `gorm:"size:32;not null;index"` // draft/published
	PublishedAt         *time.Time
	LockedFields        datatypes.JSONSlice[string]
	CompletenessScore   int
	CriticalIssues      datatypes.JSONSlice[string]
	AutoPublishEligible bool
	AutoPublishReason   string `gorm:"type:text"`
	SourceID            string `gorm:"size:191;index"`
	Provenance          datatypes.JSONType[Provenance]
	Payload             datatypes.JSON
	CreatedAt           time.Time `gorm:"autoCreateTime"`
}

// Data decodes the versioned attributes. An empty payload yields an empty map.
func (p *ProductVersion) Data() (map[string]any, error) {
	out := map[string]any{}
	if p == nil || len(p.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Provenance is the snapshot of where a version came from and which policy judged it.
type Provenance struct {
	SourceID   string         `json:"source_id"`
	SourceName string         `json:"source_name"`
	ImportedAt time.Time      `json:"imported_at"`
	Policy     PolicySnapshot `json:"policy"`
	ActorKind  string         `json:"actor_kind"`
	ActorID    string         `json:"actor_id,omitempty"`
}

type PolicySnapshot struct {
	AutoPublishEnabled bool     `json:"auto_publish_enabled"`
	MinScoreThreshold  int      `json:"min_score_threshold"`
	RequiredFields     []string `json:"required_fields"`
}

// import_sources
type ImportSource struct {
	SourceID           string `gorm:"primaryKey;size:191"`
	Name               string
	FieldMappings      datatypes.JSONType[map[string]string]
	AutoPublishEnabled bool
	MinScoreThreshold  int
	RequiredFields     datatypes.JSONSlice[string]
	Stats              datatypes.JSONType[SourceStats]
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

type SourceStats struct {
	Runs          int        `json:"runs"`
	Imported      int        `json:"imported"`
	Failed        int        `json:"failed"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	LastJobID     string     `json:"last_job_id,omitempty"`
}

// jobs
type Job struct {
	JobID           string `gorm:"primaryKey;size:36"`
	JobType         string `gorm:"size:64;index"`
	Status          string `gorm:"size:32;index;default:pending"` // pending/processing/completed/failed/cancelled
	SourceID        string `gorm:"size:191;index"`
	TotalItems      int
	ProcessedItems  int
	SuccessfulItems int
	FailedItems     int
	Errors          datatypes.JSONSlice[JobError]
	Params          datatypes.JSON
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

type JobError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// import_files
type ImportFile struct {
	ImportID    uint   `gorm:"primaryKey;column:import_id"`
	Filename    string `gorm:"uniqueIndex;size:191"`
	SHA256      string `gorm:"uniqueIndex;size:64"`
	BatchID     string `gorm:"size:191;index"` // feed's own export id, when it carries one
	SizeBytes   int64
	SourceID    string    `gorm:"size:191"`
	JobID       string    `gorm:"size:36;index"`
	Status      int       `gorm:"index"` // 0=pending, 1=done, 2=error, 3=processing
	LastError   string    `gorm:"type:text"`
	ReceivedAt  time.Time `gorm:"autoCreateTime"`
	ProcessedAt *time.Time
}
