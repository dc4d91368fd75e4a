package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStateConflict is returned when a conditional update finds the row in a
// different state than the one the caller required.
var ErrStateConflict = errors.New("record not in expected state")

// ErrExists is returned when an insert collides with an existing primary key.
var ErrExists = errors.New("already exists")

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Content statuses.
const (
	ContentDraft     = "draft"
	ContentPublished = "published"
)

// CampaignActive is the status of a campaign that is currently running.
const CampaignActive = "active"

type Tenant struct {
	ID        string
	Name      string
	Plan      string
	CreatedAt time.Time
}

// Unit is an independently managed sub-scope of a tenant, such as one product.
type Unit struct {
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
}

type MemoryEntry struct {
	ID           string
	TenantID     string
	Kind         string
	Text         string
	Embedding    []float32
	MetadataJSON string
	Importance   int
	CreatedAt    time.Time
}

type Job struct {
	ID          string
	TenantID    string
	Kind        string
	Status      string
	Progress    int
	PayloadJSON string
	ResultJSON  string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

type Decision struct {
	ID          string
	TenantID    string
	UnitID      string
	AgentType   string
	RawPlan     string // JSON
	Reasoning   string
	ContextJSON string
	CreatedAt   time.Time
	ExecutedAt  *time.Time
}

type LearningRecord struct {
	ID           string
	TenantID     string
	EventType    string
	WindowStart  time.Time
	WindowEnd    time.Time
	PatternsJSON string
	InsightsJSON string
	Applied      bool
	CreatedAt    time.Time
}

type Content struct {
	ID          string
	TenantID    string
	UnitID      string
	Kind        string
	Status      string
	Topic       string
	Platform    string
	Body        string
	JobID       string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type Campaign struct {
	ID        string
	TenantID  string
	Name      string
	Status    string
	CreatedAt time.Time
}

type KPIRecord struct {
	ID         string
	TenantID   string
	Metric     string
	Value      float64
	RecordedAt time.Time
}
