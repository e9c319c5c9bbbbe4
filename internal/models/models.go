package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReportType selects which report template the renderer produces.
type ReportType string

const (
	ReportTypeDetailed   ReportType = "detailed"
	ReportTypeExecutive  ReportType = "executive"
	ReportTypeCost       ReportType = "cost"
	ReportTypeSecurity   ReportType = "security"
	ReportTypeOperations ReportType = "operations"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeDetailed, ReportTypeExecutive, ReportTypeCost, ReportTypeSecurity, ReportTypeOperations:
		return true
	}
	return false
}

// DataSource identifies where a report's recommendations come from.
// A report carries exactly one source: an uploaded export file or a
// live subscription pulled from the advisory API.
type DataSource string

const (
	DataSourceFileUpload DataSource = "file-upload"
	DataSourceLiveAPI    DataSource = "live-api"
)

// ReportStatus is the pipeline state of a report.
type ReportStatus string

const (
	StatusPending    ReportStatus = "pending"
	StatusUploaded   ReportStatus = "uploaded"
	StatusProcessing ReportStatus = "processing"
	StatusGenerating ReportStatus = "generating"
	StatusCompleted  ReportStatus = "completed"
	StatusFailed     ReportStatus = "failed"
	StatusCancelled  ReportStatus = "cancelled"
)

// Terminal reports never transition again.
func (s ReportStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions is the allowed forward edge set of the report state
// machine. failed and cancelled are reachable from every non-terminal
// state past pending and are handled separately in CanTransition.
var transitions = map[ReportStatus]ReportStatus{
	StatusPending:    StatusUploaded,
	StatusUploaded:   StatusProcessing,
	StatusProcessing: StatusGenerating,
	StatusGenerating: StatusCompleted,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to ReportStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	return transitions[from] == to
}

// MaxRetries bounds transient-error re-entries of a single state
// before the report collapses to failed.
const MaxRetries = 5

// Category is the advisory pillar a recommendation belongs to.
type Category string

const (
	CategoryCost        Category = "cost"
	CategorySecurity    Category = "security"
	CategoryReliability Category = "reliability"
	CategoryOperational Category = "operational"
	CategoryPerformance Category = "performance"
)

// BusinessImpact is the advisory severity of a recommendation.
type BusinessImpact string

const (
	ImpactHigh   BusinessImpact = "high"
	ImpactMedium BusinessImpact = "medium"
	ImpactLow    BusinessImpact = "low"
)

// ReservationType is the concrete commitment product a recommendation
// points at, resolved by the classifier.
type ReservationType string

const (
	ReservationTypeInstance    ReservationType = "reserved_instance"
	ReservationTypeCapacity    ReservationType = "reserved_capacity"
	ReservationTypeSavingsPlan ReservationType = "savings_plan"
	ReservationTypeOther       ReservationType = "other"
)

// CommitmentCategory is the taxonomy bucket assigned to a
// recommendation. The buckets partition a report's recommendation set:
// every recommendation lands in exactly one.
type CommitmentCategory string

const (
	CommitmentPureReservation1Y CommitmentCategory = "pure_reservation_1y"
	CommitmentPureReservation3Y CommitmentCategory = "pure_reservation_3y"
	CommitmentPureSavingsPlan   CommitmentCategory = "pure_savings_plan"
	CommitmentCombinedSP1Y      CommitmentCategory = "combined_sp_1y"
	CommitmentCombinedSP3Y      CommitmentCategory = "combined_sp_3y"
	CommitmentUncategorized     CommitmentCategory = "uncategorized"
)

// Classification is the full classifier output for one recommendation.
// It is persisted and copied only as a whole: writing a subset of these
// fields desynchronizes CommitmentCategory from the fields it is
// derived from and silently corrupts aggregation.
type Classification struct {
	IsReservation       bool               `json:"isReservation"`
	ReservationType     *ReservationType   `json:"reservationType,omitempty"`
	CommitmentTermYears *int               `json:"commitmentTermYears,omitempty"`
	IsSavingsPlan       bool               `json:"isSavingsPlan"`
	CommitmentCategory  CommitmentCategory `json:"commitmentCategory"`
}

// ManualEntryRow marks recommendations entered by hand rather than
// parsed from an uploaded file.
const ManualEntryRow = -1

// Recommendation is one advisory line item owned by a report.
type Recommendation struct {
	ID                uuid.UUID      `json:"id"`
	ReportID          uuid.UUID      `json:"reportId"`
	RowNumber         int            `json:"rowNumber"`
	Category          Category       `json:"category"`
	BusinessImpact    BusinessImpact `json:"businessImpact"`
	Recommendation    string         `json:"recommendation"`
	PotentialBenefits string         `json:"potentialBenefits,omitempty"`
	SubscriptionID    string         `json:"subscriptionId,omitempty"`
	SubscriptionName  string         `json:"subscriptionName,omitempty"`
	ResourceGroup     string         `json:"resourceGroup,omitempty"`
	ResourceName      string         `json:"resourceName,omitempty"`
	ResourceType      string         `json:"resourceType,omitempty"`
	PotentialSavings  float64        `json:"potentialSavings"`
	Currency          string         `json:"currency,omitempty"`

	Classification Classification `json:"classification"`

	CreatedAt time.Time `json:"createdAt"`
}

// Report is the unit of pipeline work.
type Report struct {
	ID                 uuid.UUID    `json:"id"`
	ReportType         ReportType   `json:"reportType"`
	DataSource         DataSource   `json:"dataSource"`
	Status             ReportStatus `json:"status"`
	Version            int          `json:"version"`
	RetryCount         int          `json:"retryCount"`
	SourceFileKey      string       `json:"sourceFileKey,omitempty"`
	HTMLFileKey        string       `json:"htmlFileKey,omitempty"`
	PDFFileKey         string       `json:"pdfFileKey,omitempty"`
	LiveSubscriptionID string       `json:"liveSubscriptionId,omitempty"`

	AnalysisData json.RawMessage `json:"analysisData,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`

	UploadedAt  time.Time  `json:"uploadedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ValidateSource enforces the exactly-one-source invariant: a report
// references either an uploaded file or a live subscription, never
// both and never neither.
func (r *Report) ValidateSource() bool {
	hasFile := r.SourceFileKey != ""
	hasLive := r.LiveSubscriptionID != ""
	return hasFile != hasLive &&
		((hasFile && r.DataSource == DataSourceFileUpload) ||
			(hasLive && r.DataSource == DataSourceLiveAPI))
}
