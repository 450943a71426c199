// Package audit records integrity-hashed events for sensitive operations.
// Events are append-only: once constructed they are never mutated, and a
// correction is a new event referencing the original.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the sensitive operation being recorded.
type Action string

const (
	ActionView             Action = "view"
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionExport           Action = "export"
	ActionPermissionChange Action = "permission_change"
	ActionAnalysisComplete Action = "analysis_completed"
	ActionLogin            Action = "login"
	ActionCorrection       Action = "correction"
)

// Resource is the kind of entity an action touched.
type Resource string

const (
	ResourcePatientRecord  Resource = "patient_record"
	ResourceMedicalImage   Resource = "medical_image"
	ResourceDocument       Resource = "document"
	ResourceInvoice        Resource = "invoice"
	ResourceAnalysisReport Resource = "analysis_report"
	ResourceSession        Resource = "session"
)

// RiskLevel classifies an event for flush urgency and review routing.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Compliance flags derived from the action/resource combination.
const (
	FlagPersonalData   = "personal_data_processing"
	FlagDisclosure     = "disclosure"
	FlagRequiresReview = "requires_review"
)

// Event is one immutable audit record. SubjectHash carries a SHA-256 of the
// data subject's national identifier; raw identifiers never reach the trail.
type Event struct {
	ID              uuid.UUID
	Timestamp       time.Time
	ActorID         string
	SessionID       string
	SubjectHash     string
	Action          Action
	Resource        Resource
	ResourceID      string
	OutcomeCode     int
	RiskLevel       RiskLevel
	ComplianceFlags []string
	CorrectionOf    uuid.UUID
	IntegrityHash   string
}

// riskByAction is the fixed classification table. Unknown actions default to
// RiskLow.
var riskByAction = map[Action]RiskLevel{
	ActionDelete:           RiskCritical,
	ActionExport:           RiskCritical,
	ActionPermissionChange: RiskCritical,
	ActionCreate:           RiskHigh,
	ActionUpdate:           RiskHigh,
	ActionAnalysisComplete: RiskHigh,
	ActionCorrection:       RiskHigh,
	ActionView:             RiskMedium,
}

// ClassifyRisk returns the risk level for an action.
func ClassifyRisk(a Action) RiskLevel {
	if level, ok := riskByAction[a]; ok {
		return level
	}
	return RiskLow
}

// personalDataResources touch data-subject identifiers.
var personalDataResources = map[Resource]bool{
	ResourcePatientRecord: true,
	ResourceMedicalImage:  true,
	ResourceInvoice:       true,
}

// deriveFlags computes the compliance flag set for an event.
func deriveFlags(action Action, resource Resource, subjectHash string, risk RiskLevel) []string {
	var flags []string
	if personalDataResources[resource] || subjectHash != "" {
		flags = append(flags, FlagPersonalData)
	}
	if action == ActionExport {
		flags = append(flags, FlagDisclosure)
	}
	if risk == RiskHigh || risk == RiskCritical {
		flags = append(flags, FlagRequiresReview)
	}
	return flags
}

// HashSubject hashes a national identifier (e.g., a RUT) for traceability
// without storing PII. Formatting noise is stripped so the same person always
// hashes the same way.
func HashSubject(nationalID string) string {
	if nationalID == "" {
		return ""
	}
	normalized := strings.ToUpper(strings.NewReplacer(".", "", "-", "", " ", "").Replace(nationalID))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
