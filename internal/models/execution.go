package models

import "time"

// StepName identifies one stage of the replication pipeline.
type StepName string

const (
	StepOrder    StepName = "order"
	StepDelivery StepName = "delivery"
	StepPicking  StepName = "picking"
	StepPGI      StepName = "pgi"
	StepBilling  StepName = "billing"
	StepNFe      StepName = "nfe"
)

// Steps is the fixed execution order.
var Steps = []StepName{StepOrder, StepDelivery, StepPicking, StepPGI, StepBilling, StepNFe}

// Required reports whether a failure of the step fails the whole run.
func (s StepName) Required() bool {
	return s != StepBilling && s != StepNFe
}

// StepStatus is the lifecycle state of a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// GlobalStatus summarizes a run.
type GlobalStatus string

const (
	StatusProcessing GlobalStatus = "processing"
	StatusCompleted  GlobalStatus = "completed"
	StatusPartial    GlobalStatus = "partial"
	StatusFailed     GlobalStatus = "failed"
)

// StepRecord captures what a step sent and received, enough to replay the
// call by hand.
type StepRecord struct {
	Status          StepStatus `firestore:"status" json:"status"`
	Endpoint        string     `firestore:"endpoint,omitempty" json:"endpoint,omitempty"`
	Method          string     `firestore:"method,omitempty" json:"method,omitempty"`
	RequestPayload  string     `firestore:"requestPayload,omitempty" json:"requestPayload,omitempty"`
	ResponsePayload string     `firestore:"responsePayload,omitempty" json:"responsePayload,omitempty"`
	StatusCode      int        `firestore:"statusCode,omitempty" json:"statusCode,omitempty"`
	Error           string     `firestore:"error,omitempty" json:"error,omitempty"`
	ErrorCode       string     `firestore:"errorCode,omitempty" json:"errorCode,omitempty"`
	Attempts        int        `firestore:"attempts" json:"attempts"`
	Recovered       bool       `firestore:"recovered,omitempty" json:"recovered,omitempty"`
	StartedAt       time.Time  `firestore:"startedAt,omitempty" json:"startedAt,omitempty"`
	FinishedAt      time.Time  `firestore:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}

// FlowExecution is the persisted state of one replication run.
type FlowExecution struct {
	ID                  string                   `firestore:"-" json:"id"`
	ReferenceDocumentID string                   `firestore:"referenceDocumentId" json:"referenceDocumentId"`
	Domain              string                   `firestore:"domain,omitempty" json:"domain,omitempty"`
	OriginalOrderID     string                   `firestore:"originalOrderId" json:"originalOrderId"`
	ReplicaOrderID      string                   `firestore:"replicaOrderId,omitempty" json:"replicaOrderId,omitempty"`
	DeliveryID          string                   `firestore:"deliveryId,omitempty" json:"deliveryId,omitempty"`
	BillingDocumentID   string                   `firestore:"billingDocumentId,omitempty" json:"billingDocumentId,omitempty"`
	FiscalNoteID        string                   `firestore:"fiscalNoteId,omitempty" json:"fiscalNoteId,omitempty"`
	Steps               map[StepName]*StepRecord `firestore:"steps" json:"steps"`
	CompletedSteps      int                      `firestore:"completedSteps" json:"completedSteps"`
	TotalSteps          int                      `firestore:"totalSteps" json:"totalSteps"`
	GlobalStatus        GlobalStatus             `firestore:"globalStatus" json:"globalStatus"`
	HaltedAt            StepName                 `firestore:"haltedAt,omitempty" json:"haltedAt,omitempty"`
	Comparison          *ComparisonResult        `firestore:"-" json:"comparison,omitempty"`
	CreatedAt           time.Time                `firestore:"createdAt" json:"createdAt"`
	UpdatedAt           time.Time                `firestore:"updatedAt" json:"updatedAt"`
}

// NewFlowExecution returns a run with every step pending.
func NewFlowExecution(id string, ref ReferenceDocument, now time.Time) *FlowExecution {
	steps := make(map[StepName]*StepRecord, len(Steps))
	for _, name := range Steps {
		steps[name] = &StepRecord{Status: StepPending}
	}
	return &FlowExecution{
		ID:                  id,
		ReferenceDocumentID: ref.ID,
		Domain:              ref.Domain,
		OriginalOrderID:     ref.SalesOrder,
		Steps:               steps,
		TotalSteps:          len(Steps),
		GlobalStatus:        StatusProcessing,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Step returns the record for name, creating a pending one if the persisted
// document lacks it.
func (e *FlowExecution) Step(name StepName) *StepRecord {
	if e.Steps == nil {
		e.Steps = make(map[StepName]*StepRecord, len(Steps))
	}
	rec, ok := e.Steps[name]
	if !ok || rec == nil {
		rec = &StepRecord{Status: StepPending}
		e.Steps[name] = rec
	}
	return rec
}

// Clone returns a copy that shares no step records with e. The comparison
// is shared: it is set once and never modified afterwards.
func (e *FlowExecution) Clone() *FlowExecution {
	c := *e
	c.Steps = make(map[StepName]*StepRecord, len(e.Steps))
	for name, rec := range e.Steps {
		if rec == nil {
			continue
		}
		r := *rec
		c.Steps[name] = &r
	}
	return &c
}
