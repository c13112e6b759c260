// Package replication drives one reference order through the ERP pipeline:
// create a replica, compare it with the original, then deliver, pick, post
// goods issue, bill and fetch the fiscal note. Every step outcome is
// persisted so a halted run can be resumed where it stopped.
package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/orderreplicationflow/internal/comparison"
	"github.com/Lllllllleong/orderreplicationflow/internal/erp"
	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyTerminal is returned when resuming a run with nothing left to do.
	ErrAlreadyTerminal = errors.New("execution already completed")
	// ErrStillRunning is returned when resuming a run that has not halted.
	ErrStillRunning = errors.New("execution is still running")
)

// StepClient is the ERP surface one run needs.
type StepClient interface {
	AcquireSession(ctx context.Context) (*erp.Session, error)
	FetchSalesOrder(ctx context.Context, id string) (*models.SalesOrder, erp.Exchange, error)
	CreateSalesOrder(ctx context.Context, payload map[string]any) (string, erp.Exchange, error)
	CreateDelivery(ctx context.Context, order *models.SalesOrder) (erp.DeliveryResult, erp.Exchange, error)
	PickAllItems(ctx context.Context, deliveryID string) (erp.Exchange, error)
	PostGoodsIssue(ctx context.Context, deliveryID string) (erp.Exchange, error)
	CreateBillingDocument(ctx context.Context, deliveryID string) (string, erp.Exchange, error)
	FetchFiscalNote(ctx context.Context, billingDocumentID string) (string, erp.Exchange, error)
}

// ClientFactory opens a step client for a resolved connection. Each run gets
// its own client and therefore its own session.
type ClientFactory func(conn models.Connection) (StepClient, error)

// ExecutionStore persists execution records. A run only ever writes its own.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.FlowExecution) error
	Save(ctx context.Context, exec *models.FlowExecution) error
	Get(ctx context.Context, id string) (*models.FlowExecution, error)
}

// ComparisonArchive keeps a copy of a run's comparison outside the record.
type ComparisonArchive interface {
	Save(ctx context.Context, executionID string, result models.ComparisonResult) error
}

// Dispatcher hands a run off to be executed asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Job is everything Execute needs: the record and its resolved inputs. The
// executor owns Execution; nobody else holds it.
type Job struct {
	Execution  *models.FlowExecution
	Reference  models.ReferenceDocument
	Connection models.Connection
}

// Deps wires an Orchestrator. Archive, Clock and NewID are optional.
// StaleAfter is how long a processing record may go without an update
// before Resume treats its executor as gone; zero never does.
type Deps struct {
	Store      ExecutionStore
	Clients    ClientFactory
	Dispatcher Dispatcher
	Archive    ComparisonArchive
	Clock      func() time.Time
	NewID      func() string
	StaleAfter time.Duration
}

// Orchestrator starts, executes and resumes replication runs.
type Orchestrator struct {
	store      ExecutionStore
	clients    ClientFactory
	dispatcher Dispatcher
	archive    ComparisonArchive
	now        func() time.Time
	newID      func() string
	staleAfter time.Duration
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		store:      d.Store,
		clients:    d.Clients,
		dispatcher: d.Dispatcher,
		archive:    d.Archive,
		now:        d.Clock,
		newID:      d.NewID,
		staleAfter: d.StaleAfter,
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// SetDispatcher replaces the dispatcher. The in-process runner needs the
// orchestrator before it exists, so it is attached after construction.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// Plan returns the capabilities a run may use: the tenant must have them and
// the reference document must support them. Each downstream step also
// needs the one before it.
func Plan(conn models.Connection, ref models.ReferenceDocument) models.Capabilities {
	delivery := conn.Capabilities.Delivery && ref.Supports.Delivery
	billing := delivery && conn.Capabilities.Billing && ref.Supports.Invoice
	return models.Capabilities{
		Delivery: delivery,
		Billing:  billing,
		NFe:      billing && conn.Capabilities.NFe && ref.Supports.FiscalNote,
	}
}

// StartInput are the resolved inputs of a new run.
type StartInput struct {
	Reference  models.ReferenceDocument
	Connection models.Connection
}

// Start persists a new run and dispatches it. It returns as soon as the
// run is handed off; the returned record is the caller's and still reads
// processing, while the executor works on its own copy.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (*models.FlowExecution, error) {
	if in.Reference.SalesOrder == "" {
		return nil, fmt.Errorf("reference document %s has no sales order", in.Reference.ID)
	}
	exec := models.NewFlowExecution(o.newID(), in.Reference, o.now())
	if err := o.store.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("creating execution record: %w", err)
	}
	logger.FromContext(ctx).Info("replication started",
		zap.String("executionId", exec.ID),
		zap.String("referenceDocumentId", in.Reference.ID),
		zap.String("salesOrder", in.Reference.SalesOrder))

	if err := o.dispatch(ctx, exec, in.Reference, in.Connection); err != nil {
		return exec, err
	}
	return exec, nil
}

// Resume dispatches a halted run again from its first unfinished step. A
// run still processing is rejected unless it has gone stale.
func (o *Orchestrator) Resume(ctx context.Context, exec *models.FlowExecution, ref models.ReferenceDocument, conn models.Connection) error {
	if exec.GlobalStatus == models.StatusCompleted {
		return ErrAlreadyTerminal
	}
	if exec.GlobalStatus == models.StatusProcessing && !o.stale(exec) {
		return ErrStillRunning
	}
	step, ok := ResumePoint(exec)
	if !ok {
		return ErrAlreadyTerminal
	}

	exec.GlobalStatus = models.StatusProcessing
	exec.HaltedAt = ""
	exec.UpdatedAt = o.now()
	if err := o.store.Save(ctx, exec); err != nil {
		return fmt.Errorf("saving execution %s: %w", exec.ID, err)
	}
	logger.FromContext(ctx).Info("replication resumed",
		zap.String("executionId", exec.ID), zap.String("step", string(step)))

	return o.dispatch(ctx, exec, ref, conn)
}

func (o *Orchestrator) stale(exec *models.FlowExecution) bool {
	return o.staleAfter > 0 && o.now().Sub(exec.UpdatedAt) >= o.staleAfter
}

// dispatch hands a copy of exec to the dispatcher. On failure exec, which
// the executor never saw, is marked failed.
func (o *Orchestrator) dispatch(ctx context.Context, exec *models.FlowExecution, ref models.ReferenceDocument, conn models.Connection) error {
	if o.dispatcher == nil {
		return fmt.Errorf("no dispatcher configured")
	}
	job := Job{Execution: exec.Clone(), Reference: ref, Connection: conn}
	if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		exec.GlobalStatus = models.StatusFailed
		exec.UpdatedAt = o.now()
		if saveErr := o.store.Save(ctx, exec); saveErr != nil {
			logger.FromContext(ctx).Error("failed to record dispatch failure",
				zap.String("executionId", exec.ID), zap.Error(saveErr))
		}
		return fmt.Errorf("dispatching execution %s: %w", exec.ID, err)
	}
	return nil
}

// Execute runs the pipeline from the resume point until it finishes or a
// step fails. Step errors are recorded on the execution, never returned.
func (o *Orchestrator) Execute(ctx context.Context, job Job) *models.FlowExecution {
	exec := job.Execution
	ctx, log := logger.WithExecution(ctx, exec.ID)

	start, ok := ResumePoint(exec)
	if !ok {
		exec.GlobalStatus = DeriveGlobalStatus(exec)
		o.save(ctx, exec)
		return exec
	}

	r := &run{
		o:    o,
		exec: exec,
		ref:  job.Reference,
		caps: Plan(job.Connection, job.Reference),
		log:  log,
	}
	client, err := o.clients(job.Connection)
	if err != nil {
		r.halt(ctx, start, erp.Exchange{}, fmt.Errorf("opening ERP client: %w", err))
		return exec
	}
	r.client = client

	log.Info("executing replication",
		zap.String("from", string(start)),
		zap.Bool("delivery", r.caps.Delivery),
		zap.Bool("billing", r.caps.Billing),
		zap.Bool("nfe", r.caps.NFe))

	started := false
	for _, step := range models.Steps {
		if step == start {
			started = true
		}
		if !started || exec.Step(step).Status == models.StepCompleted || exec.Step(step).Status == models.StepSkipped {
			continue
		}
		if !r.enabled(step) {
			if err := Skip(exec, step, o.now()); err != nil {
				log.Error("cannot skip step", zap.String("step", string(step)), zap.Error(err))
			}
			continue
		}
		if !r.execute(ctx, step) {
			return exec
		}
	}

	exec.GlobalStatus = DeriveGlobalStatus(exec)
	exec.HaltedAt = ""
	exec.UpdatedAt = o.now()
	o.save(ctx, exec)
	log.Info("replication finished",
		zap.String("status", string(exec.GlobalStatus)),
		zap.Int("completedSteps", exec.CompletedSteps))
	return exec
}

// save persists the record. A store failure is logged; the run goes on so
// the next save can catch up.
func (o *Orchestrator) save(ctx context.Context, exec *models.FlowExecution) {
	if err := o.store.Save(ctx, exec); err != nil {
		logger.FromContext(ctx).Error("failed to save execution", zap.Error(err))
	}
}

// run is the state of one Execute call.
type run struct {
	o       *Orchestrator
	exec    *models.FlowExecution
	ref     models.ReferenceDocument
	caps    models.Capabilities
	client  StepClient
	log     *zap.Logger
	session bool
	replica *models.SalesOrder
}

func (r *run) enabled(step models.StepName) bool {
	switch step {
	case models.StepDelivery, models.StepPicking, models.StepPGI:
		return r.caps.Delivery
	case models.StepBilling:
		return r.caps.Billing
	case models.StepNFe:
		return r.caps.NFe
	}
	return true
}

// execute runs one step and reports whether the pipeline may continue.
func (r *run) execute(ctx context.Context, step models.StepName) bool {
	if err := Begin(r.exec, step, r.o.now()); err != nil {
		r.log.Error("cannot begin step", zap.String("step", string(step)), zap.Error(err))
		return false
	}
	r.o.save(ctx, r.exec)
	r.log.Info("step started", zap.String("step", string(step)), zap.Int("attempt", r.exec.Step(step).Attempts))

	var (
		ex  erp.Exchange
		err error
	)
	switch step {
	case models.StepOrder:
		ex, err = r.replicateOrder(ctx)
	case models.StepDelivery:
		ex, err = r.createDelivery(ctx)
	case models.StepPicking:
		ex, err = r.withSession(ctx, func() (erp.Exchange, error) {
			return r.client.PickAllItems(ctx, r.exec.DeliveryID)
		})
	case models.StepPGI:
		ex, err = r.withSession(ctx, func() (erp.Exchange, error) {
			return r.client.PostGoodsIssue(ctx, r.exec.DeliveryID)
		})
	case models.StepBilling:
		ex, err = r.withSession(ctx, func() (erp.Exchange, error) {
			id, ex, err := r.client.CreateBillingDocument(ctx, r.exec.DeliveryID)
			if err == nil {
				r.exec.BillingDocumentID = id
			}
			return ex, err
		})
	case models.StepNFe:
		var id string
		id, ex, err = r.client.FetchFiscalNote(ctx, r.exec.BillingDocumentID)
		if err == nil {
			r.exec.FiscalNoteID = id
		}
	default:
		err = fmt.Errorf("unknown step %q", step)
	}

	if err != nil {
		r.halt(ctx, step, ex, err)
		return false
	}
	if err := Complete(r.exec, step, ex, r.o.now()); err != nil {
		r.log.Error("cannot complete step", zap.String("step", string(step)), zap.Error(err))
		return false
	}
	r.o.save(ctx, r.exec)
	r.log.Info("step completed", zap.String("step", string(step)), zap.Int("completedSteps", r.exec.CompletedSteps))
	return true
}

// halt records the failure and stops the run.
func (r *run) halt(ctx context.Context, step models.StepName, ex erp.Exchange, cause error) {
	now := r.o.now()
	if r.exec.Step(step).Status != models.StepProcessing {
		_ = Begin(r.exec, step, now)
	}
	if err := Fail(r.exec, step, ex, cause, now); err != nil {
		r.log.Error("cannot fail step", zap.String("step", string(step)), zap.Error(err))
	}
	r.exec.GlobalStatus = DeriveGlobalStatus(r.exec)
	if r.exec.GlobalStatus == models.StatusProcessing {
		r.exec.GlobalStatus = models.StatusFailed
	}
	r.o.save(ctx, r.exec)
	r.log.Warn("replication halted",
		zap.String("step", string(step)),
		zap.String("status", string(r.exec.GlobalStatus)),
		zap.String("errorCode", r.exec.Step(step).ErrorCode),
		zap.Error(cause))
}

func (r *run) ensureSession(ctx context.Context) error {
	if r.session {
		return nil
	}
	if _, err := r.client.AcquireSession(ctx); err != nil {
		return err
	}
	r.session = true
	return nil
}

func (r *run) withSession(ctx context.Context, call func() (erp.Exchange, error)) (erp.Exchange, error) {
	if err := r.ensureSession(ctx); err != nil {
		return erp.Exchange{}, err
	}
	return call()
}

// replicateOrder creates the replica once and compares it with the original
// once. Both are skipped when an earlier attempt already got that far.
func (r *run) replicateOrder(ctx context.Context) (erp.Exchange, error) {
	original, ex, err := r.client.FetchSalesOrder(ctx, r.exec.OriginalOrderID)
	if err != nil {
		return ex, fmt.Errorf("fetching original order %s: %w", r.exec.OriginalOrderID, err)
	}
	if err := r.ensureSession(ctx); err != nil {
		return ex, err
	}

	if r.exec.ReplicaOrderID == "" {
		payload := BuildReplicaPayload(original, r.ref, runStamp(r.exec.ID))
		id, createEx, err := r.client.CreateSalesOrder(ctx, payload)
		ex = createEx
		if err != nil {
			return ex, fmt.Errorf("creating replica of %s: %w", r.exec.OriginalOrderID, err)
		}
		r.exec.ReplicaOrderID = id
		r.o.save(ctx, r.exec)
		r.log.Info("replica created", zap.String("replicaOrderId", id))
	} else {
		r.log.Info("replica already exists, not creating again", zap.String("replicaOrderId", r.exec.ReplicaOrderID))
	}

	replica, fetchEx, err := r.client.FetchSalesOrder(ctx, r.exec.ReplicaOrderID)
	if err != nil {
		return fetchEx, fmt.Errorf("fetching replica %s: %w", r.exec.ReplicaOrderID, err)
	}
	r.replica = replica

	if r.exec.Comparison == nil {
		result := comparison.Compare(original, replica)
		r.exec.Comparison = &result
		r.log.Info("comparison attached",
			zap.Int("totalDifferences", result.Summary.TotalDifferences),
			zap.Strings("sections", result.Summary.SectionsWithDifferences))
		if r.o.archive != nil {
			if err := r.o.archive.Save(ctx, r.exec.ID, result); err != nil {
				r.log.Warn("failed to archive comparison", zap.Error(err))
			}
		}
	}
	return ex, nil
}

func (r *run) createDelivery(ctx context.Context) (erp.Exchange, error) {
	if err := r.ensureSession(ctx); err != nil {
		return erp.Exchange{}, err
	}
	if r.replica == nil {
		replica, ex, err := r.client.FetchSalesOrder(ctx, r.exec.ReplicaOrderID)
		if err != nil {
			return ex, fmt.Errorf("fetching replica %s: %w", r.exec.ReplicaOrderID, err)
		}
		r.replica = replica
	}

	res, ex, err := r.client.CreateDelivery(ctx, r.replica)
	if err != nil {
		return ex, err
	}
	r.exec.DeliveryID = res.DeliveryID
	r.exec.Step(models.StepDelivery).Recovered = res.Recovered
	return ex, nil
}
