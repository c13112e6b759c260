package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/orderreplicationflow/internal/config"
	"github.com/Lllllllleong/orderreplicationflow/internal/erp"
	"github.com/Lllllllleong/orderreplicationflow/internal/gcp"
	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/Lllllllleong/orderreplicationflow/internal/replication"
	"go.uber.org/zap"
)

// ErrInvalidRequest marks a request the caller must fix.
var ErrInvalidRequest = errors.New("invalid request")

// HTTPStatus maps a Process error to the status the entry point returns.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, gcp.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, replication.ErrAlreadyTerminal), errors.Is(err, replication.ErrStillRunning):
		return http.StatusConflict
	case errors.Is(err, replication.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// References reads reference documents.
type References interface {
	Get(ctx context.Context, id string) (models.ReferenceDocument, error)
}

// Connections resolves the ERP connection of a tenant domain.
type Connections interface {
	Resolve(ctx context.Context, domain string) (models.Connection, error)
}

// ReplicationFunction holds what the starter, runner and resumer share.
type ReplicationFunction struct {
	config       *config.Config
	log          *zap.Logger
	executions   replication.ExecutionStore
	references   References
	connections  Connections
	orchestrator *replication.Orchestrator
	runner       *replication.Runner
}

// NewReplication loads configuration and builds the clients. Runs are
// dispatched through Cloud Workflows or an in-process runner depending on
// DISPATCH_MODE.
func NewReplication(ctx context.Context) (*ReplicationFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	zap.ReplaceGlobals(log)

	firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.GCP.ProjectID)
	if err != nil {
		return nil, err
	}

	var archive replication.ComparisonArchive
	if cfg.GCP.ComparisonBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Storage client: %w", err)
		}
		archive = gcp.NewComparisonArchive(storageClient, cfg.GCP.ComparisonBucket)
	}

	f := newReplicationFunction(cfg, log, firestoreClient, archive)

	switch cfg.Dispatch.Mode {
	case config.DispatchWorkflow:
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		f.orchestrator.SetDispatcher(gcp.NewWorkflowDispatcher(executionsClient, cfg.GCP.ProjectID, cfg.GCP.WorkflowLocation, cfg.GCP.WorkflowID))
	case config.DispatchInProcess:
		f.runner = replication.NewRunner(f.orchestrator, cfg.Dispatch.Workers, cfg.Dispatch.QueueSize)
		f.orchestrator.SetDispatcher(f.runner)
	}

	log.Info("replication function initialized",
		zap.String("dispatch", cfg.Dispatch.Mode),
		zap.String("collection", cfg.GCP.ExecutionsCollection),
		zap.Bool("archive", archive != nil))
	return f, nil
}

func newReplicationFunction(cfg *config.Config, log *zap.Logger, client *firestore.Client, archive replication.ComparisonArchive) *ReplicationFunction {
	store := gcp.NewExecutionStore(client, cfg.GCP.ExecutionsCollection)
	timeout := cfg.ERP.Timeout
	return &ReplicationFunction{
		config:      cfg,
		log:         log,
		executions:  store,
		references:  gcp.NewReferenceSource(client, cfg.GCP.ReferenceCollection),
		connections: gcp.NewConnectionResolver(client, cfg.GCP.ConnectionCollection),
		orchestrator: replication.New(replication.Deps{
			Store:      store,
			Archive:    archive,
			StaleAfter: cfg.Dispatch.StaleAfter,
			Clients: func(conn models.Connection) (replication.StepClient, error) {
				c, err := erp.NewClient(conn, erp.Options{Timeout: timeout})
				if err != nil {
					return nil, err
				}
				return c, nil
			},
		}),
	}
}

// Close waits for in-process runs to finish.
func (f *ReplicationFunction) Close() {
	if f.runner != nil {
		f.runner.Close()
	}
}

// inputs resolves the reference document and connection of a run.
func (f *ReplicationFunction) inputs(ctx context.Context, referenceID string) (models.ReferenceDocument, models.Connection, error) {
	ref, err := f.references.Get(ctx, referenceID)
	if err != nil {
		return ref, models.Connection{}, err
	}
	conn, err := f.connections.Resolve(ctx, ref.Domain)
	if err != nil {
		return ref, conn, err
	}
	return ref, conn, nil
}

// handleError logs the failure with the request's logger and wraps it.
func handleError(log *zap.Logger, msg string, err error) error {
	log.Error(msg, zap.Error(err))
	return fmt.Errorf("%s: %w", msg, err)
}

// Start is the body of HandleStartReplication.
func (f *ReplicationFunction) Start(ctx context.Context, req *models.StartReplicationRequest) (*models.StartReplicationResponse, error) {
	if req.ReferenceDocumentID == "" {
		return nil, fmt.Errorf("%w: referenceDocumentId is required", ErrInvalidRequest)
	}
	log := f.log.With(zap.String("referenceDocumentId", req.ReferenceDocumentID))
	ctx = logger.WithContext(ctx, log)

	ref, conn, err := f.inputs(ctx, req.ReferenceDocumentID)
	if err != nil {
		return nil, handleError(log, "failed to resolve replication inputs", err)
	}

	exec, err := f.orchestrator.Start(ctx, replication.StartInput{Reference: ref, Connection: conn})
	if err != nil {
		return nil, handleError(log, "failed to start replication", err)
	}
	return &models.StartReplicationResponse{ExecutionID: exec.ID, Status: exec.GlobalStatus}, nil
}

// Run is the body of HandleRunReplication: it executes a dispatched run to
// its end. A run that is no longer processing is reported as it is.
func (f *ReplicationFunction) Run(ctx context.Context, req *models.RunReplicationRequest) (*models.RunReplicationResponse, error) {
	if req.ExecutionID == "" {
		return nil, fmt.Errorf("%w: executionId is required", ErrInvalidRequest)
	}
	log := f.log.With(zap.String("executionId", req.ExecutionID))
	ctx = logger.WithContext(ctx, log)

	exec, err := f.executions.Get(ctx, req.ExecutionID)
	if err != nil {
		return nil, handleError(log, "failed to load execution", err)
	}
	if exec.GlobalStatus != models.StatusProcessing {
		log.Info("execution not processing, nothing to run", zap.String("status", string(exec.GlobalStatus)))
		return runResponse(exec), nil
	}

	ref, conn, err := f.inputs(ctx, exec.ReferenceDocumentID)
	if err != nil {
		return nil, handleError(log, "failed to resolve replication inputs", err)
	}

	exec = f.orchestrator.Execute(ctx, replication.Job{Execution: exec, Reference: ref, Connection: conn})
	return runResponse(exec), nil
}

// Resume is the body of HandleResumeReplication.
func (f *ReplicationFunction) Resume(ctx context.Context, req *models.ResumeReplicationRequest) (*models.StartReplicationResponse, error) {
	if req.ExecutionID == "" {
		return nil, fmt.Errorf("%w: executionId is required", ErrInvalidRequest)
	}
	log := f.log.With(zap.String("executionId", req.ExecutionID))
	ctx = logger.WithContext(ctx, log)

	exec, err := f.executions.Get(ctx, req.ExecutionID)
	if err != nil {
		return nil, handleError(log, "failed to load execution", err)
	}
	ref, conn, err := f.inputs(ctx, exec.ReferenceDocumentID)
	if err != nil {
		return nil, handleError(log, "failed to resolve replication inputs", err)
	}
	if err := f.orchestrator.Resume(ctx, exec, ref, conn); err != nil {
		if errors.Is(err, replication.ErrAlreadyTerminal) || errors.Is(err, replication.ErrStillRunning) {
			log.Info("execution not resumable", zap.String("status", string(exec.GlobalStatus)), zap.Error(err))
			return nil, err
		}
		return nil, handleError(log, "failed to resume replication", err)
	}
	return &models.StartReplicationResponse{ExecutionID: exec.ID, Status: exec.GlobalStatus}, nil
}

func runResponse(exec *models.FlowExecution) *models.RunReplicationResponse {
	return &models.RunReplicationResponse{
		ExecutionID:    exec.ID,
		Status:         exec.GlobalStatus,
		CompletedSteps: exec.CompletedSteps,
		TotalSteps:     exec.TotalSteps,
		HaltedAt:       exec.HaltedAt,
	}
}
