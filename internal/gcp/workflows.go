package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/Lllllllleong/orderreplicationflow/internal/replication"
	"go.uber.org/zap"
)

// WorkflowDispatcher hands runs to a Cloud Workflows execution, which calls
// the runner function with the execution id.
type WorkflowDispatcher struct {
	client *executions.Client
	parent string
}

// NewWorkflowDispatcher targets projects/<project>/locations/<location>/workflows/<workflow>.
func NewWorkflowDispatcher(client *executions.Client, projectID, location, workflowID string) *WorkflowDispatcher {
	return &WorkflowDispatcher{
		client: client,
		parent: workflowParent(projectID, location, workflowID),
	}
}

func workflowParent(projectID, location, workflowID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID)
}

func workflowArgument(job replication.Job) (string, error) {
	payload, err := json.Marshal(models.RunReplicationRequest{ExecutionID: job.Execution.ID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	return string(payload), nil
}

// Dispatch starts a workflow execution for the job and returns without waiting.
func (d *WorkflowDispatcher) Dispatch(ctx context.Context, job replication.Job) error {
	argument, err := workflowArgument(job)
	if err != nil {
		return err
	}
	req := &executionspb.CreateExecutionRequest{
		Parent:    d.parent,
		Execution: &executionspb.Execution{Argument: argument},
	}
	exe, err := d.client.CreateExecution(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create workflow execution: %w", err)
	}
	logger.FromContext(ctx).Info("workflow triggered",
		zap.String("executionId", job.Execution.ID),
		zap.String("workflowExecution", exe.GetName()))
	return nil
}
