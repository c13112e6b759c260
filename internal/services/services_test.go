package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Lllllllleong/orderreplicationflow/internal/gcp"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/Lllllllleong/orderreplicationflow/internal/replication"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	records map[string]*models.FlowExecution
}

func (s *fakeStore) Create(_ context.Context, exec *models.FlowExecution) error {
	s.records[exec.ID] = exec
	return nil
}

func (s *fakeStore) Save(_ context.Context, exec *models.FlowExecution) error {
	s.records[exec.ID] = exec
	return nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.FlowExecution, error) {
	exec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, gcp.ErrNotFound)
	}
	return exec, nil
}

type fakeReferences map[string]models.ReferenceDocument

func (r fakeReferences) Get(_ context.Context, id string) (models.ReferenceDocument, error) {
	ref, ok := r[id]
	if !ok {
		return ref, fmt.Errorf("reference %s: %w", id, gcp.ErrNotFound)
	}
	return ref, nil
}

type fakeConnections map[string]models.Connection

func (c fakeConnections) Resolve(_ context.Context, domain string) (models.Connection, error) {
	conn, ok := c[domain]
	if !ok {
		return conn, fmt.Errorf("connection %q: %w", domain, gcp.ErrNotFound)
	}
	return conn, nil
}

type fakeDispatcher struct {
	jobs []replication.Job
}

func (d *fakeDispatcher) Dispatch(_ context.Context, job replication.Job) error {
	d.jobs = append(d.jobs, job)
	return nil
}

func newTestFunction() (*ReplicationFunction, *fakeStore, *fakeDispatcher) {
	store := &fakeStore{records: map[string]*models.FlowExecution{}}
	dispatcher := &fakeDispatcher{}
	orch := replication.New(replication.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Clients: func(models.Connection) (replication.StepClient, error) {
			return nil, errors.New("no ERP in tests")
		},
		Clock: func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string { return "exec-1" },
	})
	f := &ReplicationFunction{
		log:          zap.NewNop(),
		executions:   store,
		references:   fakeReferences{"ref-1": {ID: "ref-1", SalesOrder: "4500", Domain: "acme"}},
		connections:  fakeConnections{"acme": {BaseURL: "https://erp.acme.example"}},
		orchestrator: orch,
	}
	return f, store, dispatcher
}

func TestStart(t *testing.T) {
	f, store, dispatcher := newTestFunction()

	res, err := f.Start(context.Background(), &models.StartReplicationRequest{ReferenceDocumentID: "ref-1"})
	require.NoError(t, err)

	assert.Equal(t, "exec-1", res.ExecutionID)
	assert.Equal(t, models.StatusProcessing, res.Status)
	assert.Contains(t, store.records, "exec-1")
	require.Len(t, dispatcher.jobs, 1)
	assert.Equal(t, "https://erp.acme.example", dispatcher.jobs[0].Connection.BaseURL)
	assert.NotSame(t, store.records["exec-1"], dispatcher.jobs[0].Execution)
}

func TestStart_Errors(t *testing.T) {
	f, _, _ := newTestFunction()

	_, err := f.Start(context.Background(), &models.StartReplicationRequest{})
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))

	_, err = f.Start(context.Background(), &models.StartReplicationRequest{ReferenceDocumentID: "missing"})
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestRun(t *testing.T) {
	t.Run("executes a processing run", func(t *testing.T) {
		f, store, _ := newTestFunction()
		store.records["exec-1"] = models.NewFlowExecution("exec-1", models.ReferenceDocument{ID: "ref-1", SalesOrder: "4500"}, time.Now())

		res, err := f.Run(context.Background(), &models.RunReplicationRequest{ExecutionID: "exec-1"})
		require.NoError(t, err)

		// The test client factory always fails, so the run halts on its first step.
		assert.Equal(t, models.StatusFailed, res.Status)
		assert.Equal(t, models.StepOrder, res.HaltedAt)
		assert.Equal(t, 6, res.TotalSteps)
	})

	t.Run("reports a finished run without executing", func(t *testing.T) {
		f, store, _ := newTestFunction()
		exec := models.NewFlowExecution("exec-1", models.ReferenceDocument{ID: "ref-1", SalesOrder: "4500"}, time.Now())
		exec.GlobalStatus = models.StatusCompleted
		exec.CompletedSteps = 6
		store.records["exec-1"] = exec

		res, err := f.Run(context.Background(), &models.RunReplicationRequest{ExecutionID: "exec-1"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, res.Status)
		assert.Equal(t, 6, res.CompletedSteps)
	})

	t.Run("unknown execution", func(t *testing.T) {
		f, _, _ := newTestFunction()
		_, err := f.Run(context.Background(), &models.RunReplicationRequest{ExecutionID: "nope"})
		assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
	})
}

func TestResume(t *testing.T) {
	t.Run("completed run is a conflict", func(t *testing.T) {
		f, store, dispatcher := newTestFunction()
		exec := models.NewFlowExecution("exec-1", models.ReferenceDocument{ID: "ref-1", SalesOrder: "4500"}, time.Now())
		exec.GlobalStatus = models.StatusCompleted
		store.records["exec-1"] = exec

		_, err := f.Resume(context.Background(), &models.ResumeReplicationRequest{ExecutionID: "exec-1"})
		assert.Equal(t, http.StatusConflict, HTTPStatus(err))
		assert.Empty(t, dispatcher.jobs)
	})

	t.Run("failed run is dispatched again", func(t *testing.T) {
		f, store, dispatcher := newTestFunction()
		exec := models.NewFlowExecution("exec-1", models.ReferenceDocument{ID: "ref-1", SalesOrder: "4500"}, time.Now())
		exec.GlobalStatus = models.StatusFailed
		exec.Step(models.StepOrder).Status = models.StepCompleted
		exec.Step(models.StepDelivery).Status = models.StepFailed
		store.records["exec-1"] = exec

		res, err := f.Resume(context.Background(), &models.ResumeReplicationRequest{ExecutionID: "exec-1"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, res.Status)
		require.Len(t, dispatcher.jobs, 1)
		assert.Equal(t, "exec-1", dispatcher.jobs[0].Execution.ID)
	})

	t.Run("running run is a conflict", func(t *testing.T) {
		f, store, dispatcher := newTestFunction()
		exec := models.NewFlowExecution("exec-1", models.ReferenceDocument{ID: "ref-1", SalesOrder: "4500"}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		exec.Step(models.StepOrder).Status = models.StepProcessing
		store.records["exec-1"] = exec

		_, err := f.Resume(context.Background(), &models.ResumeReplicationRequest{ExecutionID: "exec-1"})
		assert.ErrorIs(t, err, replication.ErrStillRunning)
		assert.Equal(t, http.StatusConflict, HTTPStatus(err))
		assert.Empty(t, dispatcher.jobs)
	})
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(fmt.Errorf("dispatch: %w", replication.ErrQueueFull)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

type fakeLoader struct {
	result models.ComparisonResult
	loaded []string
}

func (l *fakeLoader) Load(_ context.Context, bucket, objectName string) (models.ComparisonResult, error) {
	l.loaded = append(l.loaded, bucket+"/"+objectName)
	return l.result, nil
}

type fakeSink struct {
	executionID string
	rows        models.FlattenedComparison
}

func (s *fakeSink) Replace(_ context.Context, executionID string, rows models.FlattenedComparison) error {
	s.executionID = executionID
	s.rows = rows
	return nil
}

func TestFlattener(t *testing.T) {
	rate := decimal.NewFromInt(18)
	loader := &fakeLoader{result: models.ComparisonResult{
		Header: []models.FieldComparison{{Field: "SoldToParty", OriginalValue: "1000", NewValue: "2000"}},
		Items: []models.ItemComparison{{
			ItemNumber: "10",
			Fields:     []models.FieldComparison{{Field: "Material", OriginalValue: "M-1", NewValue: "M-1", IsIdentical: true}},
			Taxes: map[models.TaxCategory]models.TaxComparison{
				models.TaxICMS: {Original: models.TaxValues{Rate: &rate}, Differences: []string{"ICMS Taxa: 18 → 0"}},
			},
		}},
	}}
	sink := &fakeSink{}
	f := &FlattenerFunction{log: zap.NewNop(), loader: loader, sink: sink}

	t.Run("flattens archived comparisons", func(t *testing.T) {
		err := f.Process(context.Background(), models.GCSEvent{Bucket: "diffs", Name: "exec-1/comparison.json"})
		require.NoError(t, err)

		assert.Equal(t, []string{"diffs/exec-1/comparison.json"}, loader.loaded)
		assert.Equal(t, "exec-1", sink.executionID)
		assert.Len(t, sink.rows.Header, 1)
		assert.Len(t, sink.rows.ItemFields, 1)
		assert.NotEmpty(t, sink.rows.Taxes)
	})

	t.Run("ignores other objects", func(t *testing.T) {
		err := f.Process(context.Background(), models.GCSEvent{Bucket: "diffs", Name: "exec-2/notes.txt"})
		require.NoError(t, err)
		assert.Len(t, loader.loaded, 1)
	})
}
