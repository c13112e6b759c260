package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/Lllllllleong/orderreplicationflow/internal/services"
	"go.uber.org/zap"
)

var (
	replicationInstance *services.ReplicationFunction
	once                sync.Once
	initErr             error
)

func init() {
	// Until the configured logger replaces it during initialization.
	zap.ReplaceGlobals(logger.New(logger.Config{Level: "info", Format: "json"}))

	functions.HTTP("HandleResumeReplication", handleResumeReplication)
}

// main is required by the Go Functions Framework.
func main() {}

// handleResumeReplication dispatches a halted run again from its first
// unfinished step. Completed runs get 409.
func handleResumeReplication(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		replicationInstance, initErr = services.NewReplication(context.Background())
	})
	if initErr != nil {
		zap.L().Error("Critical: replication resumer initialization failed", zap.Error(initErr))
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.ResumeReplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := replicationInstance.Resume(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), services.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		zap.L().Error("Failed to write response", zap.Error(err), zap.String("executionId", req.ExecutionID))
	}
}
