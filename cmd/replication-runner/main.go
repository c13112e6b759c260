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

	// Called by the order-replication workflow with {"executionId": ...}.
	functions.HTTP("HandleRunReplication", handleRunReplication)
}

// main is required by the Go Functions Framework.
func main() {}

// handleRunReplication executes a dispatched run to its end and reports the
// terminal status. A halted run is a normal response, not an HTTP error.
func handleRunReplication(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		replicationInstance, initErr = services.NewReplication(context.Background())
	})
	if initErr != nil {
		zap.L().Error("Critical: replication runner initialization failed", zap.Error(initErr))
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.RunReplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := replicationInstance.Run(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), services.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		zap.L().Error("Failed to write response", zap.Error(err), zap.String("executionId", req.ExecutionID))
	}
}
