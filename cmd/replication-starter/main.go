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

	// "HandleStartReplication" is the entry point name configured in GCP.
	functions.HTTP("HandleStartReplication", handleStartReplication)
}

// main is required by the Go Functions Framework.
func main() {}

// handleStartReplication creates a run for a reference document, hands it
// off and answers immediately with the run id.
func handleStartReplication(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		replicationInstance, initErr = services.NewReplication(context.Background())
	})
	if initErr != nil {
		zap.L().Error("Critical: replication starter initialization failed", zap.Error(initErr))
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.StartReplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := replicationInstance.Start(r.Context(), &req)
	if err != nil {
		// Already logged with context by the service.
		http.Error(w, err.Error(), services.HTTPStatus(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		zap.L().Error("Failed to write response", zap.Error(err), zap.String("executionId", res.ExecutionID))
	}
}
