package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"github.com/Lllllllleong/orderreplicationflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"go.uber.org/zap"
)

var (
	flattenerInstance *services.FlattenerFunction
	once              sync.Once
	initErr           error
)

func init() {
	// Until the configured logger replaces it during initialization.
	zap.ReplaceGlobals(logger.New(logger.Config{Level: "info", Format: "json"}))

	// Triggered by object finalize events on the comparison bucket.
	functions.CloudEvent("FlattenComparison", flattenComparison)
}

// main is required by the Go Functions Framework.
func main() {}

func flattenComparison(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		flattenerInstance, initErr = services.NewFlattener(context.Background())
	})
	if initErr != nil {
		zap.L().Error("Critical error during function initialization", zap.Error(initErr))
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		zap.L().Error("Failed to unmarshal event data", zap.Error(err), zap.ByteString("data", e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed so the event is retried.
	return flattenerInstance.Process(ctx, gcsEvent)
}
