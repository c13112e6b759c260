package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

// ComparisonObject is the object name suffix of an archived comparison.
const ComparisonObject = "comparison.json"

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not an error: runs are replayed.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	log := logger.FromContext(ctx)
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		if preconditionFailed(err) {
			log.Info("object already exists, skipping", zap.String("object", objectName))
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			log.Info("object already exists, skipping", zap.String("object", objectName))
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// ComparisonObjectName returns where a run's comparison is archived.
func ComparisonObjectName(executionID string) string {
	return path.Join(executionID, ComparisonObject)
}

// ExecutionIDFromObject extracts the run id from an archived comparison's
// object name. ok is false for any other object.
func ExecutionIDFromObject(objectName string) (string, bool) {
	dir, file := path.Split(objectName)
	dir = strings.TrimSuffix(dir, "/")
	if file != ComparisonObject || dir == "" || strings.Contains(dir, "/") {
		return "", false
	}
	return dir, true
}

// ComparisonArchive stores each run's comparison result as a JSON object.
type ComparisonArchive struct {
	bucket *storage.BucketHandle
}

// NewComparisonArchive creates an archive in the named bucket.
func NewComparisonArchive(client *storage.Client, bucketName string) *ComparisonArchive {
	return &ComparisonArchive{bucket: client.Bucket(bucketName)}
}

// Save archives the result under <executionID>/comparison.json.
func (a *ComparisonArchive) Save(ctx context.Context, executionID string, result models.ComparisonResult) error {
	content, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode comparison: %w", err)
	}
	return SaveToGCSAtomically(ctx, a.bucket, ComparisonObjectName(executionID), content)
}

// Load reads an archived comparison.
func (a *ComparisonArchive) Load(ctx context.Context, objectName string) (models.ComparisonResult, error) {
	var result models.ComparisonResult
	reader, err := a.bucket.Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return result, fmt.Errorf("comparison %s: %w", objectName, ErrNotFound)
		}
		return result, fmt.Errorf("failed to open comparison %s: %w", objectName, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return result, fmt.Errorf("failed to read comparison %s: %w", objectName, err)
	}
	if err := json.Unmarshal(content, &result); err != nil {
		return result, fmt.Errorf("failed to decode comparison %s: %w", objectName, err)
	}
	return result, nil
}
