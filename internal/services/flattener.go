package services

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/orderreplicationflow/internal/comparison"
	"github.com/Lllllllleong/orderreplicationflow/internal/config"
	"github.com/Lllllllleong/orderreplicationflow/internal/gcp"
	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"go.uber.org/zap"
)

// ComparisonLoader reads an archived comparison from a bucket.
type ComparisonLoader interface {
	Load(ctx context.Context, bucket, objectName string) (models.ComparisonResult, error)
}

// RowSink replaces the flattened rows of one execution.
type RowSink interface {
	Replace(ctx context.Context, executionID string, rows models.FlattenedComparison) error
}

// FlattenerFunction explodes archived comparisons into queryable rows.
type FlattenerFunction struct {
	log    *zap.Logger
	loader ComparisonLoader
	sink   RowSink
}

// bucketLoader opens the archive of whichever bucket the event came from.
type bucketLoader struct {
	client *storage.Client
}

func (l bucketLoader) Load(ctx context.Context, bucket, objectName string) (models.ComparisonResult, error) {
	return gcp.NewComparisonArchive(l.client, bucket).Load(ctx, objectName)
}

// NewFlattener creates a FlattenerFunction instance.
func NewFlattener(ctx context.Context) (*FlattenerFunction, error) {
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
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &FlattenerFunction{
		log:    log,
		loader: bucketLoader{client: storageClient},
		sink: gcp.NewComparisonRowSink(firestoreClient, gcp.RowCollections{
			Header:     cfg.GCP.HeaderRowsCollection,
			ItemFields: cfg.GCP.ItemRowsCollection,
			Taxes:      cfg.GCP.TaxRowsCollection,
		}),
	}, nil
}

// Process handles one object finalize event. Objects that are not archived
// comparisons are ignored.
func (f *FlattenerFunction) Process(ctx context.Context, e models.GCSEvent) error {
	log := f.log.With(zap.String("bucket", e.Bucket), zap.String("object", e.Name))

	executionID, ok := gcp.ExecutionIDFromObject(e.Name)
	if !ok {
		log.Debug("not a comparison archive, skipping")
		return nil
	}
	log = log.With(zap.String("executionId", executionID))
	ctx = logger.WithContext(ctx, log)

	result, err := f.loader.Load(ctx, e.Bucket, e.Name)
	if err != nil {
		return handleError(log, "failed to load comparison", err)
	}

	rows := comparison.Flatten(executionID, result)
	if err := f.sink.Replace(ctx, executionID, rows); err != nil {
		return handleError(log, "failed to write comparison rows", err)
	}

	log.Info("comparison flattened",
		zap.Int("headerRows", len(rows.Header)),
		zap.Int("itemRows", len(rows.ItemFields)),
		zap.Int("taxRows", len(rows.Taxes)))
	return nil
}
