package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/orderreplicationflow/internal/logger"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

// RowCollections names the three flattened comparison collections.
type RowCollections struct {
	Header     string
	ItemFields string
	Taxes      string
}

// ComparisonRowSink writes flattened comparison rows for cross-run queries.
type ComparisonRowSink struct {
	client      *firestore.Client
	collections RowCollections
}

// NewComparisonRowSink creates a sink over the given collections.
func NewComparisonRowSink(client *firestore.Client, collections RowCollections) *ComparisonRowSink {
	return &ComparisonRowSink{client: client, collections: collections}
}

// row is one document to write: its id and its data.
type row struct {
	id   string
	data any
}

// Replace deletes any rows previously written for the execution and writes
// the new ones. The three collections are handled concurrently.
func (s *ComparisonRowSink) Replace(ctx context.Context, executionID string, rows models.FlattenedComparison) error {
	log := logger.FromContext(ctx).With(zap.String("executionId", executionID))

	sets := map[string][]row{
		s.collections.Header:     headerRows(executionID, rows.Header),
		s.collections.ItemFields: itemFieldRows(executionID, rows.ItemFields),
		s.collections.Taxes:      taxRows(executionID, rows.Taxes),
	}

	g, gctx := errgroup.WithContext(ctx)
	for collection, set := range sets {
		g.Go(func() error {
			deleted, err := s.clear(gctx, collection, executionID)
			if err != nil {
				return err
			}
			if err := s.write(gctx, collection, set); err != nil {
				return err
			}
			log.Info("comparison rows written",
				zap.String("collection", collection),
				zap.Int("deleted", deleted),
				zap.Int("written", len(set)))
			return nil
		})
	}
	return g.Wait()
}

func (s *ComparisonRowSink) clear(ctx context.Context, collection, executionID string) (int, error) {
	iter := s.client.Collection(collection).Where("executionId", "==", executionID).Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to list %s rows: %w", collection, err)
		}
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to queue delete in %s: %w", collection, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	if err := waitAll(collection, jobs); err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func (s *ComparisonRowSink) write(ctx context.Context, collection string, set []row) error {
	if len(set) == 0 {
		return nil
	}
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(set))
	for _, r := range set {
		job, err := bw.Set(s.client.Collection(collection).Doc(r.id), r.data)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to queue write in %s: %w", collection, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	return waitAll(collection, jobs)
}

func waitAll(collection string, jobs []*firestore.BulkWriterJob) error {
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to write %s row: %w", collection, err)
		}
	}
	return nil
}

// Row ids are deterministic so a replayed event overwrites instead of duplicating.

func headerRows(executionID string, in []models.HeaderComparisonRow) []row {
	out := make([]row, 0, len(in))
	for _, r := range in {
		out = append(out, row{id: fmt.Sprintf("%s_%03d", executionID, r.Position), data: r})
	}
	return out
}

func itemFieldRows(executionID string, in []models.ItemFieldComparisonRow) []row {
	out := make([]row, 0, len(in))
	for i, r := range in {
		out = append(out, row{id: fmt.Sprintf("%s_%s_%04d", executionID, r.ItemNumber, i), data: r})
	}
	return out
}

func taxRows(executionID string, in []models.TaxComparisonRow) []row {
	out := make([]row, 0, len(in))
	for _, r := range in {
		out = append(out, row{id: fmt.Sprintf("%s_%s_%s", executionID, r.ItemNumber, r.Category), data: r})
	}
	return out
}
