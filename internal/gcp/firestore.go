package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/orderreplicationflow/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// defaultDomain is the connection used by reference documents without a domain tag.
const defaultDomain = "default"

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

func notFound(err error) error {
	if status.Code(err) == codes.NotFound {
		return ErrNotFound
	}
	return err
}

// executionDocument is the stored form of a FlowExecution. The comparison is
// kept as plain JSON values because Firestore cannot encode decimals.
type executionDocument struct {
	models.FlowExecution
	Comparison map[string]any `firestore:"comparison,omitempty"`
}

func toDocument(exec *models.FlowExecution) (*executionDocument, error) {
	doc := &executionDocument{FlowExecution: *exec}
	if exec.Comparison != nil {
		raw, err := json.Marshal(exec.Comparison)
		if err != nil {
			return nil, fmt.Errorf("encoding comparison: %w", err)
		}
		if err := json.Unmarshal(raw, &doc.Comparison); err != nil {
			return nil, fmt.Errorf("encoding comparison: %w", err)
		}
	}
	return doc, nil
}

func fromDocument(id string, doc *executionDocument) (*models.FlowExecution, error) {
	exec := doc.FlowExecution
	exec.ID = id
	if doc.Comparison != nil {
		raw, err := json.Marshal(doc.Comparison)
		if err != nil {
			return nil, fmt.Errorf("decoding comparison: %w", err)
		}
		var result models.ComparisonResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decoding comparison: %w", err)
		}
		exec.Comparison = &result
	}
	return &exec, nil
}

// ExecutionStore keeps FlowExecution records in one collection, keyed by run id.
type ExecutionStore struct {
	client     *firestore.Client
	collection string
}

// NewExecutionStore creates a store over the given collection.
func NewExecutionStore(client *firestore.Client, collection string) *ExecutionStore {
	return &ExecutionStore{client: client, collection: collection}
}

// Create writes a new record and fails if the id is taken.
func (s *ExecutionStore) Create(ctx context.Context, exec *models.FlowExecution) error {
	doc, err := toDocument(exec)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collection).Doc(exec.ID).Create(ctx, doc); err != nil {
		return fmt.Errorf("failed to create execution %s: %w", exec.ID, err)
	}
	return nil
}

// Save overwrites the record with the run's current state.
func (s *ExecutionStore) Save(ctx context.Context, exec *models.FlowExecution) error {
	doc, err := toDocument(exec)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collection).Doc(exec.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", exec.ID, err)
	}
	return nil
}

// Get loads a record by run id.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*models.FlowExecution, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, notFound(err))
	}
	var doc executionDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode execution %s: %w", id, err)
	}
	return fromDocument(snap.Ref.ID, &doc)
}

// ReferenceSource reads reference documents.
type ReferenceSource struct {
	client     *firestore.Client
	collection string
}

// NewReferenceSource creates a reader over the given collection.
func NewReferenceSource(client *firestore.Client, collection string) *ReferenceSource {
	return &ReferenceSource{client: client, collection: collection}
}

// Get loads a reference document by id.
func (s *ReferenceSource) Get(ctx context.Context, id string) (models.ReferenceDocument, error) {
	var ref models.ReferenceDocument
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if err != nil {
		return ref, fmt.Errorf("failed to get reference document %s: %w", id, notFound(err))
	}
	if err := snap.DataTo(&ref); err != nil {
		return ref, fmt.Errorf("failed to decode reference document %s: %w", id, err)
	}
	ref.ID = snap.Ref.ID
	return ref, nil
}

// ConnectionResolver maps a tenant domain to its ERP connection. Documents
// are keyed by domain; credentials are stored already usable.
type ConnectionResolver struct {
	client     *firestore.Client
	collection string
}

// NewConnectionResolver creates a resolver over the given collection.
func NewConnectionResolver(client *firestore.Client, collection string) *ConnectionResolver {
	return &ConnectionResolver{client: client, collection: collection}
}

// Resolve returns the connection for domain, or the default one when domain is empty.
func (r *ConnectionResolver) Resolve(ctx context.Context, domain string) (models.Connection, error) {
	if domain == "" {
		domain = defaultDomain
	}
	var conn models.Connection
	snap, err := r.client.Collection(r.collection).Doc(domain).Get(ctx)
	if err != nil {
		return conn, fmt.Errorf("failed to resolve connection for %q: %w", domain, notFound(err))
	}
	if err := snap.DataTo(&conn); err != nil {
		return conn, fmt.Errorf("failed to decode connection for %q: %w", domain, err)
	}
	if conn.BaseURL == "" {
		return conn, fmt.Errorf("connection for %q has no base URL", domain)
	}
	return conn, nil
}
