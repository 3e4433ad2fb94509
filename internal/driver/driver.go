// Package driver abstracts graph persistence behind typed primitives.
// The store layers all semantics (validation, cycle checks, inverse
// edges, events) on top; drivers only move records.
package driver

import (
	"context"

	"github.com/famlinks/kinship/internal/model"
)

// Driver is the storage seam. Batch operations are atomic: either every
// record in the batch commits or none do. All implementations must be
// safe for concurrent use.
type Driver interface {
	UpsertPerson(ctx context.Context, p model.Person) error
	GetPerson(ctx context.Context, id string) (model.Person, error)
	ListPersons(ctx context.Context) ([]model.Person, error)

	// InsertEdges writes a batch atomically (an edge and its inverse, or
	// the edges created by a merge).
	InsertEdges(ctx context.Context, edges []model.RelationshipEdge) error
	// DeleteEdges removes a batch atomically.
	DeleteEdges(ctx context.Context, ids []string) error
	GetEdge(ctx context.Context, id string) (model.RelationshipEdge, error)
	// EdgesOf returns every edge with person as either endpoint.
	EdgesOf(ctx context.Context, personID string) ([]model.RelationshipEdge, error)

	SaveDuplicate(ctx context.Context, d model.PotentialDuplicate) error
	GetDuplicate(ctx context.Context, id string) (model.PotentialDuplicate, error)
	// FindDuplicate looks up a pair regardless of argument order.
	FindDuplicate(ctx context.Context, aID, bID string) (model.PotentialDuplicate, error)
	ListDuplicates(ctx context.Context, status model.DuplicateStatus) ([]model.PotentialDuplicate, error)

	SaveBridgeRequest(ctx context.Context, r model.BridgeRequest) error
	GetBridgeRequest(ctx context.Context, id string) (model.BridgeRequest, error)
	ListBridgeRequests(ctx context.Context, status model.BridgeStatus) ([]model.BridgeRequest, error)

	// Checkpoints persist scan progress so a restarted batch job resumes
	// instead of rescanning.
	GetCheckpoint(ctx context.Context, name string) (string, error)
	SaveCheckpoint(ctx context.Context, name, value string) error

	Close(ctx context.Context) error
}
