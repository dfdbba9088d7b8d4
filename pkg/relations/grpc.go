package relations

import (
	"context"
	"errors"
	"io"
	"time"

	v1 "github.com/authzed/authzed-go/proto/authzed/api/v1"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/relationsync/relationsync/pkg/tuple"
)

var tracer = otel.Tracer("relationsync/pkg/relations")

const defaultCallTimeout = 30 * time.Second

// GRPCClient talks to a relationship store speaking the authzed v1 API.
type GRPCClient struct {
	perms       v1.PermissionsServiceClient
	callTimeout time.Duration
}

var _ Client = (*GRPCClient)(nil)

type GRPCOption func(*GRPCClient)

// WithCallTimeout bounds each remote call. Timeouts apply per call, not per
// domain-object sync.
func WithCallTimeout(d time.Duration) GRPCOption {
	return func(c *GRPCClient) {
		c.callTimeout = d
	}
}

// NewGRPCClient wraps an established gRPC connection to the store.
func NewGRPCClient(conn grpc.ClientConnInterface, opts ...GRPCOption) *GRPCClient {
	c := &GRPCClient{
		perms:       v1.NewPermissionsServiceClient(conn),
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GRPCClient) Write(ctx context.Context, touch bool, rels []tuple.Relationship) error {
	ctx, span := tracer.Start(ctx, "relations.Write")
	defer span.End()

	operation := v1.RelationshipUpdate_OPERATION_CREATE
	if touch {
		operation = v1.RelationshipUpdate_OPERATION_TOUCH
	}

	updates := make([]*v1.RelationshipUpdate, 0, len(rels))
	for _, r := range rels {
		updates = append(updates, &v1.RelationshipUpdate{
			Operation:    operation,
			Relationship: toV1(r),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	_, err := c.perms.WriteRelationships(ctx, &v1.WriteRelationshipsRequest{Updates: updates})
	return classify(err, rels)
}

func (c *GRPCClient) Delete(ctx context.Context, rels []tuple.Relationship) error {
	ctx, span := tracer.Start(ctx, "relations.Delete")
	defer span.End()

	updates := make([]*v1.RelationshipUpdate, 0, len(rels))
	for _, r := range rels {
		updates = append(updates, &v1.RelationshipUpdate{
			Operation:    v1.RelationshipUpdate_OPERATION_DELETE,
			Relationship: toV1(r),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	_, err := c.perms.WriteRelationships(ctx, &v1.WriteRelationshipsRequest{Updates: updates})
	return classify(err, rels)
}

func (c *GRPCClient) Read(ctx context.Context, filter Filter) ([]tuple.Relationship, error) {
	ctx, span := tracer.Start(ctx, "relations.Read")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	stream, err := c.perms.ReadRelationships(ctx, &v1.ReadRelationshipsRequest{
		Consistency: &v1.Consistency{
			Requirement: &v1.Consistency_FullyConsistent{FullyConsistent: true},
		},
		RelationshipFilter: toV1Filter(filter),
	})
	if err != nil {
		return nil, err
	}

	var rels []tuple.Relationship
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return rels, nil
		}
		if err != nil {
			return nil, err
		}
		rels = append(rels, fromV1(resp.GetRelationship()))
	}
}

// classify maps store errors onto the package taxonomy. Transient transport
// failures pass through unchanged and are recognized by [Transient].
func classify(err error, rels []tuple.Relationship) error {
	if err == nil {
		return nil
	}
	s, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch s.Code() {
	case codes.AlreadyExists:
		conflict := &ConflictError{}
		if len(rels) == 1 {
			conflict.Relationship = rels[0]
		}
		return conflict
	case codes.InvalidArgument, codes.FailedPrecondition:
		rejected := &RejectedError{Err: err}
		if len(rels) == 1 {
			rejected.Relationship = &rels[0]
		}
		return rejected
	}
	return err
}
