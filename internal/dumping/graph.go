package dumping

import (
	"context"

	"github.com/google/uuid"

	"github.com/provdump/provdump/internal/orm"
)

// GraphReader is the read-only query capability the engine consumes from the
// graph store. *orm.Store satisfies it; tests may substitute their own.
//
// Detection and planning never mutate the store through this interface, and
// a query failure is fatal for the invocation.
type GraphReader interface {
	NodeByUUID(ctx context.Context, id uuid.UUID) (*orm.Node, error)
	NodeExists(ctx context.Context, id uuid.UUID) (bool, error)
	ProcessNodes(ctx context.Context) ([]*orm.Node, error)
	GroupNodes(ctx context.Context, groupUUID uuid.UUID) ([]*orm.Node, error)
	UngroupedProcessNodes(ctx context.Context) ([]*orm.Node, error)

	IncomingLinks(ctx context.Context, id uuid.UUID, types ...orm.LinkType) ([]orm.LinkTriple, error)
	OutgoingLinks(ctx context.Context, id uuid.UUID, types ...orm.LinkType) ([]orm.LinkTriple, error)

	Groups(ctx context.Context) ([]*orm.Group, error)
	GroupByUUID(ctx context.Context, id uuid.UUID) (*orm.Group, error)
	GroupMemberships(ctx context.Context) ([]orm.GroupMembership, error)

	Attributes(ctx context.Context, id uuid.UUID) (map[string]any, error)
	Extras(ctx context.Context, id uuid.UUID) (map[string]any, error)
	ListRepoFiles(ctx context.Context, id uuid.UUID) ([]string, error)
	CopyRepoTree(ctx context.Context, id uuid.UUID, dest string) error
}

var _ GraphReader = (*orm.Store)(nil)
