package txns

import "github.com/gvanjoic/neo4j/src/pkg/common"

// LockMode is the closed set of modes a transaction can hold on a resource.
type LockMode uint8

const (
	LockShared LockMode = iota
	LockExclusive
)

func (m LockMode) String() string {
	if m == LockShared {
		return "SHARED"
	}

	return "EXCLUSIVE"
}

// Compatible reports whether two modes can be held on one resource at once.
// Only shared/shared coexists.
func (m LockMode) Compatible(other LockMode) bool {
	return m == LockShared && other == LockShared
}

// ResourceKind partitions the lock space by entity type.
type ResourceKind uint8

const (
	ResourceNode ResourceKind = iota + 1
	ResourceRelationship
	ResourceLabel
	ResourceSchema
)

// Resource identifies one lockable entity.
type Resource struct {
	Kind ResourceKind
	ID   uint64
}

// LockRequest asks for one mode on one resource on behalf of a transaction.
type LockRequest struct {
	TxnID    common.TransactionID
	Resource Resource
	Mode     LockMode
}
