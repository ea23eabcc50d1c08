package usecase

import (
	"strconv"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// Operation classifies what a request wants to do with a workspace.
type Operation int

const (
	OperationRead Operation = iota
	OperationWrite
)

// AccessPolicy decides whether a resolved session may perform an operation
// on a workspace.
type AccessPolicy struct{}

// NewAccessPolicy constructs an AccessPolicy.
func NewAccessPolicy() *AccessPolicy {
	return &AccessPolicy{}
}

// Authorize returns nil when the session may perform the operation on the
// workspace, ErrNoAccess otherwise. Super admins may do anything; workspace
// admins need the workspace grant, and writes additionally need the RW role.
// Any other role string, the conventional empty one included, reads only.
func (p *AccessPolicy) Authorize(session *domain.Session, workspaceID int, operation Operation) error {
	if session == nil {
		return ErrUnauthorized
	}

	if session.HasAccess(domain.AccessSuperAdmin) {
		return nil
	}

	id := strconv.Itoa(workspaceID)
	if !session.HasAccessToObject(domain.AccessWorkspaceAdmin, id) {
		return ErrNoAccess
	}

	if operation == OperationWrite && !domain.RoleAllowsWrite(session.WorkspaceRoles[id]) {
		return ErrNoAccess
	}

	return nil
}

// AuthorizePersonTest returns nil when the person owns the test. Person and
// login sessions may only touch their own resources.
func (p *AccessPolicy) AuthorizePersonTest(person *domain.Person, test *domain.Test) error {
	if person == nil || test == nil {
		return ErrNoAccess
	}
	if test.PersonID != person.ID {
		return ErrNoAccess
	}
	return nil
}
