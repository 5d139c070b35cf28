package core

import (
	"context"
	"errors"

	"github.com/akarpov/chatrelay/internal/store"
)

var (
	// ErrNotOwner is returned when a non-owner tries to mutate membership.
	ErrNotOwner = errors.New("only the group owner may modify members")
	// ErrSelfRemove is returned when an owner tries to remove themself.
	ErrSelfRemove = errors.New("owner cannot remove themself")
	// ErrInvalidArgument is returned for missing or malformed fields.
	ErrInvalidArgument = errors.New("invalid group request")
)

// GroupManager layers the authorization rules on top of the store's
// membership operations. It keeps no cache: every check is a fresh store
// read, so delivery-time membership is always current.
type GroupManager struct {
	store store.GroupStore
}

// NewGroupManager builds a manager over the given group store.
func NewGroupManager(st store.GroupStore) *GroupManager {
	return &GroupManager{store: st}
}

// Create inserts a new group owned by owner, with the owning membership
// created atomically.
func (g *GroupManager) Create(ctx context.Context, name, owner string) (*store.Group, error) {
	if name == "" {
		return nil, ErrInvalidArgument
	}
	return g.store.CreateGroup(ctx, name, owner)
}

// AddMember adds target to the group on behalf of requester. Only the
// owner may add; duplicate adds report false.
func (g *GroupManager) AddMember(ctx context.Context, groupID int64, requester, target string) (bool, error) {
	if groupID <= 0 || target == "" {
		return false, ErrInvalidArgument
	}
	owner, err := g.store.IsOwner(ctx, groupID, requester)
	if err != nil {
		return false, err
	}
	if !owner {
		return false, ErrNotOwner
	}
	return g.store.AddMember(ctx, groupID, target, false)
}

// RemoveMember removes target from the group on behalf of requester. Only
// the owner may remove, and never themself.
func (g *GroupManager) RemoveMember(ctx context.Context, groupID int64, requester, target string) (bool, error) {
	if groupID <= 0 || target == "" {
		return false, ErrInvalidArgument
	}
	owner, err := g.store.IsOwner(ctx, groupID, requester)
	if err != nil {
		return false, err
	}
	if !owner {
		return false, ErrNotOwner
	}
	if target == requester {
		return false, ErrSelfRemove
	}
	return g.store.RemoveMember(ctx, groupID, target)
}

// IsMember reports whether user belongs to the group.
func (g *GroupManager) IsMember(ctx context.Context, groupID int64, user string) (bool, error) {
	return g.store.IsMember(ctx, groupID, user)
}

// IsOwner reports whether user owns the group.
func (g *GroupManager) IsOwner(ctx context.Context, groupID int64, user string) (bool, error) {
	return g.store.IsOwner(ctx, groupID, user)
}

// Members returns the full roster of a group. Any logged-in user may ask.
func (g *GroupManager) Members(ctx context.Context, groupID int64) ([]*store.Membership, error) {
	return g.store.ListMembers(ctx, groupID)
}
