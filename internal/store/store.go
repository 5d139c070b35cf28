package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateName is returned when a group name is already taken.
	ErrDuplicateName = errors.New("duplicate group name")
	// ErrUserExists is returned when registering an existing username.
	ErrUserExists = errors.New("user already exists")
)

// User represents a registered account. Credentials are stored as-is and
// compared by string equality; hardening is explicitly out of scope.
type User struct {
	Username  string
	Password  string
	CreatedAt time.Time
}

// ReceiverAll is the receiver sentinel for public broadcast messages.
const ReceiverAll = "all"

// Message is a persisted public or private chat line. Receiver is the
// target username, or ReceiverAll for public broadcasts. Body holds the
// composed, timestamped line as delivered to clients.
type Message struct {
	ID        int64
	Sender    string
	Receiver  string
	Body      string
	CreatedAt time.Time
}

// Group is a named chat group with a single owner.
type Group struct {
	ID        int64
	Name      string
	Owner     string
	CreatedAt time.Time
}

// Membership links a user to a group. Unique per (group, username).
type Membership struct {
	GroupID  int64
	Username string
	IsOwner  bool
}

// GroupInfo is a group as seen from one member's perspective.
type GroupInfo struct {
	ID      int64
	Name    string
	IsOwner bool
}

// GroupMessage is a persisted group chat line.
type GroupMessage struct {
	ID        int64
	GroupID   int64
	Sender    string
	Body      string
	CreatedAt time.Time
}

// UserStore handles account persistence.
type UserStore interface {
	// RegisterUser creates an account. Returns ErrUserExists if the
	// username is taken.
	RegisterUser(ctx context.Context, username, password string) error

	// UserExists reports whether the username is registered.
	UserExists(ctx context.Context, username string) (bool, error)

	// VerifyUser checks credentials by exact string equality.
	VerifyUser(ctx context.Context, username, password string) (bool, error)
}

// MessageStore handles public/private message persistence.
type MessageStore interface {
	// InsertMessage appends one message row with a server-assigned timestamp.
	InsertMessage(ctx context.Context, sender, receiver, body string) (*Message, error)

	// RecentMessages returns up to limit messages, newest first.
	RecentMessages(ctx context.Context, limit int) ([]*Message, error)
}

// GroupStore handles groups, memberships, and group messages.
type GroupStore interface {
	// CreateGroup inserts a group and its owning membership in one
	// transaction. Returns ErrDuplicateName if the name is taken.
	CreateGroup(ctx context.Context, name, owner string) (*Group, error)

	// AddMember inserts a membership. Returns false if it already existed.
	AddMember(ctx context.Context, groupID int64, username string, isOwner bool) (bool, error)

	// RemoveMember deletes a membership. Returns false if none existed.
	RemoveMember(ctx context.Context, groupID int64, username string) (bool, error)

	// IsMember reports whether the user belongs to the group.
	IsMember(ctx context.Context, groupID int64, username string) (bool, error)

	// IsOwner reports whether the user owns the group.
	IsOwner(ctx context.Context, groupID int64, username string) (bool, error)

	// ListMembers returns the full membership roster of a group.
	ListMembers(ctx context.Context, groupID int64) ([]*Membership, error)

	// GroupsFor returns the groups the user belongs to.
	GroupsFor(ctx context.Context, username string) ([]*GroupInfo, error)

	// InsertGroupMessage appends a group message and returns it with the
	// generated id and timestamp.
	InsertGroupMessage(ctx context.Context, groupID int64, sender, body string) (*GroupMessage, error)

	// RecentGroupMessages returns up to limit messages for the group,
	// newest first.
	RecentGroupMessages(ctx context.Context, groupID int64, limit int) ([]*GroupMessage, error)
}

// EventStore records audit events. Best-effort; failures are logged by the
// caller and never interrupt the chat path.
type EventStore interface {
	RecordEvent(ctx context.Context, eventType, actor, payload string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	GroupStore
	EventStore

	// Close closes the underlying database connection.
	Close() error
}
