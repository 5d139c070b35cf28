// Package proto defines the control-message vocabulary exchanged with
// clients over the text-frame transport. Plain chat lines never pass
// through here; only frames that start with '{' are decoded.
package proto

// Request type values accepted from clients.
const (
	TypeCreateGroup       = "create_group"
	TypeAddGroupMember    = "add_group_member"
	TypeRemoveGroupMember = "remove_group_member"
	TypeGetGroupMembers   = "get_group_members"
	TypeGetGroupMessages  = "get_group_messages"
	TypeGroupMessage      = "group_message"
)

// Response and push type values sent to clients.
const (
	TypeCreateGroupResponse  = "create_group_response"
	TypeAddMemberResponse    = "add_member_response"
	TypeRemoveMemberResponse = "remove_member_response"
	TypeGroupMembers         = "group_members"
	TypeGroupMessages        = "group_messages"
	TypeUsersList            = "users_list"
	TypeGroupsList           = "groups_list"
	TypeHistory              = "history"
)

// Request is the flat control document sent by clients. It is decoded once
// and dispatched on Type; fields irrelevant to a given type stay zero.
type Request struct {
	Type      string `json:"type"`
	GroupName string `json:"group_name,omitempty"`
	GroupID   int64  `json:"group_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Content   string `json:"content,omitempty"`
}

// GroupRef identifies a group from one member's perspective.
type GroupRef struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	IsOwner bool   `json:"is_owner"`
}

// CreateGroupResponse answers a create_group request.
type CreateGroupResponse struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Group   *GroupRef `json:"group,omitempty"`
}

// MemberResponse answers add_group_member and remove_group_member requests.
type MemberResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Member is one entry of a group roster.
type Member struct {
	Username string `json:"username"`
	IsOwner  bool   `json:"is_owner"`
}

// GroupMembers answers a get_group_members request.
type GroupMembers struct {
	Type    string   `json:"type"`
	GroupID int64    `json:"group_id"`
	Members []Member `json:"members"`
}

// GroupMessageItem is one entry of a group history reply.
type GroupMessageItem struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// GroupMessages answers a get_group_messages request.
type GroupMessages struct {
	Type     string             `json:"type"`
	GroupID  int64              `json:"group_id"`
	Messages []GroupMessageItem `json:"messages"`
}

// GroupMessageEvent is fanned out to every online group member when a
// group message is accepted.
type GroupMessageEvent struct {
	Type             string `json:"type"`
	GroupID          int64  `json:"group_id"`
	Sender           string `json:"sender"`
	Timestamp        string `json:"timestamp"`
	FormattedMessage string `json:"formatted_message"`
}

// UsersList pushes the current set of online usernames.
type UsersList struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// GroupsList pushes the requesting user's group memberships.
type GroupsList struct {
	Type   string     `json:"type"`
	Groups []GroupRef `json:"groups"`
}

// HistoryItem is one replayed public message.
type HistoryItem struct {
	Sender string `json:"sender"`
	Raw    string `json:"raw"`
	Time   string `json:"time"`
}

// History replays recent public messages to a freshly logged-in session.
type History struct {
	Type     string        `json:"type"`
	Messages []HistoryItem `json:"messages"`
}
