package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/akarpov/chatrelay/internal/proto"
	"github.com/akarpov/chatrelay/internal/store"
)

// route classifies one inbound frame from an authenticated session and
// invokes the matching handler. A leading '{' selects the structured
// control protocol; a leading '@' a private message; anything else is a
// public broadcast.
func (h *Hub) route(ctx context.Context, sess *Session, raw string) {
	if raw == "" {
		return
	}
	switch raw[0] {
	case '{':
		h.handleControl(ctx, sess, raw)
	case '@':
		h.handlePrivate(ctx, sess, raw)
	default:
		h.handlePublic(ctx, sess, raw)
	}
}

// handlePublic composes a timestamped line, persists it under the "all"
// receiver sentinel, and fans it out to every registered session (sender
// included). Persisting first means a delivered frame is always backed by
// a stored row; a store failure is logged but does not block delivery.
func (h *Hub) handlePublic(ctx context.Context, sess *Session, raw string) {
	line := fmt.Sprintf("%s %s: %s", h.timestamp(), sess.username, raw)

	if _, err := h.store.InsertMessage(ctx, sess.username, store.ReceiverAll, line); err != nil {
		h.log.Error().Err(err).Str("user", sess.username).Msg("persist public message")
	}
	h.broadcastText(line)
}

// handlePrivate parses "@target body", persists the composed line, then
// delivers it to every session logged in as target plus an echo to the
// sender. The offline notice suppresses neither persistence nor the echo.
func (h *Hub) handlePrivate(ctx context.Context, sess *Session, raw string) {
	target, body, ok := strings.Cut(raw[1:], " ")
	if !ok || target == "" {
		return
	}

	line := fmt.Sprintf("%s %s (private) to %s: %s", h.timestamp(), sess.username, target, body)

	if _, err := h.store.InsertMessage(ctx, sess.username, target, line); err != nil {
		h.log.Error().Err(err).Str("user", sess.username).Msg("persist private message")
	}

	recipients := h.reg.ForUser(target)
	for _, r := range recipients {
		r.Push(line)
	}
	sess.Push(line)

	if len(recipients) == 0 {
		sess.Push("system: user " + target + " is not online")
	}
}

// handleControl decodes the flat control document once and dispatches on
// its type. Parse failures and unknown types are dropped without a reply.
func (h *Hub) handleControl(ctx context.Context, sess *Session, raw string) {
	var req proto.Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		h.log.Debug().Err(err).Str("user", sess.username).Msg("drop malformed control frame")
		return
	}

	switch req.Type {
	case proto.TypeCreateGroup:
		h.handleCreateGroup(ctx, sess, req)
	case proto.TypeAddGroupMember:
		h.handleAddMember(ctx, sess, req)
	case proto.TypeRemoveGroupMember:
		h.handleRemoveMember(ctx, sess, req)
	case proto.TypeGetGroupMembers:
		h.handleGetMembers(ctx, sess, req)
	case proto.TypeGetGroupMessages:
		h.handleGetGroupMessages(ctx, sess, req)
	case proto.TypeGroupMessage:
		h.handleGroupMessage(ctx, sess, req)
	default:
		h.log.Debug().Str("type", req.Type).Str("user", sess.username).Msg("drop unknown control type")
	}
}

func (h *Hub) handleCreateGroup(ctx context.Context, sess *Session, req proto.Request) {
	resp := proto.CreateGroupResponse{Type: proto.TypeCreateGroupResponse}

	group, err := h.groups.Create(ctx, req.GroupName, sess.username)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		resp.Message = "group name must not be empty"
	case errors.Is(err, store.ErrDuplicateName):
		resp.Message = "create failed: group name already taken"
	case err != nil:
		h.log.Error().Err(err).Str("user", sess.username).Msg("create group")
		resp.Message = "create failed"
	default:
		resp.Message = "group created"
		resp.Group = &proto.GroupRef{ID: group.ID, Name: group.Name, IsOwner: true}
	}
	sess.PushJSON(resp)

	if err == nil {
		h.recordEvent(ctx, "group_created", sess.username, map[string]any{
			"group_id": group.ID,
			"name":     group.Name,
		})
		h.pushMeta(ctx, sess)
	}
}

func (h *Hub) handleAddMember(ctx context.Context, sess *Session, req proto.Request) {
	resp := proto.MemberResponse{Type: proto.TypeAddMemberResponse}

	added, err := h.groups.AddMember(ctx, req.GroupID, sess.username, req.Username)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		resp.Message = "invalid group or username"
	case errors.Is(err, ErrNotOwner):
		resp.Message = "only the group owner can add members"
	case err != nil:
		h.log.Error().Err(err).Str("user", sess.username).Int64("group_id", req.GroupID).Msg("add member")
		resp.Message = "add failed"
	case !added:
		resp.Message = "add failed: already a member"
	default:
		resp.Message = "member added"
	}
	sess.PushJSON(resp)

	if err == nil && added {
		h.recordEvent(ctx, "member_added", sess.username, map[string]any{
			"group_id": req.GroupID,
			"username": req.Username,
		})
		// Update the new member's group list live.
		for _, s := range h.reg.ForUser(req.Username) {
			h.pushMeta(ctx, s)
		}
	}
}

func (h *Hub) handleRemoveMember(ctx context.Context, sess *Session, req proto.Request) {
	resp := proto.MemberResponse{Type: proto.TypeRemoveMemberResponse}

	removed, err := h.groups.RemoveMember(ctx, req.GroupID, sess.username, req.Username)
	switch {
	case errors.Is(err, ErrInvalidArgument):
		resp.Message = "invalid group or username"
	case errors.Is(err, ErrNotOwner):
		resp.Message = "only the group owner can remove members"
	case errors.Is(err, ErrSelfRemove):
		resp.Message = "the owner cannot remove themself"
	case err != nil:
		h.log.Error().Err(err).Str("user", sess.username).Int64("group_id", req.GroupID).Msg("remove member")
		resp.Message = "remove failed"
	case !removed:
		resp.Message = "remove failed: not a member"
	default:
		resp.Message = "member removed"
	}
	sess.PushJSON(resp)

	if err == nil && removed {
		h.recordEvent(ctx, "member_removed", sess.username, map[string]any{
			"group_id": req.GroupID,
			"username": req.Username,
		})
		for _, s := range h.reg.ForUser(req.Username) {
			h.pushMeta(ctx, s)
		}
	}
}

// handleGetMembers returns the roster to the requester. Any logged-in user
// may query any group; invalid ids are dropped.
func (h *Hub) handleGetMembers(ctx context.Context, sess *Session, req proto.Request) {
	if req.GroupID <= 0 {
		return
	}

	members, err := h.groups.Members(ctx, req.GroupID)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", req.GroupID).Msg("list members")
		return
	}

	resp := proto.GroupMembers{
		Type:    proto.TypeGroupMembers,
		GroupID: req.GroupID,
		Members: make([]proto.Member, 0, len(members)),
	}
	for _, m := range members {
		resp.Members = append(resp.Members, proto.Member{Username: m.Username, IsOwner: m.IsOwner})
	}
	sess.PushJSON(resp)
}

// handleGetGroupMessages replays recent group history to a member.
// Requests from non-members are silently dropped.
func (h *Hub) handleGetGroupMessages(ctx context.Context, sess *Session, req proto.Request) {
	if req.GroupID <= 0 {
		return
	}
	member, err := h.groups.IsMember(ctx, req.GroupID, sess.username)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", req.GroupID).Msg("check membership")
		return
	}
	if !member {
		return
	}

	msgs, err := h.store.RecentGroupMessages(ctx, req.GroupID, h.groupHistoryLimit)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", req.GroupID).Msg("query group history")
		return
	}

	resp := proto.GroupMessages{
		Type:     proto.TypeGroupMessages,
		GroupID:  req.GroupID,
		Messages: make([]proto.GroupMessageItem, 0, len(msgs)),
	}
	// Stored newest first; replay in chronological order.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		resp.Messages = append(resp.Messages, proto.GroupMessageItem{
			Sender:    m.Sender,
			Message:   m.Body,
			Timestamp: m.CreatedAt.Format(timeLayout),
		})
	}
	sess.PushJSON(resp)
}

// handleGroupMessage persists a group message and fans it out to every
// online member. Membership is re-checked per session at delivery time,
// so a member removed a moment ago no longer receives it.
func (h *Hub) handleGroupMessage(ctx context.Context, sess *Session, req proto.Request) {
	if req.GroupID <= 0 || req.Content == "" {
		return
	}
	member, err := h.groups.IsMember(ctx, req.GroupID, sess.username)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", req.GroupID).Msg("check membership")
		return
	}
	if !member {
		return
	}

	gm, err := h.store.InsertGroupMessage(ctx, req.GroupID, sess.username, req.Content)
	if err != nil {
		h.log.Error().Err(err).Int64("group_id", req.GroupID).Msg("persist group message")
		return
	}

	ts := gm.CreatedAt.Format(timeLayout)
	event := proto.GroupMessageEvent{
		Type:             proto.TypeGroupMessage,
		GroupID:          req.GroupID,
		Sender:           sess.username,
		Timestamp:        ts,
		FormattedMessage: "[" + ts + "] " + sess.username + ": " + req.Content,
	}
	h.broadcastGroup(ctx, req.GroupID, event)
}

// recordEvent appends an audit row; failures are logged and ignored.
func (h *Hub) recordEvent(ctx context.Context, eventType, actor string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.store.RecordEvent(ctx, eventType, actor, string(data)); err != nil {
		h.log.Warn().Err(err).Str("event", eventType).Msg("record event")
	}
}
