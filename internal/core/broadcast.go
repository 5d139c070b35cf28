package core

import (
	"context"
	"encoding/json"

	"github.com/akarpov/chatrelay/internal/proto"
)

// timeLayout is the human-facing timestamp format used in composed lines.
const timeLayout = "2006-01-02 15:04:05"

func (h *Hub) timestamp() string {
	return h.now().Format("[" + timeLayout + "]")
}

// broadcastText enqueues a payload on every registered session. Best
// effort: a session that cannot accept the write is skipped and left to
// its own error path.
func (h *Hub) broadcastText(text string) {
	for _, s := range h.reg.Snapshot() {
		s.Push(text)
	}
}

// broadcastJSON marshals once and fans the frame out to every session.
func (h *Hub) broadcastJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	text := string(data)
	for _, s := range h.reg.Snapshot() {
		s.Push(text)
	}
}

// broadcastGroup fans a frame out to every session whose user is a member
// of the group right now. Membership is checked per session at delivery
// time rather than cached.
func (h *Hub) broadcastGroup(ctx context.Context, groupID int64, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	text := string(data)
	for _, s := range h.reg.Snapshot() {
		member, err := h.groups.IsMember(ctx, groupID, s.Username())
		if err != nil {
			h.log.Error().Err(err).Int64("group_id", groupID).Str("user", s.Username()).Msg("membership check during fan-out")
			continue
		}
		if member {
			s.Push(text)
		}
	}
}

// broadcastUsers pushes the current online-users list to every session.
func (h *Hub) broadcastUsers() {
	h.broadcastJSON(proto.UsersList{
		Type:  proto.TypeUsersList,
		Users: h.reg.Usernames(),
	})
}

// pushMeta sends a session its metadata: the online-users list and the
// user's own group list.
func (h *Hub) pushMeta(ctx context.Context, sess *Session) {
	sess.PushJSON(proto.UsersList{
		Type:  proto.TypeUsersList,
		Users: h.reg.Usernames(),
	})

	groups, err := h.store.GroupsFor(ctx, sess.username)
	if err != nil {
		h.log.Error().Err(err).Str("user", sess.username).Msg("query user groups")
		return
	}
	list := proto.GroupsList{
		Type:   proto.TypeGroupsList,
		Groups: make([]proto.GroupRef, 0, len(groups)),
	}
	for _, g := range groups {
		list.Groups = append(list.Groups, proto.GroupRef{ID: g.ID, Name: g.Name, IsOwner: g.IsOwner})
	}
	sess.PushJSON(list)
}

// pushHistory replays the most recent public messages to a freshly
// logged-in session. Rows are stored newest first; the replay is reversed
// so the client reads them chronologically.
func (h *Hub) pushHistory(ctx context.Context, sess *Session) {
	msgs, err := h.store.RecentMessages(ctx, h.historyLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("query public history")
		return
	}

	hist := proto.History{
		Type:     proto.TypeHistory,
		Messages: make([]proto.HistoryItem, 0, len(msgs)),
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		hist.Messages = append(hist.Messages, proto.HistoryItem{
			Sender: m.Sender,
			Raw:    m.Body,
			Time:   m.CreatedAt.Format(timeLayout),
		})
	}
	sess.PushJSON(hist)
}
