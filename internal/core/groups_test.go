package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/akarpov/chatrelay/internal/proto"
)

// createGroup drives a create_group request and returns the new group id.
func createGroup(t *testing.T, c *testConn, name string) int64 {
	t.Helper()
	c.send(t, fmt.Sprintf(`{"type":"create_group","group_name":%q}`, name))
	frame := c.nextTyped(t, proto.TypeCreateGroupResponse)

	var resp proto.CreateGroupResponse
	if err := json.Unmarshal([]byte(frame), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if resp.Group == nil || !resp.Group.IsOwner {
		t.Fatalf("expected owning group in response, got %s", frame)
	}
	// The requester's group list is re-pushed after creation.
	c.nextTyped(t, proto.TypeGroupsList)
	return resp.Group.ID
}

func addMember(t *testing.T, c *testConn, groupID int64, user string) {
	t.Helper()
	c.send(t, fmt.Sprintf(`{"type":"add_group_member","group_id":%d,"username":%q}`, groupID, user))
	frame := c.nextTyped(t, proto.TypeAddMemberResponse)
	if !strings.Contains(frame, "member added") {
		t.Fatalf("add member failed: %s", frame)
	}
}

func TestCreateGroupValidationAndDuplicate(t *testing.T) {
	hub, st := newTestHub(t)
	seedUser(t, st, "alice", "pw1")

	alice := startSession(t, hub)
	login(t, alice, "alice", "pw1")

	alice.send(t, `{"type":"create_group","group_name":""}`)
	frame := alice.nextTyped(t, proto.TypeCreateGroupResponse)
	if !strings.Contains(frame, "must not be empty") {
		t.Fatalf("expected empty-name rejection, got %s", frame)
	}

	createGroup(t, alice, "g1")

	alice.send(t, `{"type":"create_group","group_name":"g1"}`)
	frame = alice.nextTyped(t, proto.TypeCreateGroupResponse)
	if !strings.Contains(frame, "already taken") {
		t.Fatalf("expected duplicate-name rejection, got %s", frame)
	}
}

func TestAddMemberOwnershipEnforced(t *testing.T) {
	hub, st := newTestHub(t)
	seedUser(t, st, "alice", "pw1")
	seedUser(t, st, "bob", "pw2")
	seedUser(t, st, "carol", "pw3")

	alice := startSession(t, hub)
	login(t, alice, "alice", "pw1")
	bob := startSession(t, hub)
	login(t, bob, "bob", "pw2")

	gid := createGroup(t, alice, "g1")

	bob.send(t, fmt.Sprintf(`{"type":"add_group_member","group_id":%d,"username":"carol"}`, gid))
	frame := bob.nextTyped(t, proto.TypeAddMemberResponse)
	if !strings.Contains(frame, "only the group owner") {
		t.Fatalf("expected permission denial, got %s", frame)
	}

	member, err := hub.groups.IsMember(context.Background(), gid, "carol")
	if err != nil {
		t.Fatalf("membership check: %v", err)
	}
	if member {
		t.Fatal("denied add must not mutate membership")
	}
}

func TestAddMemberIdempotent(t *testing.T) {
	hub, st := newTestHub(t)
	seedUser(t, st, "alice", "pw1")
	seedUser(t, st, "bob", "pw2")

	alice := startSession(t, hub)
	login(t, alice, "alice", "pw1")

	gid := createGroup(t, alice, "g1")
	addMember(t, alice, gid, "bob")

	alice.send(t, fmt.Sprintf(`{"type":"add_group_member","group_id":%d,"username":"bob"}`, gid))
	frame := alice.nextTyped(t, proto.TypeAddMemberResponse)
	if !strings.Contains(frame, "already a member") {
		t.Fatalf("expected duplicate add failure, got %s", frame)
	}
}

func TestRemoveMemberSelfGuardAndOwnership(t *testing.T) {
	hub, st := newTestHub(t)
	seedUser(t, st, "alice", "pw1")
	seedUser(t, st, "bob", "pw2")

	alice := startSession(t, hub)
	login(t, alice, "alice", "pw1")
	bob := startSession(t, hub)
	login(t, bob, "bob", "pw2")

	gid := createGroup(t, alice, "g1")
	addMember(t, alice, gid, "bob")
	bob.nextTyped(t, proto.TypeGroupsList)

	// Owner removing themself is rejected.
	alice.send(t, fmt.Sprintf(`{"type":"remove_group_member","group_id":%d,"username":"alice"}`, gid))
	frame := alice.nextTyped(t, proto.TypeRemoveMemberResponse)
	if !strings.Contains(frame, "cannot remove themself") {
		t.Fatalf("expected self-removal rejection, got %s", frame)
	}
	stillOwner, err := hub.groups.IsMember(context.Background(), gid, "alice")
	if err != nil || !stillOwner {
		t.Fatalf("owner membership must be unchanged (member=%v err=%v)", stillOwner, err)
	}

	// Non-owner removal is rejected.
	bob.send(t, fmt.Sprintf(`{"type":"remove_group_member","group_id":%d,"username":"alice"}`, gid))
	frame = bob.nextTyped(t, proto.TypeRemoveMemberResponse)
	if !strings.Contains(frame, "only the group owner") {
		t.Fatalf("expected permission denial, got %s", frame)
	}

	// Owner removing bob works and updates bob's group list.
	alice.send(t, fmt.Sprintf(`{"type":"remove_group_member","group_id":%d,"username":"bob"}`, gid))
	frame = alice.nextTyped(t, proto.TypeRemoveMemberResponse)
	if !strings.Contains(frame, "member removed") {
		t.Fatalf("expected removal success, got %s", frame)
	}
	groupsFrame := bob.nextTyped(t, proto.TypeGroupsList)
	if strings.Contains(groupsFrame, `"g1"`) {
		t.Fatalf("bob's group list should no longer contain g1: %s", groupsFrame)
	}
}

func TestGroupMembersVisibleToAnyLoggedInUser(t *testing.T) {
	hub, st := newTestHub(t)
	seedUser(t, st, "alice", "pw1")
	seedUser(t, st, "bob", "pw2")
	seedUser(t, st, "carol", "pw3")

	alice := startSession(t, hub)
	login(t, alice, "alice", "pw1")
	carol := startSession(t, hub)
	login(t, carol, "carol", "pw3")

	gid := createGroup(t, alice, "g1")
	addMember(t, alice, gid, "bob")

	// Carol is not a member but may query the roster.
	carol.send(t, fmt.Sprintf(`{"type":"get_group_members","group_id":%d}`, gid))
	frame := carol.nextTyped(t, proto.TypeGroupMembers)

	var roster proto.GroupMembers
	if err := json.Unmarshal([]byte(frame), &roster); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(roster.Members) != 2 {
		t.Fatalf("expected 2 members, got %+v", roster.Members)
	}
	if roster.Members[0].Username != "alice" || !roster.Members[0].IsOwner {
		t.Fatalf("expected alice as owner first, got %+v", roster.Members)
	}
	if roster.Members[1].Username != "bob" || roster.Members[1].IsOwner {
		t.Fatalf("expected bob as plain member, got %+v", roster.Members)
	}
}

func TestGroupMessageVisibility(t *testing.T) {
	hub, st := newTestHub(t)
	seedUser(t, st, "alice", "pw1")
	seedUser(t, st, "bob", "pw2")
	seedUser(t, st, "carol", "pw3")

	alice := startSession(t, hub)
	login(t, alice, "alice", "pw1")
	bob := startSession(t, hub)
	login(t, bob, "bob", "pw2")
	carol := startSession(t, hub)
	login(t, carol, "carol", "pw3")

	gid := createGroup(t, alice, "g1")
	addMember(t, alice, gid, "bob")
	bob.nextTyped(t, proto.TypeGroupsList)

	bob.send(t, fmt.Sprintf(`{"type":"group_message","group_id":%d,"content":"hi"}`, gid))

	aliceFrame := alice.nextTyped(t, proto.TypeGroupMessage)
	bobFrame := bob.nextTyped(t, proto.TypeGroupMessage)
	for _, frame := range []string{aliceFrame, bobFrame} {
		if !strings.Contains(frame, "bob: hi") {
			t.Fatalf("formatted message missing sender prefix: %s", frame)
		}
	}

	// Carol is online but not a member; she must see the later public
	// sentinel without ever seeing the group message.
	alice.send(t, "sentinel-ping")
	skipped := carol.collectUntil(t, "sentinel-ping")
	for _, frame := range skipped {
		if strings.Contains(frame, "formatted_message") {
			t.Fatalf("non-member received group message: %s", frame)
		}
	}
}

func TestRemovedMemberStopsReceivingGroupMessages(t *testing.T) {
	hub, st := newTestHub(t)
	seedUser(t, st, "alice", "pw1")
	seedUser(t, st, "bob", "pw2")

	alice := startSession(t, hub)
	login(t, alice, "alice", "pw1")
	bob := startSession(t, hub)
	login(t, bob, "bob", "pw2")

	gid := createGroup(t, alice, "g1")
	addMember(t, alice, gid, "bob")
	bob.nextTyped(t, proto.TypeGroupsList)

	alice.send(t, fmt.Sprintf(`{"type":"group_message","group_id":%d,"content":"before"}`, gid))
	bob.nextContaining(t, "alice: before")

	alice.send(t, fmt.Sprintf(`{"type":"remove_group_member","group_id":%d,"username":"bob"}`, gid))
	alice.nextTyped(t, proto.TypeRemoveMemberResponse)
	bob.nextTyped(t, proto.TypeGroupsList)

	// Membership is re-checked at delivery time: bob stays connected but
	// no longer receives group traffic.
	alice.send(t, fmt.Sprintf(`{"type":"group_message","group_id":%d,"content":"after"}`, gid))
	alice.nextContaining(t, "alice: after")

	alice.send(t, "sentinel-ping")
	skipped := bob.collectUntil(t, "sentinel-ping")
	for _, frame := range skipped {
		if strings.Contains(frame, "after") {
			t.Fatalf("removed member received group message: %s", frame)
		}
	}
}

func TestGroupHistoryRequiresMembership(t *testing.T) {
	hub, st := newTestHub(t)
	seedUser(t, st, "alice", "pw1")
	seedUser(t, st, "carol", "pw3")

	alice := startSession(t, hub)
	login(t, alice, "alice", "pw1")
	carol := startSession(t, hub)
	login(t, carol, "carol", "pw3")

	gid := createGroup(t, alice, "g1")
	alice.send(t, fmt.Sprintf(`{"type":"group_message","group_id":%d,"content":"one"}`, gid))
	alice.nextTyped(t, proto.TypeGroupMessage)
	alice.send(t, fmt.Sprintf(`{"type":"group_message","group_id":%d,"content":"two"}`, gid))
	alice.nextTyped(t, proto.TypeGroupMessage)

	// Non-member request is silently dropped.
	carol.send(t, fmt.Sprintf(`{"type":"get_group_messages","group_id":%d}`, gid))
	alice.send(t, "sentinel-ping")
	skipped := carol.collectUntil(t, "sentinel-ping")
	for _, frame := range skipped {
		if strings.Contains(frame, `"group_messages"`) {
			t.Fatalf("non-member received group history: %s", frame)
		}
	}

	// The member gets the history in chronological order.
	alice.send(t, fmt.Sprintf(`{"type":"get_group_messages","group_id":%d}`, gid))
	frame := alice.nextTyped(t, proto.TypeGroupMessages)
	var history proto.GroupMessages
	if err := json.Unmarshal([]byte(frame), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Messages) != 2 || history.Messages[0].Message != "one" || history.Messages[1].Message != "two" {
		t.Fatalf("expected chronological history [one two], got %+v", history.Messages)
	}
}

func TestEndToEndGroupScenario(t *testing.T) {
	hub, _ := newTestHub(t)

	alice := startSession(t, hub)
	alice.nextContaining(t, "enter username")
	alice.send(t, "register alice,pw1")
	alice.nextContaining(t, "registration successful")
	alice.send(t, "alice,pw1")
	alice.nextContaining(t, "welcome alice")

	bob := startSession(t, hub)
	bob.nextContaining(t, "enter username")
	bob.send(t, "register bob,pw2")
	bob.nextContaining(t, "registration successful")
	bob.send(t, "bob,pw2")
	bob.nextContaining(t, "welcome bob")

	// A third connection that never authenticates.
	ghost := startSession(t, hub)
	ghost.nextContaining(t, "enter username")

	gid := createGroup(t, alice, "g1")
	addMember(t, alice, gid, "bob")
	bob.nextTyped(t, proto.TypeGroupsList)

	bob.send(t, fmt.Sprintf(`{"type":"group_message","group_id":%d,"content":"hi"}`, gid))

	for _, c := range []*testConn{alice, bob} {
		frame := c.nextTyped(t, proto.TypeGroupMessage)
		var ev proto.GroupMessageEvent
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.GroupID != gid || ev.Sender != "bob" || !strings.Contains(ev.FormattedMessage, "bob: hi") {
			t.Fatalf("unexpected group message event: %+v", ev)
		}
	}

	// The unauthenticated session received nothing beyond its prompt.
	select {
	case frame := <-ghost.out:
		t.Fatalf("unauthenticated session received: %s", frame)
	default:
	}
}
