// Package storetest provides a behavioural test suite shared by every
// store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flemzord/rolegate/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// Run exercises the store.Store contract against the implementation built
// by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("UserFieldScopes", func(t *testing.T) { testUserFieldScopes(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("History", func(t *testing.T) { testHistory(t, newStore(t)) })
	t.Run("Groups", func(t *testing.T) { testGroups(t, newStore(t)) })
	t.Run("Roles", func(t *testing.T) { testRoles(t, newStore(t)) })
	t.Run("Pending", func(t *testing.T) { testPending(t, newStore(t)) })
}

func testUserFieldScopes(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, ok, err := s.GetUserField(ctx, "p", "token", nil); err != nil || ok {
		t.Fatalf("empty store GetUserField = ok %v, err %v", ok, err)
	}

	mustNoErr(t, s.SetUserField(ctx, "p", "token", nil, "provider-value"))
	mustNoErr(t, s.SetUserField(ctx, "p", "token", Ptr[int64](7), "role-value"))

	if v, ok, _ := s.GetUserField(ctx, "p", "token", nil); !ok || v != "provider-value" {
		t.Errorf("provider scope = %q, %v", v, ok)
	}
	if v, ok, _ := s.GetUserField(ctx, "p", "token", Ptr[int64](7)); !ok || v != "role-value" {
		t.Errorf("role scope = %q, %v", v, ok)
	}
	if _, ok, _ := s.GetUserField(ctx, "p", "token", Ptr[int64](8)); ok {
		t.Error("role 8 must not see role 7 or provider values")
	}
	if _, ok, _ := s.GetUserField(ctx, "other", "token", nil); ok {
		t.Error("other provider must not see p values")
	}

	mustNoErr(t, s.SetUserField(ctx, "p", "token", nil, "updated"))
	if v, _, _ := s.GetUserField(ctx, "p", "token", nil); v != "updated" {
		t.Errorf("overwrite = %q", v)
	}

	mustNoErr(t, s.DeleteUserField(ctx, "p", "token", nil))
	if _, ok, _ := s.GetUserField(ctx, "p", "token", nil); ok {
		t.Error("provider value survived delete")
	}
	if _, ok, _ := s.GetUserField(ctx, "p", "token", Ptr[int64](7)); !ok {
		t.Error("deleting provider scope removed role scope")
	}
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	key := store.SessionKey{UserID: 1, GroupID: 10, RoleID: 100}

	if _, err := s.GetSession(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetSession on empty store = %v, want ErrNotFound", err)
	}

	mustNoErr(t, s.SaveSession(ctx, key, "s1"))
	first, err := s.GetSession(ctx, key)
	mustNoErr(t, err)
	if first.SessionID != "s1" || first.Key != key || first.CreatedAt.IsZero() {
		t.Errorf("GetSession = %+v", first)
	}

	mustNoErr(t, s.SaveSession(ctx, key, "s2"))
	second, _ := s.GetSession(ctx, key)
	if second.SessionID != "s2" {
		t.Errorf("SaveSession did not replace mapping: %+v", second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("replacement changed CreatedAt: %v -> %v", first.CreatedAt, second.CreatedAt)
	}

	mustNoErr(t, s.TouchSession(ctx, key))
	mustNoErr(t, s.TouchSession(ctx, store.SessionKey{UserID: 99}))

	other := store.SessionKey{UserID: 1, GroupID: 11, RoleID: 100}
	mustNoErr(t, s.SaveSession(ctx, other, "s3"))
	mustNoErr(t, s.SaveSession(ctx, store.SessionKey{UserID: 2, GroupID: 10, RoleID: 100}, "s4"))

	list, err := s.ListUserSessions(ctx, 1)
	mustNoErr(t, err)
	if len(list) != 2 || list[0].SessionID != "s2" || list[1].SessionID != "s3" {
		t.Errorf("ListUserSessions(1) = %+v", list)
	}

	mustNoErr(t, s.DeleteSession(ctx, key))
	if _, err := s.GetSession(ctx, key); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSession after delete = %v", err)
	}

	n, err := s.PruneSessions(ctx, time.Now().Add(-time.Hour))
	mustNoErr(t, err)
	if n != 0 {
		t.Errorf("PruneSessions(past) = %d, want 0", n)
	}
	n, err = s.PruneSessions(ctx, time.Now().Add(time.Hour))
	mustNoErr(t, err)
	if n != 2 {
		t.Errorf("PruneSessions(future) = %d, want 2", n)
	}
}

func testHistory(t *testing.T, s store.Store) {
	ctx := context.Background()

	for i, c := range []string{"a", "b", "c", "d"} {
		speaker := store.SpeakerUser
		if i%2 == 1 {
			speaker = store.SpeakerAssistant
		}
		mustNoErr(t, s.AppendTurn(ctx, "sess", speaker, c))
	}
	mustNoErr(t, s.AppendTurn(ctx, "other", store.SpeakerSystem, "x"))

	all, err := s.ListTurns(ctx, "sess", 0)
	mustNoErr(t, err)
	if got := contents(all); got != "abcd" {
		t.Errorf("ListTurns(all) = %q, want abcd", got)
	}
	if all[1].Speaker != store.SpeakerAssistant || all[0].Seq >= all[1].Seq {
		t.Errorf("turn order or speaker wrong: %+v", all[:2])
	}

	last, err := s.ListTurns(ctx, "sess", 3)
	mustNoErr(t, err)
	if got := contents(last); got != "bcd" {
		t.Errorf("ListTurns(3) = %q, want bcd (chronological)", got)
	}

	none, err := s.ListTurns(ctx, "missing", 5)
	mustNoErr(t, err)
	if len(none) != 0 {
		t.Errorf("ListTurns(missing) = %+v", none)
	}

	n, err := s.PruneTurns(ctx, time.Now().Add(time.Hour))
	mustNoErr(t, err)
	if n != 5 {
		t.Errorf("PruneTurns = %d, want 5", n)
	}
}

func testGroups(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, ok, err := s.GetGroupTitle(ctx, 10); err != nil || ok {
		t.Fatalf("GetGroupTitle(unknown) = ok %v, err %v", ok, err)
	}
	mustNoErr(t, s.UpsertGroup(ctx, 10, "Team"))
	mustNoErr(t, s.UpsertGroup(ctx, 10, "Team renamed"))
	if title, ok, _ := s.GetGroupTitle(ctx, 10); !ok || title != "Team renamed" {
		t.Errorf("GetGroupTitle = %q, %v", title, ok)
	}

	if _, err := s.GetGroupRole(ctx, 10, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetGroupRole(unknown) = %v, want ErrNotFound", err)
	}

	gr := store.GroupRole{
		GroupID:              10,
		RoleID:               1,
		SystemPromptOverride: Ptr(""),
		ModelOverride:        "p:m",
		UserPromptSuffix:     "be brief",
		UserReplyPrefix:      "context:",
		DisplayName:          "Helper",
		Active:               true,
	}
	mustNoErr(t, s.SetGroupRole(ctx, gr))
	mustNoErr(t, s.SetGroupRole(ctx, store.GroupRole{GroupID: 10, RoleID: 2, Active: false}))
	mustNoErr(t, s.SetGroupRole(ctx, store.GroupRole{GroupID: 10, RoleID: 3, Active: true}))

	got, err := s.GetGroupRole(ctx, 10, 1)
	mustNoErr(t, err)
	if got.SystemPromptOverride == nil || *got.SystemPromptOverride != "" {
		t.Errorf("empty override not preserved: %v", got.SystemPromptOverride)
	}
	if got.ModelOverride != "p:m" || got.UserPromptSuffix != "be brief" || got.DisplayName != "Helper" {
		t.Errorf("GetGroupRole = %+v", got)
	}
	unset, _ := s.GetGroupRole(ctx, 10, 3)
	if unset.SystemPromptOverride != nil {
		t.Errorf("unset override = %q, want nil", *unset.SystemPromptOverride)
	}

	list, err := s.ListGroupRoles(ctx, 10)
	mustNoErr(t, err)
	if len(list) != 2 || list[0].RoleID != 1 || list[1].RoleID != 3 {
		t.Errorf("ListGroupRoles = %+v, want active roles 1 and 3", list)
	}
}

func testRoles(t *testing.T, s store.Store) {
	ctx := context.Background()

	coder, err := s.UpsertRole(ctx, store.Role{Name: "coder", BaseSystemPrompt: "You code.", Active: true})
	mustNoErr(t, err)
	if coder.ID == 0 {
		t.Fatal("UpsertRole did not assign an id")
	}
	writer, err := s.UpsertRole(ctx, store.Role{Name: "writer", ExtraInstruction: "Be vivid.", Model: "p:m", Active: true})
	mustNoErr(t, err)

	updated, err := s.UpsertRole(ctx, store.Role{Name: "coder", BaseSystemPrompt: "You write Go.", Active: true})
	mustNoErr(t, err)
	if updated.ID != coder.ID {
		t.Errorf("upsert by name changed id: %d -> %d", coder.ID, updated.ID)
	}

	got, err := s.GetRole(ctx, coder.ID)
	mustNoErr(t, err)
	if got.BaseSystemPrompt != "You write Go." {
		t.Errorf("GetRole = %+v", got)
	}
	byName, err := s.GetRoleByName(ctx, "WRITER")
	mustNoErr(t, err)
	if byName.ID != writer.ID || byName.Model != "p:m" || byName.ExtraInstruction != "Be vivid." {
		t.Errorf("GetRoleByName = %+v", byName)
	}
	if _, err := s.GetRoleByName(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRoleByName(unknown) = %v", err)
	}
	if _, err := s.GetRole(ctx, 9999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRole(unknown) = %v", err)
	}

	roles, err := s.ListRoles(ctx)
	mustNoErr(t, err)
	if len(roles) != 2 || roles[0].Name != "coder" || roles[1].Name != "writer" {
		t.Errorf("ListRoles = %+v", roles)
	}
}

func testPending(t *testing.T, s store.Store) {
	ctx := context.Background()

	if _, err := s.GetPendingField(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetPendingField(empty) = %v", err)
	}

	mustNoErr(t, s.SavePendingField(ctx, store.PendingField{
		UserID: 1, ChatID: -100, ProviderID: "p", Key: "token", Prompt: "token?",
		RoleID: Ptr[int64](5), Content: "hello", ReplyText: "quoted", RoleName: "coder", MessageID: 42,
	}))
	mustNoErr(t, s.SavePendingField(ctx, store.PendingField{
		UserID: 1, ChatID: -100, ProviderID: "p", Key: "org", Prompt: "org?", Content: "again",
	}))

	got, err := s.GetPendingField(ctx, 1)
	mustNoErr(t, err)
	if got.Key != "org" || got.RoleID != nil || got.Content != "again" || got.ChatID != -100 {
		t.Errorf("GetPendingField = %+v, want the latest request", got)
	}

	mustNoErr(t, s.DeletePendingField(ctx, 1))
	if _, err := s.GetPendingField(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetPendingField after delete = %v", err)
	}
}

func contents(turns []store.Turn) string {
	var out string
	for _, t := range turns {
		out += t.Content
	}
	return out
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
