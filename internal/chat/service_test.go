package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/flemzord/rolegate/internal/store"
)

func TestHandle_SendsOnNewSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.authorize(t)
	_ = e.store.UpsertGroup(context.Background(), -100, "Team")
	role := e.addRole(t, -100, "coder", "alpha:m2")

	reply, err := e.service.Handle(context.Background(), Request{UserID: 7, ChatID: -100, Role: role, Content: "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "echo: hello" || reply.SessionID != "s1" || reply.Model != "alpha:m2" || reply.Recovered {
		t.Errorf("Handle() = %+v", reply)
	}

	sends, _ := e.provider.Snapshot()
	if len(sends) != 1 || sends[0].Model != "m2" {
		t.Errorf("sends = %+v, want one with model m2", sends)
	}
	if renames := e.provider.Renamed(); len(renames) != 1 || renames[0] != "Team / @coder" {
		t.Errorf("renames = %v", renames)
	}
}

func TestHandle_ConcurrentCallsShareOneSession(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	e.authorize(t)
	role := e.addRole(t, 10, "coder", "alpha:m1")

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := e.service.Handle(context.Background(), Request{UserID: 1, ChatID: 10, Role: role, Content: "hi"})
			ids[i], errs[i] = reply.SessionID, err
		}()
	}
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("Handle #%d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("session ids differ: %q vs %q", ids[i], ids[0])
		}
	}
	if renames := e.provider.Renamed(); len(renames) != 1 {
		t.Errorf("created %d remote sessions, want 1", len(renames))
	}
	if sends, _ := e.provider.Snapshot(); len(sends) != callers {
		t.Errorf("sends = %d, want %d", len(sends), callers)
	}
}

func TestHandle_ComposesGroupSections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.authorize(t)
	role := e.addRole(t, -1, "coder", "alpha:m1")
	_ = e.store.SetGroupRole(ctx, store.GroupRole{
		GroupID: -1, RoleID: role.ID, Active: true,
		UserPromptSuffix: "Answer in French.", UserReplyPrefix: "About this:",
	})

	reply, err := e.service.Handle(ctx, Request{UserID: 1, ChatID: -1, Role: role, Content: "why?", ReplyText: "quoted"})
	if err != nil {
		t.Fatal(err)
	}
	want := "echo: #GENERAL_INSTRUCTIONS\n\nAnswer in French.\n\n#CONTEXT_INSTRUCTIONS\n\nAbout this:\n\n#CONTEXT\n\nquoted\n\n#USER_REQUEST\n\nwhy?"
	if reply.Text != want {
		t.Errorf("Text = %q, want %q", reply.Text, want)
	}
}

func TestHandle_MissingFieldRecordsPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	role := e.addRole(t, -5, "coder", "alpha:m1")

	reply, err := e.service.Handle(ctx, Request{
		UserID: 7, ChatID: -5, MessageID: 42, Role: role,
		Content: "hello", ReplyText: "quoted", AllRoles: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if reply.NeedsField == nil || reply.NeedsField.Key != AuthTokenField || reply.NeedsField.Prompt != "Send your alpha token" {
		t.Fatalf("NeedsField = %+v", reply.NeedsField)
	}
	if _, calls := e.provider.Snapshot(); calls != 0 {
		t.Errorf("provider calls = %d, want 0", calls)
	}

	p, err := e.store.GetPendingField(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if p.ProviderID != "alpha" || p.RoleName != "all" || p.MessageID != 42 || p.Content != "hello" || p.ReplyText != "quoted" || p.RoleID != nil {
		t.Errorf("pending = %+v", p)
	}

	stored, err := e.service.SubmitField(ctx, 7, "  "+validToken+"  ")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Key != AuthTokenField {
		t.Errorf("SubmitField() = %+v", stored)
	}
	if v, ok, _ := e.store.GetUserField(ctx, "alpha", AuthTokenField, nil); !ok || v != validToken {
		t.Errorf("stored field = %q, %v", v, ok)
	}
	if _, err := e.store.GetPendingField(ctx, 7); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("pending not cleared: %v", err)
	}

	reply, err = e.service.Handle(ctx, Request{UserID: 7, ChatID: -5, Role: role, Content: "hello"})
	if err != nil || reply.Text != "echo: hello" {
		t.Errorf("Handle() after submit = %+v, %v", reply, err)
	}
}

func TestHandle_RecoversStaleSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	e.authorize(t)
	role := e.addRole(t, -2, "coder", "alpha:m1")
	_ = e.store.SaveSession(ctx, store.SessionKey{UserID: 3, GroupID: -2, RoleID: role.ID}, "gone")

	reply, err := e.service.Handle(ctx, Request{UserID: 3, ChatID: -2, Role: role, Content: "still there?"})
	if err != nil {
		t.Fatal(err)
	}
	if !reply.Recovered || reply.SessionID != "s1" || reply.Text != "echo: still there?" {
		t.Errorf("Handle() = %+v", reply)
	}
	if got, _ := e.store.GetSession(ctx, store.SessionKey{UserID: 3, GroupID: -2, RoleID: role.ID}); got.SessionID != "s1" {
		t.Errorf("mapping = %q, want s1", got.SessionID)
	}
}

func TestHandle_UnauthorizedIsReturned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	_ = e.store.SetUserField(ctx, "alpha", AuthTokenField, nil, "wrong-token")
	role := e.addRole(t, -2, "coder", "alpha:m1")

	if _, err := e.service.Handle(ctx, Request{UserID: 3, ChatID: -2, Role: role, Content: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolveModel_Precedence(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	role := store.Role{Name: "r", Model: "alpha:m1"}
	tests := []struct {
		name     string
		explicit string
		override string
		want     string
	}{
		{"role model", "", "", "alpha:m1"},
		{"group override", "", "alpha:m2", "alpha:m2"},
		{"explicit wins", "alpha:m2", "alpha:m1", "alpha:m2"},
		{"bare provider id", "alpha", "", "alpha"},
		{"unknown falls back", "zeta:x", "", "alpha:m1"},
	}
	for _, tt := range tests {
		got := e.service.ResolveModel(tt.explicit, store.GroupRole{ModelOverride: tt.override}, role)
		if got != tt.want {
			t.Errorf("%s: ResolveModel() = %q, want %q", tt.name, got, tt.want)
		}
	}
	if got := e.service.ResolveModel("", store.GroupRole{}, store.Role{}); got != "alpha:m1" {
		t.Errorf("ResolveModel() without selection = %q, want first model", got)
	}
}

func TestRequiresAuth(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	if !e.service.RequiresAuth("alpha:m1") {
		t.Error("bearer provider must require auth")
	}
	if !e.service.RequiresAuth("zeta:m1") {
		t.Error("unknown provider must require auth")
	}
}

func TestAuthorize(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	role := e.addRole(t, -9, "coder", "alpha:m1")

	token, err := e.service.Authorize(ctx, AuthRequest{
		UserID: 4, GroupID: -9, ModelRef: "alpha:m1",
		Token: "Cookie: sessionid=" + validToken + "; Path=/",
	})
	if err != nil {
		t.Fatal(err)
	}
	if token != validToken {
		t.Errorf("Authorize() = %q", token)
	}
	if v, ok, _ := e.store.GetUserField(ctx, "alpha", AuthTokenField, nil); !ok || v != validToken {
		t.Errorf("stored token = %q, %v", v, ok)
	}
	if s, err := e.store.GetSession(ctx, store.SessionKey{UserID: 4, GroupID: -9, RoleID: role.ID}); err != nil || s.SessionID != "s1" {
		t.Errorf("warmed session = %+v, %v", s, err)
	}
}

func TestAuthorize_RejectedToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)

	_, err := e.service.Authorize(ctx, AuthRequest{UserID: 4, ModelRef: "alpha:m1", Token: "bogus-token"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if _, ok, _ := e.store.GetUserField(ctx, "alpha", AuthTokenField, nil); ok {
		t.Error("rejected token was kept")
	}
}

func TestSubmitField_Errors(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	if _, err := e.service.SubmitField(context.Background(), 1, "value"); !errors.Is(err, ErrNoPendingField) {
		t.Errorf("error = %v, want ErrNoPendingField", err)
	}
	if _, err := e.service.SubmitField(context.Background(), 1, "   "); !errors.Is(err, ErrEmptyField) {
		t.Errorf("error = %v, want ErrEmptyField", err)
	}
}

func TestRolesFor_SkipsInactiveRoles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEnv(t)
	active := e.addRole(t, -3, "coder", "")
	idle, _ := e.store.UpsertRole(ctx, store.Role{Name: "idle"})
	_ = e.store.SetGroupRole(ctx, store.GroupRole{GroupID: -3, RoleID: idle.ID, Active: true})

	roles, err := e.service.RolesFor(ctx, -3)
	if err != nil {
		t.Fatal(err)
	}
	if len(roles) != 1 || roles[0].ID != active.ID {
		t.Errorf("RolesFor() = %+v", roles)
	}
}
