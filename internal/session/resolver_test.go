package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/flemzord/rolegate/internal/adapter"
	"github.com/flemzord/rolegate/internal/provider"
	"github.com/flemzord/rolegate/internal/store"
)

type sent struct {
	sessionID string
	content   string
	ref       string
}

// fakeAdapter records calls and answers from configured fields.
type fakeAdapter struct {
	mu sync.Mutex

	caps       map[provider.Capability]bool
	listed     []string
	listErr    error
	createIDs  []string
	createErr  error
	renameErr  error
	sendErr    error
	reply      string
	calls      int
	renames    []string
	sends      []sent
	createRefs []string
}

func (f *fakeAdapter) Supports(_ string, c provider.Capability) bool { return f.caps[c] }

func (f *fakeAdapter) ListSessions(context.Context, string, string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.listed, f.listErr
}

func (f *fakeAdapter) CreateSession(_ context.Context, _ string, _ map[string]string, _ *int64, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.createRefs = append(f.createRefs, ref)
	if f.createErr != nil {
		return "", f.createErr
	}
	id := f.createIDs[0]
	if len(f.createIDs) > 1 {
		f.createIDs = f.createIDs[1:]
	}
	return id, nil
}

func (f *fakeAdapter) RenameSession(_ context.Context, _, _, name string, _ *int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.renames = append(f.renames, name)
	return f.renameErr
}

func (f *fakeAdapter) SendMessage(_ context.Context, sessionID, _, content, ref string, _ *int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sends = append(f.sends, sent{sessionID: sessionID, content: content, ref: ref})
	return f.reply, f.sendErr
}

func remoteCaps() map[provider.Capability]bool {
	return map[provider.Capability]bool{
		provider.CapListSessions:  true,
		provider.CapCreateSession: true,
		provider.CapRenameSession: true,
	}
}

var coder = store.Role{ID: 3, Name: "coder", BaseSystemPrompt: "You write Go.", ExtraInstruction: "Be terse.", Model: "alpha:role"}

func newResolver(a *fakeAdapter, s *store.Memory) *Resolver {
	return NewResolver(Config{Adapter: a, Store: s})
}

func TestResolve_LocalSessionIsStableAndOffline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := &fakeAdapter{caps: map[provider.Capability]bool{}}
	s := store.NewMemory()
	r := newResolver(a, s)
	req := Request{UserID: 1, GroupID: 10, Role: coder}

	first, err := r.Resolve(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("Resolve() ids differ: %q then %q", first, second)
	}
	if len(first) != 32 || strings.Contains(first, "-") {
		t.Errorf("local id = %q, want 32 hex chars", first)
	}
	if a.calls != 0 {
		t.Errorf("adapter calls = %d, want 0", a.calls)
	}

	turns, _ := s.ListTurns(ctx, first, 0)
	if len(turns) != 1 || turns[0].Speaker != store.SpeakerSystem || turns[0].Content != "You write Go.\n\nBe terse." {
		t.Errorf("system turns = %+v", turns)
	}
}

func TestResolve_LocalSessionWithoutPromptHasNoSystemTurn(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	r := newResolver(&fakeAdapter{}, s)

	id, err := r.Resolve(ctx, Request{UserID: 1, GroupID: 10, Role: store.Role{ID: 9, Name: "plain"}})
	if err != nil {
		t.Fatal(err)
	}
	if turns, _ := s.ListTurns(ctx, id, 0); len(turns) != 0 {
		t.Errorf("turns = %+v, want none", turns)
	}
}

func TestResolve_RemoteCreatesRenamesPrimes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := &fakeAdapter{caps: remoteCaps(), createIDs: []string{"r-1"}, reply: "ok"}
	s := store.NewMemory()
	_ = s.UpsertGroup(ctx, 10, "Team")
	_ = s.SetGroupRole(ctx, store.GroupRole{GroupID: 10, RoleID: coder.ID, ModelOverride: "alpha:group", Active: true})
	r := newResolver(a, s)

	id, err := r.Resolve(ctx, Request{UserID: 1, GroupID: 10, Role: coder})
	if err != nil {
		t.Fatal(err)
	}
	if id != "r-1" {
		t.Errorf("Resolve() = %q", id)
	}
	if len(a.renames) != 1 || a.renames[0] != "Team / @coder" {
		t.Errorf("renames = %v", a.renames)
	}
	if len(a.sends) != 1 || a.sends[0].content != "You write Go.\n\nBe terse." || a.sends[0].ref != "alpha:group" {
		t.Errorf("priming sends = %+v", a.sends)
	}
	if stored, _ := s.GetSession(ctx, store.SessionKey{UserID: 1, GroupID: 10, RoleID: coder.ID}); stored.SessionID != "r-1" {
		t.Errorf("stored mapping = %+v", stored)
	}

	again, _ := r.Resolve(ctx, Request{UserID: 1, GroupID: 10, Role: coder})
	if again != "r-1" || len(a.createRefs) != 1 {
		t.Errorf("second Resolve() = %q after %d creates, want reuse", again, len(a.createRefs))
	}
}

func TestResolve_RenameAndPrimeFailuresAreSwallowed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := &fakeAdapter{
		caps:      remoteCaps(),
		createIDs: []string{"r-1"},
		renameErr: errors.New("rename broke"),
		sendErr:   &adapter.TransportError{StatusCode: http.StatusInternalServerError},
	}
	s := store.NewMemory()
	r := newResolver(a, s)

	id, err := r.Resolve(ctx, Request{UserID: 1, GroupID: 10, Role: coder})
	if err != nil || id != "r-1" {
		t.Fatalf("Resolve() = %q, %v; want r-1", id, err)
	}
	if a.renames[0] != "@coder" {
		t.Errorf("rename without group title = %q", a.renames[0])
	}
	if _, err := s.GetSession(ctx, store.SessionKey{UserID: 1, GroupID: 10, RoleID: coder.ID}); err != nil {
		t.Errorf("mapping not saved: %v", err)
	}
}

func TestResolve_EmptyPromptSkipsPriming(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := &fakeAdapter{caps: remoteCaps(), createIDs: []string{"r-1"}}
	s := store.NewMemory()
	_ = s.SetGroupRole(ctx, store.GroupRole{GroupID: 10, RoleID: 4, SystemPromptOverride: new(string), Active: true})
	r := newResolver(a, s)

	role := store.Role{ID: 4, Name: "blank", BaseSystemPrompt: "ignored by override"}
	if _, err := r.Resolve(ctx, Request{UserID: 1, GroupID: 10, Role: role}); err != nil {
		t.Fatal(err)
	}
	if len(a.sends) != 0 {
		t.Errorf("priming sent %+v, want none", a.sends)
	}
}

func TestResolve_CreateFailurePropagates(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{caps: remoteCaps(), createErr: errors.New("down")}
	s := store.NewMemory()
	r := newResolver(a, s)

	if _, err := r.Resolve(context.Background(), Request{UserID: 1, GroupID: 1, Role: coder}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.GetSession(context.Background(), store.SessionKey{UserID: 1, GroupID: 1, RoleID: coder.ID}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("mapping saved despite failure: %v", err)
	}
}

func TestResolve_ValiditySetReplacesUnknownSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := &fakeAdapter{caps: remoteCaps(), createIDs: []string{"fresh"}}
	s := store.NewMemory()
	key := store.SessionKey{UserID: 1, GroupID: 10, RoleID: coder.ID}
	_ = s.SaveSession(ctx, key, "old")
	r := newResolver(a, s)

	kept, _ := r.Resolve(ctx, Request{UserID: 1, GroupID: 10, Role: coder, ExistingSessionIDs: map[string]struct{}{"old": {}}})
	if kept != "old" {
		t.Errorf("Resolve() with old listed = %q, want old", kept)
	}

	replaced, _ := r.Resolve(ctx, Request{UserID: 1, GroupID: 10, Role: coder, ExistingSessionIDs: map[string]struct{}{}})
	if replaced != "fresh" {
		t.Errorf("Resolve() with old missing = %q, want fresh", replaced)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := &fakeAdapter{caps: remoteCaps(), listed: []string{"other"}, createIDs: []string{"new"}, reply: "answer"}
	s := store.NewMemory()
	_ = s.SaveSession(ctx, store.SessionKey{UserID: 1, GroupID: 10, RoleID: 5}, "stale")
	r := newResolver(a, s)

	role := store.Role{ID: 5, Name: "plain", Model: "alpha:m"}
	res, err := r.Recover(ctx, RecoveryRequest{
		Request:        Request{UserID: 1, GroupID: 10, Role: role},
		StaleSessionID: "stale",
		Content:        "original question",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.OldSessionID != "stale" || res.NewSessionID != "new" || res.Response != "answer" {
		t.Fatalf("Recover() = %+v", res)
	}
	if len(a.sends) != 1 || a.sends[0].sessionID != "new" || a.sends[0].content != "original question" || a.sends[0].ref != "alpha:m" {
		t.Errorf("resend = %+v", a.sends)
	}
}

func TestRecover_Aborts(t *testing.T) {
	t.Parallel()

	role := store.Role{ID: 5, Name: "plain"}
	tests := []struct {
		name      string
		adapter   *fakeAdapter
		wantSends int
	}{
		{"no list capability", &fakeAdapter{caps: map[provider.Capability]bool{provider.CapCreateSession: true}, createIDs: []string{"new"}}, 0},
		{"stale id still listed", &fakeAdapter{caps: remoteCaps(), listed: []string{"stale"}, createIDs: []string{"new"}}, 0},
		{"replacement equals stale", &fakeAdapter{caps: remoteCaps(), listed: []string{}, createIDs: []string{"stale"}}, 0},
		{"listing fails", &fakeAdapter{caps: remoteCaps(), listErr: errors.New("down"), createIDs: []string{"new"}}, 0},
		{"create fails", &fakeAdapter{caps: remoteCaps(), listed: []string{}, createErr: errors.New("boom")}, 0},
		{"resend fails", &fakeAdapter{
			caps: remoteCaps(), listed: []string{}, createIDs: []string{"new"},
			sendErr: &adapter.TransportError{StatusCode: http.StatusInternalServerError},
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newResolver(tt.adapter, store.NewMemory())
			res, err := r.Recover(context.Background(), RecoveryRequest{
				Request:        Request{UserID: 1, GroupID: 10, Role: role},
				StaleSessionID: "stale",
				Content:        "q",
			})
			if err != nil || res != nil {
				t.Errorf("Recover() = %+v, %v; want nil, nil", res, err)
			}
			if len(tt.adapter.sends) != tt.wantSends {
				t.Errorf("sends = %+v, want %d", tt.adapter.sends, tt.wantSends)
			}
		})
	}
}

func TestRecover_MissingFieldIsReturned(t *testing.T) {
	t.Parallel()

	a := &fakeAdapter{
		caps: remoteCaps(), listed: []string{}, createIDs: []string{"new"},
		sendErr: &adapter.MissingUserFieldError{ProviderID: "alpha", Field: provider.UserField{Key: "api_key"}},
	}
	r := newResolver(a, store.NewMemory())
	res, err := r.Recover(context.Background(), RecoveryRequest{
		Request:        Request{UserID: 1, GroupID: 10, Role: store.Role{ID: 5, Name: "plain"}},
		StaleSessionID: "stale",
		Content:        "q",
	})
	if res != nil {
		t.Errorf("Recover() result = %+v, want nil", res)
	}
	if _, ok := adapter.AsMissingUserField(err); !ok {
		t.Errorf("Recover() error = %v, want MissingUserFieldError", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	r := newResolver(&fakeAdapter{}, s)
	first, _ := r.Resolve(ctx, Request{UserID: 1, GroupID: 2, Role: coder})

	if err := r.Reset(ctx, 1, 2, coder.ID); err != nil {
		t.Fatal(err)
	}
	second, _ := r.Resolve(ctx, Request{UserID: 1, GroupID: 2, Role: coder})
	if first == second {
		t.Error("Reset did not force a new session")
	}
}

func TestCombinedPrompt(t *testing.T) {
	t.Parallel()

	empty := ""
	override := "  Group prompt "
	tests := []struct {
		name string
		role store.Role
		gr   store.GroupRole
		want string
	}{
		{"base and extra", store.Role{BaseSystemPrompt: "Base", ExtraInstruction: "Extra"}, store.GroupRole{}, "Base\n\nExtra"},
		{"override wins", store.Role{BaseSystemPrompt: "Base", ExtraInstruction: "Extra"}, store.GroupRole{SystemPromptOverride: &override}, "Group prompt\n\nExtra"},
		{"empty override drops base", store.Role{BaseSystemPrompt: "Base", ExtraInstruction: "Extra"}, store.GroupRole{SystemPromptOverride: &empty}, "Extra"},
		{"only base", store.Role{BaseSystemPrompt: " Base "}, store.GroupRole{}, "Base"},
		{"nothing", store.Role{}, store.GroupRole{}, ""},
	}
	for _, tt := range tests {
		if got := CombinedPrompt(tt.role, tt.gr); got != tt.want {
			t.Errorf("%s: CombinedPrompt() = %q, want %q", tt.name, got, tt.want)
		}
	}
}
