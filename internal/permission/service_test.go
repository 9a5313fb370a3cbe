package permission

import (
	"context"
	"testing"
	"time"
)

func askAsync(svc *Service, req Request) chan error {
	ch := make(chan error, 1)
	go func() { ch <- svc.Ask(context.Background(), req) }()
	return ch
}

func waitErr(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Ask to return")
		return nil
	}
}

func waitNotify(t *testing.T, ch chan Info) Info {
	t.Helper()
	select {
	case info := <-ch:
		return info
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pending notification")
		return Info{}
	}
}

func TestRespondUnknownID(t *testing.T) {
	svc := NewService()
	if svc.Respond("sess", "missing", DecisionOnce, "") {
		t.Fatal("responding to an unknown id should report failure")
	}
}

func TestAskOnceApproval(t *testing.T) {
	notify := make(chan Info, 4)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{
		Type:      TypeBash,
		Patterns:  []string{"bash:git"},
		SessionID: "s1",
	})
	info := waitNotify(t, notify)

	if !svc.Respond("s1", info.ID, DecisionOnce, "") {
		t.Fatal("respond should succeed for a pending request")
	}
	if err := waitErr(t, done); err != nil {
		t.Fatalf("once approval should resolve the ask, got %v", err)
	}

	// Once does not persist: the same pattern prompts again.
	done = askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	info = waitNotify(t, notify)
	svc.Respond("s1", info.ID, DecisionReject, "")
	if err := waitErr(t, done); err == nil {
		t.Fatal("rejected ask should return an error")
	}
}

func TestDoubleRespond(t *testing.T) {
	notify := make(chan Info, 1)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	info := waitNotify(t, notify)

	if !svc.Respond("s1", info.ID, DecisionOnce, "") {
		t.Fatal("first respond should succeed")
	}
	if svc.Respond("s1", info.ID, DecisionOnce, "") {
		t.Fatal("second respond to the same id should fail")
	}
	if err := waitErr(t, done); err != nil {
		t.Fatalf("unexpected ask error: %v", err)
	}
}

func TestSessionApprovalCoversLaterAsks(t *testing.T) {
	notify := make(chan Info, 4)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	info := waitNotify(t, notify)
	svc.Respond("s1", info.ID, DecisionSession, "")
	if err := waitErr(t, done); err != nil {
		t.Fatalf("session approval should resolve the ask, got %v", err)
	}

	// Same key in the same session proceeds without prompting.
	if err := svc.Ask(context.Background(), Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"}); err != nil {
		t.Fatalf("covered ask should proceed silently, got %v", err)
	}
	if len(notify) != 0 {
		t.Fatal("covered ask should not broadcast a pending request")
	}
}

func TestSessionApprovalResolvesPendingRetroactively(t *testing.T) {
	notify := make(chan Info, 4)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	doneA := askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	infoA := waitNotify(t, notify)
	doneB := askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	waitNotify(t, notify)

	svc.Respond("s1", infoA.ID, DecisionSession, "")

	if err := waitErr(t, doneA); err != nil {
		t.Fatalf("responded ask should resolve, got %v", err)
	}
	if err := waitErr(t, doneB); err != nil {
		t.Fatalf("pending ask covered by the new approval should resolve, got %v", err)
	}
}

func TestSessionApprovalIsolatedAcrossSessions(t *testing.T) {
	notify := make(chan Info, 4)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	info := waitNotify(t, notify)
	svc.Respond("s1", info.ID, DecisionSession, "")
	waitErr(t, done)

	// The other session is not covered and must prompt.
	done = askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s2"})
	info = waitNotify(t, notify)
	if info.SessionID != "s2" {
		t.Fatalf("expected pending request in s2, got %s", info.SessionID)
	}
	svc.Respond("s2", info.ID, DecisionReject, "")
	if err := waitErr(t, done); err == nil {
		t.Fatal("uncovered session should not inherit the approval")
	}
}

func TestWildcardPatternCoverage(t *testing.T) {
	notify := make(chan Info, 4)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:*"}, SessionID: "s1"})
	info := waitNotify(t, notify)
	svc.Respond("s1", info.ID, DecisionSession, "")
	waitErr(t, done)

	if err := svc.Ask(context.Background(), Request{Type: TypeBash, Patterns: []string{"bash:run"}, SessionID: "s1"}); err != nil {
		t.Fatalf("bash:* should cover bash:run, got %v", err)
	}

	// A different type prefix is not covered.
	done = askAsync(svc, Request{Type: TypeRead, Patterns: []string{"read:/tmp/*"}, SessionID: "s1"})
	info = waitNotify(t, notify)
	svc.Respond("s1", info.ID, DecisionReject, "")
	if err := waitErr(t, done); err == nil {
		t.Fatal("bash:* must not cover read keys")
	}
}

func TestLegacyAlwaysNormalizesToSession(t *testing.T) {
	notify := make(chan Info, 2)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	info := waitNotify(t, notify)
	if !svc.Respond("s1", info.ID, Decision("always"), "") {
		t.Fatal("legacy always decision should be accepted")
	}
	waitErr(t, done)

	if err := svc.Ask(context.Background(), Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"}); err != nil {
		t.Fatalf("always should behave as a session approval, got %v", err)
	}
}

func TestWorkspaceApprovalSharedAcrossSessions(t *testing.T) {
	notify := make(chan Info, 4)
	store := NewMemoryWorkspaceStore()
	svc := NewService(WithWorkspaceStore(store), WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{
		Type:             TypeBash,
		Patterns:         []string{"bash:git"},
		SessionID:        "s1",
		WorkingDirectory: "/tmp/project",
	})
	info := waitNotify(t, notify)
	svc.Respond("s1", info.ID, DecisionWorkspace, "")
	waitErr(t, done)

	// A different session in the same directory is covered.
	err := svc.Ask(context.Background(), Request{
		Type:             TypeBash,
		Patterns:         []string{"bash:git"},
		SessionID:        "s2",
		WorkingDirectory: "/tmp/project",
	})
	if err != nil {
		t.Fatalf("workspace approval should cover other sessions, got %v", err)
	}

	// Path normalization: case and trailing slash do not matter.
	err = svc.Ask(context.Background(), Request{
		Type:             TypeBash,
		Patterns:         []string{"bash:git"},
		SessionID:        "s3",
		WorkingDirectory: "/Tmp/Project/",
	})
	if err != nil {
		t.Fatalf("normalized path should map to the same workspace, got %v", err)
	}
}

func TestWorkspaceApprovalResolvesPendingInOtherSessions(t *testing.T) {
	notify := make(chan Info, 4)
	store := NewMemoryWorkspaceStore()
	svc := NewService(WithWorkspaceStore(store), WithNotifier(func(i Info) { notify <- i }))

	doneA := askAsync(svc, Request{
		Type: TypeBash, Patterns: []string{"bash:git"},
		SessionID: "s1", WorkingDirectory: "/tmp/project",
	})
	infoA := waitNotify(t, notify)
	doneB := askAsync(svc, Request{
		Type: TypeBash, Patterns: []string{"bash:git"},
		SessionID: "s2", WorkingDirectory: "/tmp/project",
	})
	waitNotify(t, notify)

	svc.Respond("s1", infoA.ID, DecisionWorkspace, "")

	if err := waitErr(t, doneA); err != nil {
		t.Fatalf("responded ask should resolve, got %v", err)
	}
	if err := waitErr(t, doneB); err != nil {
		t.Fatalf("pending ask in the same workspace should resolve, got %v", err)
	}
}

func TestRejectCarriesReasonAndIdentity(t *testing.T) {
	notify := make(chan Info, 1)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{
		Type: TypeBash, Patterns: []string{"bash:rm"},
		SessionID: "s1", CallID: "call_9",
	})
	info := waitNotify(t, notify)
	svc.Respond("s1", info.ID, DecisionReject, "too risky")

	err := waitErr(t, done)
	permErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if permErr.Reason != "too risky" || permErr.CallID != "call_9" || permErr.SessionID != "s1" {
		t.Fatalf("unexpected rejection detail: %+v", permErr)
	}
}

func TestClearSessionRejectsPending(t *testing.T) {
	notify := make(chan Info, 2)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	done := askAsync(svc, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	waitNotify(t, notify)

	svc.ClearSession("s1")

	err := waitErr(t, done)
	permErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if permErr.Reason != "Session cleared" {
		t.Fatalf("expected Session cleared reason, got %q", permErr.Reason)
	}
	if got := svc.GetPending("s1"); len(got) != 0 {
		t.Fatalf("cleared session should have no pending requests, got %d", len(got))
	}
}

func TestAskContextCancellation(t *testing.T) {
	notify := make(chan Info, 1)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Ask(ctx, Request{Type: TypeBash, Patterns: []string{"bash:git"}, SessionID: "s1"})
	}()
	waitNotify(t, notify)

	cancel()
	if err := waitErr(t, done); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := svc.GetPending("s1"); len(got) != 0 {
		t.Fatalf("cancelled ask should be removed from pending, got %d", len(got))
	}
}

func TestGetPendingOrderedByCreation(t *testing.T) {
	notify := make(chan Info, 4)
	svc := NewService(WithNotifier(func(i Info) { notify <- i }))

	first := Request{ID: "a", Type: TypeBash, Patterns: []string{"bash:one"}, SessionID: "s1", CreatedAt: time.Now().Add(-time.Minute)}
	second := Request{ID: "b", Type: TypeBash, Patterns: []string{"bash:two"}, SessionID: "s1", CreatedAt: time.Now()}

	askAsync(svc, second)
	waitNotify(t, notify)
	askAsync(svc, first)
	waitNotify(t, notify)

	pending := svc.GetPending("s1")
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].ID != "a" || pending[1].ID != "b" {
		t.Fatalf("pending not ordered by creation time: %s, %s", pending[0].ID, pending[1].ID)
	}

	svc.ClearSession("s1")
}

func TestAutoApproveSkipsGate(t *testing.T) {
	svc := NewService(WithAutoApprove(true))
	if err := svc.Ask(context.Background(), Request{Type: TypeBash, Patterns: []string{"bash:rm"}, SessionID: "s1"}); err != nil {
		t.Fatalf("auto-approve should bypass the gate, got %v", err)
	}
}
