package permission

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"
)

const sessionClearedReason = "Session cleared"

// Notifier observes newly registered pending requests, typically to
// surface an approval prompt in the UI.
type Notifier func(Info)

// Service is the permission gate. It owns per-session pending requests and
// approved patterns, consults the workspace store for durable approvals,
// and suspends Ask callers until a decision arrives.
//
// Each caller constructs its own Service; there is no ambient instance.
type Service struct {
	mu        sync.Mutex
	sessions  map[string]*sessionState
	workspace WorkspaceStore
	notify    Notifier

	// autoApprove short-circuits every Ask. Intended for CI/container runs
	// where nobody can answer a prompt.
	autoApprove bool
}

type sessionState struct {
	pending  map[string]*pendingRequest
	approved map[string]struct{}
}

type pendingRequest struct {
	req  Request
	done chan error
}

// Option configures a Service.
type Option func(*Service)

// WithWorkspaceStore wires durable per-directory approvals.
func WithWorkspaceStore(store WorkspaceStore) Option {
	return func(s *Service) { s.workspace = store }
}

// WithNotifier registers the pending-request observer.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notify = n }
}

// WithAutoApprove enables auto-approval of every request and prints a
// warning when attached to a terminal.
func WithAutoApprove(enabled bool) Option {
	return func(s *Service) {
		s.autoApprove = enabled
		if enabled && term.IsTerminal(int(os.Stderr.Fd())) {
			fmt.Fprintf(os.Stderr, "warning: auto-approve enabled - all tool operations proceed without prompting\n")
		}
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask requests approval and blocks until the request is resolved, rejected,
// the session is cleared, or ctx is done. A nil return means approved.
func (s *Service) Ask(ctx context.Context, req Request) error {
	if s.autoApprove {
		return nil
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	keys := req.Keys()

	s.mu.Lock()

	// Durable workspace approvals take precedence over session state.
	if req.WorkingDirectory != "" && s.workspace != nil {
		patterns, err := s.workspace.Approved(req.WorkingDirectory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: workspace approval lookup failed: %v\n", err)
		} else if coveredBy(patterns, keys) {
			s.mu.Unlock()
			return nil
		}
	}

	sess := s.session(req.SessionID)
	if covered(sess.approved, keys) {
		s.mu.Unlock()
		return nil
	}

	if _, exists := sess.pending[req.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("permission request %s already pending", req.ID)
	}

	pending := &pendingRequest{
		req:  req,
		done: make(chan error, 1),
	}
	sess.pending[req.ID] = pending
	notify := s.notify
	info := requestInfo(req)
	s.mu.Unlock()

	if notify != nil {
		notify(info)
	}

	select {
	case err := <-pending.done:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		if sess, ok := s.sessions[req.SessionID]; ok {
			delete(sess.pending, req.ID)
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Respond resolves or rejects a pending request. It returns false when the
// id is unknown or already resolved; responding twice to the same id fails
// the second time with no side effects.
func (s *Service) Respond(sessionID, id string, decision Decision, reason string) bool {
	decision = normalizeDecision(decision)

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	pending, ok := sess.pending[id]
	if !ok {
		return false
	}

	switch decision {
	case DecisionOnce:
		s.resolveLocked(sess, pending, nil)

	case DecisionSession:
		for _, key := range pending.req.Keys() {
			sess.approved[key] = struct{}{}
		}
		s.resolveLocked(sess, pending, nil)
		s.sweepSessionLocked(sess)

	case DecisionWorkspace:
		dir := pending.req.WorkingDirectory
		if dir != "" && s.workspace != nil {
			if err := s.workspace.Approve(dir, pending.req.Keys()); err != nil {
				fmt.Fprintf(os.Stderr, "warning: persist workspace approval failed: %v\n", err)
			}
		}
		s.resolveLocked(sess, pending, nil)
		s.sweepWorkspaceLocked(dir)

	case DecisionReject:
		if reason == "" {
			reason = defaultRejectReason
		}
		s.resolveLocked(sess, pending, &Error{
			SessionID:    sessionID,
			PermissionID: id,
			CallID:       pending.req.CallID,
			Reason:       reason,
		})

	default:
		return false
	}

	return true
}

// GetPending returns the session's outstanding requests in creation order.
func (s *Service) GetPending(sessionID string) []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}

	out := make([]Info, 0, len(sess.pending))
	for _, pending := range sess.pending {
		out = append(out, requestInfo(pending.req))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ClearSession rejects every pending request in the session and discards
// its session-scoped approvals.
func (s *Service) ClearSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	for id, pending := range sess.pending {
		pending.done <- &Error{
			SessionID:    sessionID,
			PermissionID: id,
			CallID:       pending.req.CallID,
			Reason:       sessionClearedReason,
		}
	}
	delete(s.sessions, sessionID)
}

// session returns the state for a session, creating it on first use.
// Caller must hold s.mu.
func (s *Service) session(sessionID string) *sessionState {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &sessionState{
			pending:  make(map[string]*pendingRequest),
			approved: make(map[string]struct{}),
		}
		s.sessions[sessionID] = sess
	}
	return sess
}

// resolveLocked completes one pending request. Caller must hold s.mu.
func (s *Service) resolveLocked(sess *sessionState, pending *pendingRequest, err error) {
	delete(sess.pending, pending.req.ID)
	pending.done <- err
}

// sweepSessionLocked resolves any pending request now fully covered by the
// session's approved set. Caller must hold s.mu.
func (s *Service) sweepSessionLocked(sess *sessionState) {
	for _, pending := range pendingSnapshot(sess) {
		if covered(sess.approved, pending.req.Keys()) {
			s.resolveLocked(sess, pending, nil)
		}
	}
}

// sweepWorkspaceLocked resolves pending requests in any session whose
// working directory now carries covering durable approvals. Caller must
// hold s.mu.
func (s *Service) sweepWorkspaceLocked(dir string) {
	if dir == "" || s.workspace == nil {
		return
	}
	key := WorkspaceKey(dir)
	for _, sess := range s.sessions {
		for _, pending := range pendingSnapshot(sess) {
			if pending.req.WorkingDirectory == "" {
				continue
			}
			if WorkspaceKey(pending.req.WorkingDirectory) != key {
				continue
			}
			patterns, err := s.workspace.Approved(pending.req.WorkingDirectory)
			if err != nil {
				continue
			}
			if coveredBy(patterns, pending.req.Keys()) {
				s.resolveLocked(sess, pending, nil)
			}
		}
	}
}

// pendingSnapshot copies the pending set so resolution can mutate the map
// while iterating.
func pendingSnapshot(sess *sessionState) []*pendingRequest {
	out := make([]*pendingRequest, 0, len(sess.pending))
	for _, pending := range sess.pending {
		out = append(out, pending)
	}
	return out
}

func requestInfo(req Request) Info {
	return Info{
		ID:               req.ID,
		Type:             req.Type,
		Patterns:         append([]string(nil), req.Patterns...),
		SessionID:        req.SessionID,
		MessageID:        req.MessageID,
		CallID:           req.CallID,
		Title:            req.Title,
		Metadata:         req.Metadata,
		CreatedAt:        req.CreatedAt,
		WorkingDirectory: req.WorkingDirectory,
	}
}
