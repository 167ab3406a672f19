package server

import (
	"context"
	"sort"
	"sync"

	"github.com/mackeh/WardClaw/internal/approval"
)

// PendingStore parks approval requests until an API client resolves
// them. It implements approval.Approver, so it can be installed as the
// manager's approval handler: Approve blocks the decision until a
// verdict arrives over HTTP or the caller's context ends.
type PendingStore struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
}

type pendingApproval struct {
	req     approval.Request
	verdict chan approval.Verdict
}

// NewPendingStore creates an empty pending-approval store.
func NewPendingStore() *PendingStore {
	return &PendingStore{pending: make(map[string]*pendingApproval)}
}

// Approve implements approval.Approver. The request stays listed until
// resolved; a cancelled context withdraws it and denies.
func (s *PendingStore) Approve(ctx context.Context, req approval.Request) (approval.Verdict, error) {
	p := &pendingApproval{
		req:     req,
		verdict: make(chan approval.Verdict, 1),
	}

	s.mu.Lock()
	s.pending[req.ID] = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()

	select {
	case v := <-p.verdict:
		return v, nil
	case <-ctx.Done():
		return approval.VerdictDeny, ctx.Err()
	}
}

// List returns the currently pending requests, oldest first.
func (s *PendingStore) List() []approval.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]approval.Request, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Len returns the number of pending requests.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Resolve delivers a verdict for a pending request. It reports false
// when the request is unknown or already resolved.
func (s *PendingStore) Resolve(id string, v approval.Verdict) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	p.verdict <- v
	return true
}
