// Package webctx carries the per-request view state: who is calling, the
// flash messages to show and the CSRF token for forms.
package webctx

import (
	"context"
	"sync"

	"github.com/vendi-market/vendi/internal/domain"
)

type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
)

type Flash struct {
	Kind    FlashKind `json:"k"`
	Message string    `json:"m"`
}

// RequestContext is built once per request by the identity and flash
// middleware and read by handlers and templates.
type RequestContext struct {
	Identity  *domain.Identity
	CSRFToken string

	// SessionID and RememberValue are the credentials in effect after
	// resolution, including any minted while serving this request.
	SessionID     string
	RememberValue string

	mu       sync.Mutex
	incoming []Flash
	pending  []Flash
}

type contextKey struct{}

func New() *RequestContext {
	return &RequestContext{}
}

func With(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// From returns the request context stored in ctx. A request that bypassed
// the middleware gets an empty, unauthenticated context.
func From(ctx context.Context) *RequestContext {
	if rc, ok := Lookup(ctx); ok {
		return rc
	}
	return New()
}

func Lookup(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}

func (rc *RequestContext) IsAuthenticated() bool {
	return rc != nil && rc.Identity != nil
}

// SetIncoming records the flashes carried over from the previous response.
func (rc *RequestContext) SetIncoming(flashes []Flash) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.incoming = append([]Flash(nil), flashes...)
}

// Flashes returns the messages to display on this response.
func (rc *RequestContext) Flashes(kind FlashKind) []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	var out []string
	for _, f := range rc.incoming {
		if f.Kind == kind {
			out = append(out, f.Message)
		}
	}
	return out
}

func (rc *RequestContext) HasIncoming() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.incoming) > 0
}

// AddFlash queues a message for the next page the client loads.
func (rc *RequestContext) AddFlash(kind FlashKind, message string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.pending = append(rc.pending, Flash{Kind: kind, Message: message})
}

func (rc *RequestContext) Pending() []Flash {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]Flash(nil), rc.pending...)
}
