package middleware

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"

	"github.com/vendi-market/vendi/internal/http/webctx"
	"github.com/vendi-market/vendi/internal/security"
)

const flashTTL = 10 * time.Minute

// FlashCodec stores one-shot messages in a signed cookie between a redirect
// and the page that follows it.
type FlashCodec struct {
	signer *security.CookieSigner
	policy security.CookiePolicy
	name   string
}

func NewFlashCodec(signer *security.CookieSigner, policy security.CookiePolicy, name string) *FlashCodec {
	return &FlashCodec{signer: signer, policy: policy, name: name}
}

func (c *FlashCodec) Encode(flashes []webctx.Flash) (string, error) {
	payload, err := json.Marshal(flashes)
	if err != nil {
		return "", fmt.Errorf("encode flashes: %w", err)
	}
	return c.signer.Sign(security.PurposeFlash, string(payload), flashTTL)
}

func (c *FlashCodec) Decode(raw string) ([]webctx.Flash, error) {
	payload, err := c.signer.Verify(security.PurposeFlash, raw)
	if err != nil {
		return nil, err
	}
	var flashes []webctx.Flash
	if err := json.Unmarshal([]byte(payload), &flashes); err != nil {
		return nil, fmt.Errorf("decode flashes: %w", err)
	}
	return flashes, nil
}

// Flash loads the incoming flash cookie into the request context and, just
// before the response header is written, stores queued flashes or clears the
// consumed cookie. Redirects carry unread incoming flashes forward.
func Flash(codec *FlashCodec) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc, r := ensureRequestContext(r)
			raw := security.GetCookie(r, codec.name)
			if raw != "" {
				flashes, err := codec.Decode(raw)
				if err != nil {
					slog.DebugContext(r.Context(), "flash cookie rejected", "error", err)
				}
				rc.SetIncoming(flashes)
			}

			var once sync.Once
			commit := func(status int) {
				once.Do(func() {
					out := rc.Pending()
					if status >= 300 && status < 400 {
						out = append(carried(rc), out...)
					}
					if len(out) > 0 {
						value, err := codec.Encode(out)
						if err != nil {
							slog.ErrorContext(r.Context(), "flash cookie encode failed", "error", err)
							return
						}
						codec.policy.SetSession(w, codec.name, value)
						return
					}
					if raw != "" {
						codec.policy.Clear(w, codec.name)
					}
				})
			}

			wrapped := httpsnoop.Wrap(w, httpsnoop.Hooks{
				WriteHeader: func(nextWriteHeader httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
					return func(code int) {
						commit(code)
						nextWriteHeader(code)
					}
				},
				Write: func(nextWrite httpsnoop.WriteFunc) httpsnoop.WriteFunc {
					return func(b []byte) (int, error) {
						commit(http.StatusOK)
						return nextWrite(b)
					}
				},
				ReadFrom: func(nextReadFrom httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
					return func(src io.Reader) (int64, error) {
						commit(http.StatusOK)
						return nextReadFrom(src)
					}
				},
			})
			next.ServeHTTP(wrapped, r)
			commit(http.StatusOK)
		})
	}
}

func carried(rc *webctx.RequestContext) []webctx.Flash {
	var out []webctx.Flash
	for _, kind := range []webctx.FlashKind{webctx.FlashError, webctx.FlashSuccess} {
		for _, msg := range rc.Flashes(kind) {
			out = append(out, webctx.Flash{Kind: kind, Message: msg})
		}
	}
	return out
}
