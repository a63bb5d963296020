// Package render turns page names into HTML using the embedded templates.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/vendi-market/vendi/internal/domain"
	"github.com/vendi-market/vendi/internal/http/webctx"
)

//go:embed templates
var templateFS embed.FS

const (
	PageHome           = "home"
	PageNotFound       = "not_found"
	PageLogin          = "auth/login"
	PageRegister       = "auth/register"
	PageForgotPassword = "auth/forgot_password"
	PageResetPassword  = "auth/reset_password"
	PageLogout         = "auth/logout"
	PageDashboard      = "user/dashboard"
	PageProfile        = "user/profile"
	PageSettings       = "user/settings"
	PagePostAd         = "user/post_ad"
	PageMyAds          = "user/my_ads"
	PageSavedItems     = "user/saved_items"
	PageChat           = "user/chat"
)

var pageNames = []string{
	PageHome, PageNotFound,
	PageLogin, PageRegister, PageForgotPassword, PageResetPassword, PageLogout,
	PageDashboard, PageProfile, PageSettings, PagePostAd, PageMyAds, PageSavedItems, PageChat,
}

type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any)
}

// View is the value every template executes against.
type View struct {
	Title           string
	User            *domain.Identity
	IsAuthenticated bool
	CSRFToken       string
	Errors          []string
	Successes       []string
	Data            any
}

type TemplateRenderer struct {
	pages map[string]*template.Template
}

func New() (*TemplateRenderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout").ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		pages[name] = t
	}
	return &TemplateRenderer{pages: pages}, nil
}

func (t *TemplateRenderer) Render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	tmpl, ok := t.pages[page]
	if !ok {
		slog.ErrorContext(r.Context(), "unknown page", "page", page)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	rc := webctx.From(r.Context())
	view := View{
		Title:           title,
		User:            rc.Identity,
		IsAuthenticated: rc.IsAuthenticated(),
		CSRFToken:       rc.CSRFToken,
		Errors:          rc.Flashes(webctx.FlashError),
		Successes:       rc.Flashes(webctx.FlashSuccess),
		Data:            data,
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", view); err != nil {
		slog.ErrorContext(r.Context(), "render page failed", "page", page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Redirect sends a 302 to a local path. Callers queue flashes on the
// request context first.
func Redirect(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusFound)
}
