// Package handler contains the HTTP request handlers for Git Reports.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc — a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, cookies)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers should NOT contain business logic — they are the "glue" between HTTP and the app.
package handler

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/sakif/gitreports/internal/apperror"
	"github.com/sakif/gitreports/internal/auth"
	"github.com/sakif/gitreports/internal/model"
	"github.com/sakif/gitreports/internal/service"
)

// User-facing page messages.
const (
	MsgTryAgain     = "An error occurred; please try again"
	MsgHeavyTraffic = "Git Reports is currently experiencing heavy traffic."
	MsgLoggedIn     = "Logged in!"
	MsgLoginDenied  = "Login was cancelled on GitHub."
)

const pageTitle = "Git Reports"

//go:embed templates/*.html
var templateFS embed.FS

// Accounts is the slice of the service layer the handlers call.
// *service.AuthService implements it.
type Accounts interface {
	LoginWithCode(ctx context.Context, code string) (*service.AuthResult, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	Dashboard(ctx context.Context, userID string) (*service.Dashboard, error)
}

// pageData is what every template receives. Dashboard is nil for anonymous
// visitors, which is how base.html decides between Login and Logout.
type pageData struct {
	Title     string
	Flash     string
	Message   string
	Dashboard *service.Dashboard
}

// Pages holds the parsed templates.
//
// TEMPLATE COMPOSITION:
// base.html defines the page shell with a {{template "content" .}} placeholder;
// each page file defines "content". Every page is parsed together with base.html
// into its own template set so the "content" definitions don't collide.
type Pages struct {
	templates map[string]*template.Template
	logger    *slog.Logger
}

// NewPages parses the embedded templates once at startup.
func NewPages(logger *slog.Logger) (*Pages, error) {
	p := &Pages{templates: make(map[string]*template.Template), logger: logger}
	for _, name := range []string{"home.html", "error.html"} {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s: %w", name, err)
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

// render executes the page into a buffer first, so a template failure can
// still produce a clean 500 instead of half a page.
func (p *Pages) render(w http.ResponseWriter, status int, name string, data pageData) {
	if data.Title == "" {
		data.Title = pageTitle
	}

	var buf bytes.Buffer
	if err := p.templates[name].ExecuteTemplate(&buf, "base", data); err != nil {
		p.logger.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// renderError shows message on the error page with the given status.
func (p *Pages) renderError(w http.ResponseWriter, status int, message string) {
	p.render(w, status, "error.html", pageData{Message: message})
}

// PageHandler serves the HTML home page.
type PageHandler struct {
	accounts Accounts
	pages    *Pages
	logger   *slog.Logger
}

func NewPageHandler(accounts Accounts, pages *Pages, logger *slog.Logger) *PageHandler {
	return &PageHandler{accounts: accounts, pages: pages, logger: logger}
}

// HandleHome serves the landing page.
//
// HTTP: GET /
// Auth: Optional (OptionalAuth middleware)
//
// Anonymous visitors get the Login link. A logged-in user gets the dashboard:
// name, organizations and every repository they can see. After a successful
// callback the redirect carries ?login=ok, shown as a flash message.
func (h *PageHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	data := pageData{}
	switch r.URL.Query().Get("login") {
	case "ok":
		data.Flash = MsgLoggedIn
	case "denied":
		data.Flash = MsgLoginDenied
	}

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		h.pages.render(w, http.StatusOK, "home.html", data)
		return
	}

	dash, err := h.accounts.Dashboard(r.Context(), userID)
	if errors.Is(err, apperror.ErrNotFound) {
		// A valid token for a user that no longer exists: treat as logged out.
		clearCookie(w, auth.SessionCookie)
		data.Flash = ""
		h.pages.render(w, http.StatusOK, "home.html", data)
		return
	}
	if err != nil {
		h.logger.Error("loading dashboard failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		h.pages.renderError(w, http.StatusInternalServerError, MsgTryAgain)
		return
	}

	data.Dashboard = dash
	h.pages.render(w, http.StatusOK, "home.html", data)
}
