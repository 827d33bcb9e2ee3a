// Package web serves the HTML front end: account pages, item reporting,
// the item listing with its message form, search and the inbox.
//
// Pages are rendered from embedded templates. Every POST form carries a
// CSRF token that must match the CSRF cookie.
package web

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/mmynk/lostfound/internal/attachments"
	"github.com/mmynk/lostfound/internal/auth"
	"github.com/mmynk/lostfound/internal/inbox"
	"github.com/mmynk/lostfound/internal/ledger"
	"github.com/mmynk/lostfound/internal/metrics"
	"github.com/mmynk/lostfound/internal/middleware"
)

const (
	// CSRFCookieName is the cookie holding the CSRF token.
	CSRFCookieName = "lostfound_csrf"

	// DefaultMaxUploadBytes bounds the report form when Options.MaxUploadBytes is unset.
	DefaultMaxUploadBytes = 10 << 20

	flashMessageSent = "Message sent successfully!"
)

// App serves the HTML pages.
type App struct {
	accounts  auth.Authenticator
	ledger    *ledger.Ledger
	projector *inbox.Projector
	photos    attachments.Store
	gate      *middleware.SessionGate
	metrics   *metrics.Metrics
	logger    *slog.Logger
	maxUpload int64
	templates map[string]*template.Template
}

// Options configures an App. Metrics and Logger are optional.
type Options struct {
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// New creates the web front end.
func New(accounts auth.Authenticator, l *ledger.Ledger, photos attachments.Store, gate *middleware.SessionGate, opts Options) (*App, error) {
	a := &App{
		accounts:  accounts,
		ledger:    l,
		projector: inbox.NewProjector(l),
		photos:    photos,
		gate:      gate,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		maxUpload: opts.MaxUploadBytes,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "web")
	if a.maxUpload <= 0 {
		a.maxUpload = DefaultMaxUploadBytes
	}

	templates, err := parseTemplates(goldmark.New())
	if err != nil {
		return nil, err
	}
	a.templates = templates
	return a, nil
}

// Register mounts the page routes on mux.
func (a *App) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /register", a.handleRegisterPage)
	mux.HandleFunc("POST /register", a.handleRegister)
	mux.HandleFunc("GET /login", a.handleLoginPage)
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("GET /logout", a.handleLogout)
	mux.HandleFunc("POST /logout", a.handleLogout)

	mux.HandleFunc("GET /{$}", a.gate.Require(a.handleHome))
	mux.HandleFunc("GET /report_lost", a.gate.Require(a.handleReportPage))
	mux.HandleFunc("POST /report_lost", a.gate.Require(a.handleReport))
	mux.HandleFunc("GET /lost_items", a.gate.Require(a.handleLostItems))
	mux.HandleFunc("POST /lost_items", a.gate.Require(a.handleSendMessage))
	mux.HandleFunc("GET /search_lost", a.gate.Require(a.handleSearchPage))
	mux.HandleFunc("POST /search_lost", a.gate.Require(a.handleSearch))
	mux.HandleFunc("GET /inbox", a.gate.Require(a.handleInbox))

	mux.HandleFunc("GET /uploads/{filename}", a.handleUpload)
}

// newPage fills the fields shared by every page.
func (a *App) newPage(w http.ResponseWriter, r *http.Request, title string) page {
	username, _ := a.gate.Current(r)
	return page{
		Title:     title,
		Username:  username,
		CSRFToken: a.ensureCSRFToken(w, r),
	}
}

func (a *App) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, "register", a.newPage(w, r, "Register"))
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")

	err := a.accounts.ValidateCredential(password)
	if err == nil {
		err = a.accounts.Register(r.Context(), username, password)
	}
	if err != nil {
		p := a.newPage(w, r, "Register")
		status := a.statusFor(err, "registration failed")
		switch {
		case errors.Is(err, auth.ErrUsernameTaken):
			p.Error = "Username already exists. Please choose another one."
		case errors.Is(err, auth.ErrPasswordTooLong):
			p.Error = "Password is too long."
		case status == http.StatusBadRequest:
			p.Error = "Username and password are required."
		default:
			p.Error = "Registration failed. Please try again."
		}
		a.render(w, status, "register", p)
		return
	}

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, "login", a.newPage(w, r, "Login"))
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}

	identity, err := a.accounts.Authenticate(r.Context(), r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		a.metrics.Login(false)
		p := a.newPage(w, r, "Login")
		status := a.statusFor(err, "login failed")
		if status == http.StatusUnauthorized {
			p.Error = "Invalid username or password."
		} else {
			p.Error = "Login failed. Please try again."
		}
		a.render(w, status, "login", p)
		return
	}
	a.metrics.Login(true)

	if err := a.gate.Login(w, r, identity); err != nil {
		a.logger.Error("failed to start session", "username", identity, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost && !a.validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}
	if identity, ok := a.gate.Current(r); ok {
		r = r.WithContext(middleware.WithIdentity(r.Context(), identity))
	}
	a.gate.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.Identity(r.Context())

	summary, err := a.projector.Summary(r.Context(), identity)
	if err != nil {
		a.fail(w, err, "failed to load summary")
		return
	}

	a.render(w, http.StatusOK, "index", homeData{
		page:            a.newPage(w, r, "Lost & Found"),
		NewMessageCount: summary.ContactMessages,
		InboxCount:      summary.InboxMessages,
	})
}

func (a *App) handleReportPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, "report_lost", a.newPage(w, r, "Report Lost Item"))
}

func (a *App) handleReport(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.Identity(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	if err := r.ParseMultipartForm(a.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if !a.validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}

	report := ledger.Report{
		ItemName:    r.FormValue("item_name"),
		Location:    r.FormValue("location"),
		ContactInfo: r.FormValue("contact_info"),
		ReportedBy:  identity,
	}
	if report.ItemName == "" {
		p := a.newPage(w, r, "Report Lost Item")
		p.Error = "Item name is required."
		a.render(w, http.StatusBadRequest, "report_lost", p)
		return
	}

	photo, err := a.storePhoto(r)
	if err != nil {
		a.fail(w, err, "failed to store photo")
		return
	}
	report.Photo = photo

	if _, err := a.ledger.ReportItem(r.Context(), report); err != nil {
		a.fail(w, err, "failed to report item")
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// storePhoto saves the optional "photo" upload and returns its reference.
func (a *App) storePhoto(r *http.Request) (string, error) {
	file, header, err := r.FormFile("photo")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", err
	}
	defer file.Close()

	if header.Filename == "" {
		return "", nil
	}
	return a.photos.Put(r.Context(), header.Filename, file)
}

func (a *App) handleLostItems(w http.ResponseWriter, r *http.Request) {
	p := a.newPage(w, r, "Lost Items")
	if r.URL.Query().Get("sent") == "1" {
		p.Flash = flashMessageSent
	}
	a.renderItems(w, r, http.StatusOK, p)
}

func (a *App) renderItems(w http.ResponseWriter, r *http.Request, status int, p page) {
	items, err := a.ledger.ListItems(r.Context())
	if err != nil {
		a.fail(w, err, "failed to list items")
		return
	}
	a.render(w, status, "lost_items", itemsData{page: p, Items: sortedItems(items)})
}

func (a *App) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if !a.validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}
	identity, _ := middleware.Identity(r.Context())

	_, err := a.ledger.SendMessage(r.Context(),
		r.FormValue("item_name"),
		identity,
		r.FormValue("to_user"),
		r.FormValue("message"),
	)
	if err != nil {
		status := a.statusFor(err, "failed to send message")
		p := a.newPage(w, r, "Lost Items")
		switch {
		case errors.Is(err, ledger.ErrItemNotFound):
			p.Error = "That item no longer exists. Your message was not sent."
		case status == http.StatusBadRequest:
			p.Error = "Recipient and message are required."
		default:
			p.Error = "Message could not be sent. Please try again."
		}
		a.renderItems(w, r, status, p)
		return
	}

	http.Redirect(w, r, "/lost_items?sent=1", http.StatusSeeOther)
}

func (a *App) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, http.StatusOK, "search_lost", a.newPage(w, r, "Search Lost Items"))
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !a.validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}

	keyword := r.FormValue("keyword")
	results, err := a.ledger.SearchByName(r.Context(), keyword)
	if err != nil {
		a.fail(w, err, "failed to search items")
		return
	}

	a.render(w, http.StatusOK, "search_results", searchResultsData{
		page:    a.newPage(w, r, "Search Results"),
		Keyword: keyword,
		Results: sortedItems(results),
	})
}

func (a *App) handleInbox(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.Identity(r.Context())

	projection, err := a.projector.Inbox(r.Context(), identity)
	if err != nil {
		a.fail(w, err, "failed to load inbox")
		return
	}

	a.render(w, http.StatusOK, "inbox", inboxData{
		page:    a.newPage(w, r, "Inbox"),
		Threads: sortedThreads(projection),
	})
}

func (a *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("filename")
	if !attachments.ValidRef(ref) {
		http.NotFound(w, r)
		return
	}

	rc, err := a.photos.Open(r.Context(), ref)
	if err != nil {
		if errors.Is(err, attachments.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		a.fail(w, err, "failed to open upload")
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(ref)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Warn("upload copy interrupted", "ref", ref, "error", err)
	}
}

// statusFor maps a domain error to an HTTP status, logging unexpected errors.
func (a *App) statusFor(err error, msg string) int {
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrItemNotFound), errors.Is(err, attachments.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrEmptyUsername),
		errors.Is(err, auth.ErrEmptyPassword),
		errors.Is(err, auth.ErrPasswordTooLong),
		errors.Is(err, ledger.ErrEmptyItemName),
		errors.Is(err, ledger.ErrEmptyMessage),
		errors.Is(err, ledger.ErrEmptyUser),
		errors.Is(err, attachments.ErrEmptyName):
		return http.StatusBadRequest
	default:
		a.logger.Error(msg, "error", err)
		return http.StatusInternalServerError
	}
}

// fail writes a plain error response for err.
func (a *App) fail(w http.ResponseWriter, err error, msg string) {
	status := a.statusFor(err, msg)
	http.Error(w, http.StatusText(status), status)
}

// ensureCSRFToken returns the CSRF token of r, issuing a new cookie if needed.
func (a *App) ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		a.logger.Error("failed to generate CSRF token", "error", err)
		return "" // Will fail validation, but won't crash
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return token
}

// validateCSRF checks the CSRF token from form against cookie
func (a *App) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		formToken = r.Header.Get("X-CSRF-Token")
	}

	return formToken != "" && formToken == cookie.Value
}

func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
