package web

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/lostfound/internal/attachments"
	"github.com/mmynk/lostfound/internal/auth"
	"github.com/mmynk/lostfound/internal/ledger"
	"github.com/mmynk/lostfound/internal/middleware"
	"github.com/mmynk/lostfound/internal/storage/filestore"
)

type testEnv struct {
	server *httptest.Server
	ledger *ledger.Ledger
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	store, err := filestore.New(t.TempDir(), filestore.Options{})
	require.NoError(t, err)
	photos, err := attachments.NewLocal(t.TempDir())
	require.NoError(t, err)

	l := ledger.New(store)
	gate := middleware.NewSessionGate(auth.NewJWTManager("test-secret", time.Hour), middleware.SessionOptions{})
	app, err := New(auth.NewPasswordAuthenticator(store, auth.WithCost(bcrypt.MinCost)), l, photos, gate, Options{MaxUploadBytes: 1 << 20})
	require.NoError(t, err)

	mux := http.NewServeMux()
	app.Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, ledger: l}
}

// browser is an HTTP client with a cookie jar that does not follow redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (e *testEnv) newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: e.server.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) (*http.Response, string) {
	b.t.Helper()
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp, string(body)
}

func (b *browser) get(path string) (*http.Response, string) {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

// csrfToken returns the CSRF cookie, fetching the login page first if needed.
func (b *browser) csrfToken() string {
	b.t.Helper()
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == CSRFCookieName {
			return c.Value
		}
	}
	b.get("/login")
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == CSRFCookieName {
			return c.Value
		}
	}
	b.t.Fatal("no CSRF cookie issued")
	return ""
}

func (b *browser) post(path string, form url.Values) (*http.Response, string) {
	b.t.Helper()
	if form.Get("csrf_token") == "" {
		form.Set("csrf_token", b.csrfToken())
	}
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func (b *browser) postMultipart(path string, fields map[string]string, fileName string, fileContent []byte) (*http.Response, string) {
	b.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(b.t, mw.WriteField("csrf_token", b.csrfToken()))
	for k, v := range fields {
		require.NoError(b.t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("photo", fileName)
		require.NoError(b.t, err)
		_, err = fw.Write(fileContent)
		require.NoError(b.t, err)
	}
	require.NoError(b.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, b.base+path, &buf)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return b.do(req)
}

func (b *browser) registerAndLogin(username, password string) {
	b.t.Helper()
	resp, _ := b.post("/register", url.Values{"username": {username}, "password": {password}})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(b.t, "/login", resp.Header.Get("Location"))

	resp, _ = b.post("/login", url.Values{"username": {username}, "password": {password}})
	require.Equal(b.t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(b.t, "/", resp.Header.Get("Location"))
}

func TestGatedRoutesRedirectAnonymous(t *testing.T) {
	env := setupTestApp(t)
	b := env.newBrowser(t)

	for _, path := range []string{"/", "/report_lost", "/lost_items", "/search_lost", "/inbox"} {
		resp, _ := b.get(path)
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		assert.Equal(t, "/login", resp.Header.Get("Location"), path)
	}

	resp, _ := b.post("/lost_items", url.Values{"item_name": {"Wallet"}, "to_user": {"bob"}, "message": {"hi"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestRegisterAndLogin(t *testing.T) {
	env := setupTestApp(t)
	b := env.newBrowser(t)
	b.registerAndLogin("alice", "pw1")

	resp, body := b.get("/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Welcome, alice")

	t.Run("duplicate username", func(t *testing.T) {
		other := env.newBrowser(t)
		resp, body := other.post("/register", url.Values{"username": {"alice"}, "password": {"other"}})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Contains(t, body, "Username already exists. Please choose another one.")
	})

	t.Run("empty password", func(t *testing.T) {
		other := env.newBrowser(t)
		resp, _ := other.post("/register", url.Values{"username": {"carol"}, "password": {""}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("password too long", func(t *testing.T) {
		other := env.newBrowser(t)
		resp, body := other.post("/register", url.Values{"username": {"carol"}, "password": {strings.Repeat("x", 80)}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body, "Password is too long.")
	})

	t.Run("invalid credentials", func(t *testing.T) {
		other := env.newBrowser(t)
		resp, body := other.post("/login", url.Values{"username": {"alice"}, "password": {"PW1"}})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, body, "Invalid username or password.")
	})

	t.Run("missing CSRF token", func(t *testing.T) {
		other := env.newBrowser(t)
		resp, _ := other.post("/login", url.Values{
			"username":   {"alice"},
			"password":   {"pw1"},
			"csrf_token": {"forged"},
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("logout", func(t *testing.T) {
		resp, _ := b.post("/logout", url.Values{})
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/login", resp.Header.Get("Location"))

		resp, _ = b.get("/")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	})
}

func TestLostAndFoundScenario(t *testing.T) {
	env := setupTestApp(t)
	alice := env.newBrowser(t)
	alice.registerAndLogin("alice", "pw1")
	bob := env.newBrowser(t)
	bob.registerAndLogin("bob", "pw2")

	resp, _ := alice.postMultipart("/report_lost", map[string]string{
		"item_name":    "Wallet",
		"location":     "Lobby",
		"contact_info": "bob",
	}, "wallet.jpg", []byte("jpeg bytes"))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	item, err := env.ledger.GetItem(t.Context(), "Wallet")
	require.NoError(t, err)
	assert.Equal(t, "alice", item.ReportedBy)
	require.True(t, item.HasPhoto())

	t.Run("photo is served", func(t *testing.T) {
		resp, body := bob.get("/uploads/" + item.PhotoRef())
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "jpeg bytes", body)
		assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	})

	resp, body := bob.get("/lost_items")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Wallet")
	assert.Contains(t, body, "Lobby")

	resp, _ = bob.post("/lost_items", url.Values{
		"item_name": {"Wallet"},
		"to_user":   {"alice"},
		"message":   {"Found it!"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/lost_items?sent=1", resp.Header.Get("Location"))

	_, body = bob.get("/lost_items?sent=1")
	assert.Contains(t, body, "Message sent successfully!")
	assert.Contains(t, body, "Found it!")

	_, body = alice.get("/inbox")
	assert.Contains(t, body, "Wallet")
	assert.Contains(t, body, "Found it!")

	_, body = bob.get("/inbox")
	assert.Contains(t, body, "No messages.")

	// The home count is messages on items listing the user as contact.
	_, body = bob.get("/")
	assert.Contains(t, body, "<strong>1</strong>")
	_, body = alice.get("/")
	assert.Contains(t, body, "<strong>0</strong>")
}

func TestSendMessageToMissingItem(t *testing.T) {
	env := setupTestApp(t)
	b := env.newBrowser(t)
	b.registerAndLogin("alice", "pw1")

	resp, body := b.post("/lost_items", url.Values{
		"item_name": {"Ghost"},
		"to_user":   {"bob"},
		"message":   {"hello"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "Your message was not sent.")

	items, err := env.ledger.ListItems(t.Context())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestReportValidation(t *testing.T) {
	env := setupTestApp(t)
	b := env.newBrowser(t)
	b.registerAndLogin("alice", "pw1")

	resp, body := b.postMultipart("/report_lost", map[string]string{"location": "Lobby"}, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Item name is required.")

	// A report without a photo is fine.
	resp, _ = b.postMultipart("/report_lost", map[string]string{"item_name": "Keys"}, "", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	item, err := env.ledger.GetItem(t.Context(), "Keys")
	require.NoError(t, err)
	assert.False(t, item.HasPhoto())
}

func TestSearch(t *testing.T) {
	env := setupTestApp(t)
	b := env.newBrowser(t)
	b.registerAndLogin("alice", "pw1")

	for _, name := range []string{"Phone", "graphite pencil", "Umbrella"} {
		_, err := env.ledger.ReportItem(t.Context(), ledger.Report{ItemName: name, ReportedBy: "alice"})
		require.NoError(t, err)
	}

	resp, body := b.post("/search_lost", url.Values{"keyword": {"PH"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Phone")
	assert.Contains(t, body, "graphite pencil")
	assert.NotContains(t, body, "Umbrella")
}

func TestMessageTextIsSanitized(t *testing.T) {
	env := setupTestApp(t)
	b := env.newBrowser(t)
	b.registerAndLogin("alice", "pw1")

	_, err := env.ledger.ReportItem(t.Context(), ledger.Report{ItemName: "Bag", ReportedBy: "alice"})
	require.NoError(t, err)
	_, err = env.ledger.SendMessage(t.Context(), "Bag", "mallory", "alice", "<script>alert(1)</script>\n\n**bold**")
	require.NoError(t, err)

	_, body := b.get("/inbox")
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "<strong>bold</strong>")
}

func TestUploadNotFound(t *testing.T) {
	env := setupTestApp(t)
	b := env.newBrowser(t)

	resp, _ := b.get("/uploads/missing.jpg")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = b.get("/uploads/.hidden")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
