package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/lostfound/internal/attachments"
	"github.com/mmynk/lostfound/internal/auth"
	"github.com/mmynk/lostfound/internal/inbox"
	"github.com/mmynk/lostfound/internal/ledger"
	"github.com/mmynk/lostfound/internal/storage/filestore"
)

type testServer struct {
	url    string
	photos attachments.Store
}

// setupTestServer creates a test server with both AuthService and ItemService.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := filestore.New(t.TempDir(), filestore.Options{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	photos, err := attachments.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create attachment store: %v", err)
	}

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	authenticator := auth.NewPasswordAuthenticator(store, auth.WithCost(bcrypt.MinCost))
	l := ledger.New(store)

	authPath, authHandler := NewAuthServiceHandler(NewAuthService(authenticator, jwtManager, nil, nil), jwtManager)
	itemPath, itemHandler := NewItemServiceHandler(NewItemService(l, inbox.NewProjector(l), photos, nil), jwtManager)

	mux := http.NewServeMux()
	mux.Handle(authPath, authHandler)
	mux.Handle(itemPath, itemHandler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testServer{url: server.URL, photos: photos}
}

func call[Req, Res any](t *testing.T, ts *testServer, procedure, token string, msg *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](http.DefaultClient, ts.url+procedure, WithJSON())
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	resp, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func registerAndLogin(t *testing.T, ts *testServer, username, password string) string {
	t.Helper()
	if _, err := call[RegisterRequest, RegisterResponse](t, ts, AuthServiceRegisterProcedure, "",
		&RegisterRequest{Username: username, Password: password}); err != nil {
		t.Fatalf("Register %s failed: %v", username, err)
	}
	resp, err := call[LoginRequest, LoginResponse](t, ts, AuthServiceLoginProcedure, "",
		&LoginRequest{Username: username, Password: password})
	if err != nil {
		t.Fatalf("Login %s failed: %v", username, err)
	}
	if resp.Token == "" {
		t.Fatal("expected token in login response")
	}
	return resp.Token
}

func assertCode(t *testing.T, err error, want connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := connect.CodeOf(err); got != want {
		t.Errorf("expected code %v, got %v (%v)", want, got, err)
	}
}

func TestAuthService(t *testing.T) {
	ts := setupTestServer(t)
	token := registerAndLogin(t, ts, "alice", "pw1")

	t.Run("duplicate username", func(t *testing.T) {
		_, err := call[RegisterRequest, RegisterResponse](t, ts, AuthServiceRegisterProcedure, "",
			&RegisterRequest{Username: "alice", Password: "other"})
		assertCode(t, err, connect.CodeAlreadyExists)

		// The original password still works.
		if _, err := call[LoginRequest, LoginResponse](t, ts, AuthServiceLoginProcedure, "",
			&LoginRequest{Username: "alice", Password: "pw1"}); err != nil {
			t.Errorf("original password rejected: %v", err)
		}
	})

	t.Run("empty fields", func(t *testing.T) {
		_, err := call[RegisterRequest, RegisterResponse](t, ts, AuthServiceRegisterProcedure, "",
			&RegisterRequest{Username: "", Password: "pw"})
		assertCode(t, err, connect.CodeInvalidArgument)

		_, err = call[RegisterRequest, RegisterResponse](t, ts, AuthServiceRegisterProcedure, "",
			&RegisterRequest{Username: "carol", Password: ""})
		assertCode(t, err, connect.CodeInvalidArgument)

		_, err = call[RegisterRequest, RegisterResponse](t, ts, AuthServiceRegisterProcedure, "",
			&RegisterRequest{Username: "carol", Password: strings.Repeat("x", auth.MaxPasswordBytes+1)})
		assertCode(t, err, connect.CodeInvalidArgument)
	})

	t.Run("bad credentials", func(t *testing.T) {
		for _, req := range []*LoginRequest{
			{Username: "alice", Password: "PW1"},
			{Username: "Alice", Password: "pw1"},
			{Username: "nobody", Password: "pw1"},
		} {
			_, err := call[LoginRequest, LoginResponse](t, ts, AuthServiceLoginProcedure, "", req)
			assertCode(t, err, connect.CodeUnauthenticated)
		}
	})

	t.Run("me", func(t *testing.T) {
		resp, err := call[MeRequest, MeResponse](t, ts, AuthServiceMeProcedure, token, &MeRequest{})
		if err != nil {
			t.Fatalf("Me failed: %v", err)
		}
		if resp.Username != "alice" {
			t.Errorf("expected alice, got %q", resp.Username)
		}

		_, err = call[MeRequest, MeResponse](t, ts, AuthServiceMeProcedure, "", &MeRequest{})
		assertCode(t, err, connect.CodeUnauthenticated)
	})

	t.Run("logout revokes token", func(t *testing.T) {
		session := registerAndLogin(t, ts, "dave", "pw")
		if _, err := call[LogoutRequest, LogoutResponse](t, ts, AuthServiceLogoutProcedure, session, &LogoutRequest{}); err != nil {
			t.Fatalf("Logout failed: %v", err)
		}
		_, err := call[MeRequest, MeResponse](t, ts, AuthServiceMeProcedure, session, &MeRequest{})
		assertCode(t, err, connect.CodeUnauthenticated)
	})
}

func TestItemService_RequiresAuth(t *testing.T) {
	ts := setupTestServer(t)

	_, err := call[ListItemsRequest, ListItemsResponse](t, ts, ItemServiceListItemsProcedure, "", &ListItemsRequest{})
	assertCode(t, err, connect.CodeUnauthenticated)

	_, err = call[ReportItemRequest, ReportItemResponse](t, ts, ItemServiceReportItemProcedure, "garbage",
		&ReportItemRequest{ItemName: "Wallet"})
	assertCode(t, err, connect.CodeUnauthenticated)
}

func TestItemService_Scenario(t *testing.T) {
	ts := setupTestServer(t)
	alice := registerAndLogin(t, ts, "alice", "pw1")
	bob := registerAndLogin(t, ts, "bob", "pw2")

	report, err := call[ReportItemRequest, ReportItemResponse](t, ts, ItemServiceReportItemProcedure, alice,
		&ReportItemRequest{ItemName: "Wallet", Location: "Lobby", ContactInfo: "bob"})
	if err != nil {
		t.Fatalf("ReportItem failed: %v", err)
	}
	if report.Item.ReportedBy != "alice" {
		t.Errorf("reported_by: got %q, want alice", report.Item.ReportedBy)
	}
	if len(report.Item.Messages) != 0 {
		t.Errorf("new report should have an empty thread, got %d messages", len(report.Item.Messages))
	}

	sent, err := call[SendMessageRequest, SendMessageResponse](t, ts, ItemServiceSendMessageProcedure, bob,
		&SendMessageRequest{ItemName: "Wallet", To: "alice", Text: "Found it!"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if sent.Message.From != "bob" {
		t.Errorf("from: got %q, want bob", sent.Message.From)
	}

	inboxResp, err := call[GetInboxRequest, GetInboxResponse](t, ts, ItemServiceGetInboxProcedure, alice, &GetInboxRequest{})
	if err != nil {
		t.Fatalf("GetInbox failed: %v", err)
	}
	if len(inboxResp.Threads) != 1 || inboxResp.Threads[0].ItemName != "Wallet" {
		t.Fatalf("expected one Wallet thread, got %+v", inboxResp.Threads)
	}
	got := inboxResp.Threads[0].Messages
	if len(got) != 1 || got[0].From != "bob" || got[0].To != "alice" || got[0].Text != "Found it!" {
		t.Errorf("unexpected inbox messages: %+v", got)
	}

	bobInbox, err := call[GetInboxRequest, GetInboxResponse](t, ts, ItemServiceGetInboxProcedure, bob, &GetInboxRequest{})
	if err != nil {
		t.Fatalf("GetInbox failed: %v", err)
	}
	if len(bobInbox.Threads) != 0 {
		t.Errorf("bob should have an empty inbox, got %+v", bobInbox.Threads)
	}

	summary, err := call[GetSummaryRequest, GetSummaryResponse](t, ts, ItemServiceGetSummaryProcedure, bob, &GetSummaryRequest{})
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.ContactMessages != 1 || summary.InboxMessages != 0 {
		t.Errorf("bob summary: got %+v", summary)
	}
}

func TestItemService_SendMessageToMissingItem(t *testing.T) {
	ts := setupTestServer(t)
	token := registerAndLogin(t, ts, "alice", "pw1")

	_, err := call[SendMessageRequest, SendMessageResponse](t, ts, ItemServiceSendMessageProcedure, token,
		&SendMessageRequest{ItemName: "Ghost", To: "bob", Text: "hello?"})
	assertCode(t, err, connect.CodeNotFound)

	list, err := call[ListItemsRequest, ListItemsResponse](t, ts, ItemServiceListItemsProcedure, token, &ListItemsRequest{})
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(list.Items) != 0 {
		t.Errorf("nothing should have been stored, got %+v", list.Items)
	}
}

func TestItemService_Validation(t *testing.T) {
	ts := setupTestServer(t)
	token := registerAndLogin(t, ts, "alice", "pw1")

	_, err := call[ReportItemRequest, ReportItemResponse](t, ts, ItemServiceReportItemProcedure, token,
		&ReportItemRequest{ItemName: ""})
	assertCode(t, err, connect.CodeInvalidArgument)

	if _, err := call[ReportItemRequest, ReportItemResponse](t, ts, ItemServiceReportItemProcedure, token,
		&ReportItemRequest{ItemName: "Keys"}); err != nil {
		t.Fatalf("ReportItem failed: %v", err)
	}
	_, err = call[SendMessageRequest, SendMessageResponse](t, ts, ItemServiceSendMessageProcedure, token,
		&SendMessageRequest{ItemName: "Keys", To: "bob", Text: "   "})
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestItemService_SearchAndList(t *testing.T) {
	ts := setupTestServer(t)
	token := registerAndLogin(t, ts, "alice", "pw1")

	for _, name := range []string{"Phone", "graphite pencil", "Umbrella"} {
		if _, err := call[ReportItemRequest, ReportItemResponse](t, ts, ItemServiceReportItemProcedure, token,
			&ReportItemRequest{ItemName: name, Location: "Hall", ContactInfo: "alice"}); err != nil {
			t.Fatalf("ReportItem %s failed: %v", name, err)
		}
	}

	list, err := call[ListItemsRequest, ListItemsResponse](t, ts, ItemServiceListItemsProcedure, token, &ListItemsRequest{})
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(list.Items) != 3 || list.Items[0].Name != "Phone" {
		t.Errorf("expected 3 items sorted by name, got %+v", list.Items)
	}

	search, err := call[SearchItemsRequest, SearchItemsResponse](t, ts, ItemServiceSearchItemsProcedure, token,
		&SearchItemsRequest{Keyword: "PH"})
	if err != nil {
		t.Fatalf("SearchItems failed: %v", err)
	}
	if len(search.Items) != 2 || search.Items[0].Name != "Phone" || search.Items[1].Name != "graphite pencil" {
		t.Errorf("unexpected search result: %+v", search.Items)
	}
}

func TestItemService_ReportWithPhoto(t *testing.T) {
	ts := setupTestServer(t)
	token := registerAndLogin(t, ts, "alice", "pw1")

	resp, err := call[ReportItemRequest, ReportItemResponse](t, ts, ItemServiceReportItemProcedure, token,
		&ReportItemRequest{
			ItemName:    "Camera",
			Location:    "Park",
			ContactInfo: "alice",
			PhotoName:   "camera.jpg",
			Photo:       []byte("jpeg bytes"),
		})
	if err != nil {
		t.Fatalf("ReportItem failed: %v", err)
	}
	if resp.Item.Photo == "" {
		t.Fatal("expected photo reference")
	}

	rc, err := ts.photos.Open(context.Background(), resp.Item.Photo)
	if err != nil {
		t.Fatalf("stored photo not found: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "jpeg bytes" {
		t.Errorf("photo content: got %q", data)
	}
}
