package service

import (
	"net/http"

	"connectrpc.com/connect"

	"github.com/mmynk/lostfound/internal/auth"
	"github.com/mmynk/lostfound/internal/middleware"
)

// NewAuthServiceHandler builds an HTTP handler from the service implementation.
// It returns the path on which to mount the handler and the handler itself.
//
// Register and Login are public; Logout and Me require a bearer token.
// A valid token on a public procedure still identifies the caller in logs.
func NewAuthServiceHandler(svc *AuthService, jwtManager *auth.JWTManager, opts ...connect.HandlerOption) (string, http.Handler) {
	public := append([]connect.HandlerOption{
		WithJSON(),
		connect.WithInterceptors(middleware.OptionalAuth(jwtManager), middleware.LoggingInterceptor()),
	}, opts...)
	gated := append([]connect.HandlerOption{
		WithJSON(),
		connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor()),
	}, opts...)

	register := connect.NewUnaryHandler(AuthServiceRegisterProcedure, svc.Register, public...)
	login := connect.NewUnaryHandler(AuthServiceLoginProcedure, svc.Login, public...)
	logout := connect.NewUnaryHandler(AuthServiceLogoutProcedure, svc.Logout, gated...)
	me := connect.NewUnaryHandler(AuthServiceMeProcedure, svc.Me, gated...)

	return "/" + AuthServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case AuthServiceRegisterProcedure:
			register.ServeHTTP(w, r)
		case AuthServiceLoginProcedure:
			login.ServeHTTP(w, r)
		case AuthServiceLogoutProcedure:
			logout.ServeHTTP(w, r)
		case AuthServiceMeProcedure:
			me.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// NewItemServiceHandler builds an HTTP handler from the service implementation.
// Every procedure requires a bearer token.
func NewItemServiceHandler(svc *ItemService, jwtManager *auth.JWTManager, opts ...connect.HandlerOption) (string, http.Handler) {
	options := append([]connect.HandlerOption{
		WithJSON(),
		connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor()),
	}, opts...)

	reportItem := connect.NewUnaryHandler(ItemServiceReportItemProcedure, svc.ReportItem, options...)
	listItems := connect.NewUnaryHandler(ItemServiceListItemsProcedure, svc.ListItems, options...)
	searchItems := connect.NewUnaryHandler(ItemServiceSearchItemsProcedure, svc.SearchItems, options...)
	sendMessage := connect.NewUnaryHandler(ItemServiceSendMessageProcedure, svc.SendMessage, options...)
	getInbox := connect.NewUnaryHandler(ItemServiceGetInboxProcedure, svc.GetInbox, options...)
	getSummary := connect.NewUnaryHandler(ItemServiceGetSummaryProcedure, svc.GetSummary, options...)

	return "/" + ItemServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ItemServiceReportItemProcedure:
			reportItem.ServeHTTP(w, r)
		case ItemServiceListItemsProcedure:
			listItems.ServeHTTP(w, r)
		case ItemServiceSearchItemsProcedure:
			searchItems.ServeHTTP(w, r)
		case ItemServiceSendMessageProcedure:
			sendMessage.ServeHTTP(w, r)
		case ItemServiceGetInboxProcedure:
			getInbox.ServeHTTP(w, r)
		case ItemServiceGetSummaryProcedure:
			getSummary.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
