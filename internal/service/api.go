package service

import (
	"sort"

	"github.com/mmynk/lostfound/internal/models"
)

// Procedure names of the lostfound.v1 API.
const (
	AuthServiceName = "lostfound.v1.AuthService"
	ItemServiceName = "lostfound.v1.ItemService"

	AuthServiceRegisterProcedure = "/lostfound.v1.AuthService/Register"
	AuthServiceLoginProcedure    = "/lostfound.v1.AuthService/Login"
	AuthServiceLogoutProcedure   = "/lostfound.v1.AuthService/Logout"
	AuthServiceMeProcedure       = "/lostfound.v1.AuthService/Me"

	ItemServiceReportItemProcedure  = "/lostfound.v1.ItemService/ReportItem"
	ItemServiceListItemsProcedure   = "/lostfound.v1.ItemService/ListItems"
	ItemServiceSearchItemsProcedure = "/lostfound.v1.ItemService/SearchItems"
	ItemServiceSendMessageProcedure = "/lostfound.v1.ItemService/SendMessage"
	ItemServiceGetInboxProcedure    = "/lostfound.v1.ItemService/GetInbox"
	ItemServiceGetSummaryProcedure  = "/lostfound.v1.ItemService/GetSummary"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Username string `json:"username"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	// ExpiresAt is the Unix time the token stops being accepted.
	ExpiresAt int64 `json:"expires_at"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}

type MeRequest struct{}

type MeResponse struct {
	Username string `json:"username"`
}

// Item is the API view of a report, with its name inlined.
type Item struct {
	Name        string           `json:"name"`
	Location    string           `json:"location"`
	ContactInfo string           `json:"contact_info"`
	ReportedBy  string           `json:"reported_by"`
	Photo       string           `json:"photo,omitempty"`
	Messages    []models.Message `json:"messages"`
	ReportedAt  int64            `json:"reported_at,omitempty"`
}

type ReportItemRequest struct {
	ItemName    string `json:"item_name"`
	Location    string `json:"location"`
	ContactInfo string `json:"contact_info"`
	// PhotoName and Photo are both set when a photo is attached.
	PhotoName string `json:"photo_name,omitempty"`
	Photo     []byte `json:"photo,omitempty"`
}

type ReportItemResponse struct {
	Item Item `json:"item"`
}

type ListItemsRequest struct{}

type ListItemsResponse struct {
	Items []Item `json:"items"`
}

type SearchItemsRequest struct {
	Keyword string `json:"keyword"`
}

type SearchItemsResponse struct {
	Items []Item `json:"items"`
}

type SendMessageRequest struct {
	ItemName string `json:"item_name"`
	To       string `json:"to"`
	Text     string `json:"text"`
}

type SendMessageResponse struct {
	Message models.Message `json:"message"`
}

type GetInboxRequest struct{}

// InboxThread holds the messages of one item addressed to the caller.
type InboxThread struct {
	ItemName string           `json:"item_name"`
	Messages []models.Message `json:"messages"`
}

type GetInboxResponse struct {
	Threads []InboxThread `json:"threads"`
}

type GetSummaryRequest struct{}

type GetSummaryResponse struct {
	ContactMessages int `json:"contact_messages"`
	InboxMessages   int `json:"inbox_messages"`
}

func toItem(name string, item models.Item) Item {
	messages := item.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	return Item{
		Name:        name,
		Location:    item.Location,
		ContactInfo: item.ContactInfo,
		ReportedBy:  item.ReportedBy,
		Photo:       item.PhotoRef(),
		Messages:    messages,
		ReportedAt:  item.ReportedAt,
	}
}

// toItems converts a collection snapshot into a list sorted by name.
func toItems(items map[string]models.Item) []Item {
	out := make([]Item, 0, len(items))
	for name, item := range items {
		out = append(out, toItem(name, item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func toThreads(projection map[string][]models.Message) []InboxThread {
	out := make([]InboxThread, 0, len(projection))
	for name, messages := range projection {
		out = append(out, InboxThread{ItemName: name, Messages: messages})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemName < out[j].ItemName })
	return out
}
