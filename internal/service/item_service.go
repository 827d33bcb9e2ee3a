package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/lostfound/internal/attachments"
	"github.com/mmynk/lostfound/internal/inbox"
	"github.com/mmynk/lostfound/internal/ledger"
	"github.com/mmynk/lostfound/internal/middleware"
)

// ItemService implements the ItemService RPC interface.
// Every method requires an authenticated caller.
type ItemService struct {
	ledger    *ledger.Ledger
	projector *inbox.Projector
	photos    attachments.Store
	logger    *slog.Logger
}

// NewItemService creates a new ItemService.
func NewItemService(l *ledger.Ledger, projector *inbox.Projector, photos attachments.Store, logger *slog.Logger) *ItemService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemService{
		ledger:    l,
		projector: projector,
		photos:    photos,
		logger:    logger.With("component", "item_service"),
	}
}

// ReportItem creates or replaces the report named in the request.
func (s *ItemService) ReportItem(ctx context.Context, req *connect.Request[ReportItemRequest]) (*connect.Response[ReportItemResponse], error) {
	identity, err := middleware.RequireIdentity(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}
	s.logger.Info("ReportItem request received",
		"item", req.Msg.ItemName,
		"username", identity,
		"photo_bytes", len(req.Msg.Photo),
	)

	if req.Msg.ItemName == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, ledger.ErrEmptyItemName)
	}

	var photo string
	if len(req.Msg.Photo) > 0 {
		photo, err = s.photos.Put(ctx, req.Msg.PhotoName, bytes.NewReader(req.Msg.Photo))
		if err != nil {
			if errors.Is(err, attachments.ErrEmptyName) {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			return nil, failure(s.logger, "Failed to store photo", err)
		}
	}

	item, err := s.ledger.ReportItem(ctx, ledger.Report{
		ItemName:    req.Msg.ItemName,
		Location:    req.Msg.Location,
		ContactInfo: req.Msg.ContactInfo,
		ReportedBy:  identity,
		Photo:       photo,
	})
	if err != nil {
		return nil, failure(s.logger, "ReportItem failed", err)
	}
	return connect.NewResponse(&ReportItemResponse{Item: toItem(req.Msg.ItemName, item)}), nil
}

// ListItems returns every report, sorted by name.
func (s *ItemService) ListItems(ctx context.Context, req *connect.Request[ListItemsRequest]) (*connect.Response[ListItemsResponse], error) {
	items, err := s.ledger.ListItems(ctx)
	if err != nil {
		return nil, failure(s.logger, "ListItems failed", err)
	}

	s.logger.Debug("ListItems successful", "count", len(items))
	return connect.NewResponse(&ListItemsResponse{Items: toItems(items)}), nil
}

// SearchItems returns the reports whose name contains the keyword, ignoring case.
func (s *ItemService) SearchItems(ctx context.Context, req *connect.Request[SearchItemsRequest]) (*connect.Response[SearchItemsResponse], error) {
	items, err := s.ledger.SearchByName(ctx, req.Msg.Keyword)
	if err != nil {
		return nil, failure(s.logger, "SearchItems failed", err)
	}

	s.logger.Debug("SearchItems successful", "keyword", req.Msg.Keyword, "count", len(items))
	return connect.NewResponse(&SearchItemsResponse{Items: toItems(items)}), nil
}

// SendMessage appends a message from the caller to an item's thread.
func (s *ItemService) SendMessage(ctx context.Context, req *connect.Request[SendMessageRequest]) (*connect.Response[SendMessageResponse], error) {
	identity, err := middleware.RequireIdentity(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}

	msg, err := s.ledger.SendMessage(ctx, req.Msg.ItemName, identity, req.Msg.To, req.Msg.Text)
	if err != nil {
		return nil, failure(s.logger, "SendMessage failed", err)
	}
	return connect.NewResponse(&SendMessageResponse{Message: msg}), nil
}

// GetInbox returns the messages addressed to the caller, grouped by item.
func (s *ItemService) GetInbox(ctx context.Context, req *connect.Request[GetInboxRequest]) (*connect.Response[GetInboxResponse], error) {
	identity, err := middleware.RequireIdentity(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}

	projection, err := s.projector.Inbox(ctx, identity)
	if err != nil {
		return nil, failure(s.logger, "GetInbox failed", err)
	}
	return connect.NewResponse(&GetInboxResponse{Threads: toThreads(projection)}), nil
}

// GetSummary returns the counters shown on the home page.
func (s *ItemService) GetSummary(ctx context.Context, req *connect.Request[GetSummaryRequest]) (*connect.Response[GetSummaryResponse], error) {
	identity, err := middleware.RequireIdentity(ctx)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, err)
	}

	summary, err := s.projector.Summary(ctx, identity)
	if err != nil {
		return nil, failure(s.logger, "GetSummary failed", err)
	}
	return connect.NewResponse(&GetSummaryResponse{
		ContactMessages: summary.ContactMessages,
		InboxMessages:   summary.InboxMessages,
	}), nil
}
