package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/adapter"
	"github.com/jun/medidash/internal/apperr"
)

// FolderAction is one decoded /folders request.
type FolderAction interface {
	Name() string
}

type (
	ListRootFolders    struct{}
	SearchFolder       struct{ Query string }
	GetFolderInfo      struct{ FolderID string }
	ListFolderContents struct{ FolderID string }
)

func (ListRootFolders) Name() string    { return "list-root-folders" }
func (SearchFolder) Name() string       { return "search-folder" }
func (GetFolderInfo) Name() string      { return "get-folder-info" }
func (ListFolderContents) Name() string { return "list-folder-contents" }

// FolderUsage documents the accepted actions.
var FolderUsage = map[string]string{
	"list-root-folders":    "/folders?action=list-root-folders",
	"search-folder":        "/folders?action=search-folder&query=<text>",
	"get-folder-info":      "/folders?action=get-folder-info&folderId=<id>",
	"list-folder-contents": "/folders?action=list-folder-contents&folderId=<id>",
}

// ParseFolderAction decodes the query parameters into a FolderAction.
func ParseFolderAction(q map[string]string) (FolderAction, error) {
	query := strings.TrimSpace(q["query"])
	folderID := strings.TrimSpace(q["folderId"])

	switch action := q["action"]; action {
	case "list-root-folders":
		return ListRootFolders{}, nil
	case "search-folder":
		if query == "" {
			return nil, fmt.Errorf("action %s requires query", action)
		}
		return SearchFolder{Query: query}, nil
	case "get-folder-info":
		if folderID == "" {
			return nil, fmt.Errorf("action %s requires folderId", action)
		}
		return GetFolderInfo{FolderID: folderID}, nil
	case "list-folder-contents":
		if folderID == "" {
			return nil, fmt.Errorf("action %s requires folderId", action)
		}
		return ListFolderContents{FolderID: folderID}, nil
	case "":
		return nil, fmt.Errorf("missing action")
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

// FolderHandler browses the service account's drive with an app-only token.
// Administrators use it to pick each tenant's folder.
type FolderHandler struct {
	files     adapter.FileBrowser
	tokens    adapter.TokenProvider
	jwtSecret string
	logger    glog.Logger
}

// NewFolderHandler creates a new FolderHandler. files must be bound to the
// service user's drive.
func NewFolderHandler(files adapter.FileBrowser, tokens adapter.TokenProvider, jwtSecret string, logger glog.Logger) *FolderHandler {
	if logger == nil {
		logger = glog.Nop()
	}
	return &FolderHandler{files: files, tokens: tokens, jwtSecret: jwtSecret, logger: logger}
}

type usageBody struct {
	apperr.Body
	Usage map[string]string `json:"usage"`
}

// Folders dispatches GET /folders?action=...
func (h *FolderHandler) Folders(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, resp := requireAdmin(h.logger, req, h.jwtSecret); resp != nil {
		return *resp, nil
	}

	action, err := ParseFolderAction(req.QueryStringParameters)
	if err != nil {
		rich := apperr.BadInput(err.Error())
		return jsonResponse(http.StatusBadRequest, usageBody{Body: apperr.Envelope(rich, ""), Usage: FolderUsage}), nil
	}

	tok, err := h.tokens.ClientCredentialsToken(ctx)
	if err != nil {
		return errorResponse(h.logger, "app token", err), nil
	}

	body, err := h.run(ctx, tok.Value, action)
	if err != nil {
		return errorResponse(h.logger, action.Name(), err), nil
	}
	body["success"] = true
	body["action"] = action.Name()
	return jsonResponse(http.StatusOK, body), nil
}

func (h *FolderHandler) run(ctx context.Context, token string, action FolderAction) (map[string]any, error) {
	switch a := action.(type) {
	case ListRootFolders:
		items, err := h.files.ListChildren(ctx, token, adapter.RootFolderID)
		if err != nil {
			return nil, err
		}
		folders := adapter.OnlyFolders(items)
		return map[string]any{"folders": folders, "total": len(folders)}, nil

	case SearchFolder:
		folders, err := h.files.SearchFolders(ctx, token, a.Query)
		if err != nil {
			return nil, err
		}
		return map[string]any{"query": a.Query, "folders": folders, "total": len(folders)}, nil

	case GetFolderInfo:
		item, err := h.files.GetItem(ctx, token, a.FolderID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"folder": item}, nil

	case ListFolderContents:
		items, err := h.files.ListChildren(ctx, token, a.FolderID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"folderId": a.FolderID, "items": items, "total": len(items)}, nil
	}
	return nil, fmt.Errorf("unhandled folder action %T", action)
}
