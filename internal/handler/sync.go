package handler

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goliatone/go-logger/glog"

	"github.com/jun/medidash/internal/apperr"
	"github.com/jun/medidash/internal/ingest"
)

// SyncSecretHeader carries the shared secret of the spreadsheet webhook.
const SyncSecretHeader = "X-Sync-Secret"

// SyncHandler receives measurement payloads from the spreadsheet webhook.
type SyncHandler struct {
	service    *ingest.Service
	syncSecret string
	logger     glog.Logger
}

// NewSyncHandler creates a new SyncHandler. An empty syncSecret disables the header check.
func NewSyncHandler(service *ingest.Service, syncSecret string, logger glog.Logger) *SyncHandler {
	if logger == nil {
		logger = glog.Nop()
	}
	return &SyncHandler{service: service, syncSecret: syncSecret, logger: logger}
}

// SyncResponse is the body of a successful POST /sync.
type SyncResponse struct {
	Success bool `json:"success"`
	ingest.Result
}

// Sync validates and stores one measurement payload.
func (h *SyncHandler) Sync(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if h.syncSecret != "" {
		got := header(req, SyncSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.syncSecret)) != 1 {
			return errorResponse(h.logger, "sync", apperr.Unauthenticated("invalid sync secret")), nil
		}
	}

	raw, err := requestBody(req)
	if err != nil {
		return errorResponse(h.logger, "sync", apperr.BadInput("request body is not valid base64")), nil
	}
	payload, err := decodePayload(raw)
	if err != nil {
		return errorResponse(h.logger, "sync", apperr.BadInput("request body must be a JSON object")), nil
	}

	res, err := h.service.Ingest(ctx, payload)
	if err != nil {
		return errorResponse(h.logger, "sync", err), nil
	}
	return jsonResponse(http.StatusOK, SyncResponse{Success: true, Result: *res}), nil
}

// decodePayload parses a single JSON object. Numbers stay json.Number so ids
// past 2^53 keep their digits.
func decodePayload(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	return payload, nil
}
