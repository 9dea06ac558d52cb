package handler_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jun/medidash/internal/handler"
	"github.com/jun/medidash/internal/model"
)

const testJWTSecret = "test-secret"

var (
	adminSession   = model.Session{UserID: "admin-1", Role: model.RoleAdmin}
	clienteSession = model.Session{UserID: "user-acme", Role: model.RoleCliente, EmpresaID: "ACME"}
)

func makeToken(s model.Session) string {
	signed, err := handler.IssueSession(s, testJWTSecret, time.Hour)
	if err != nil {
		panic(err)
	}
	return signed
}

func makeRequest(method, path, body string, s *model.Session) events.APIGatewayProxyRequest {
	req := events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		PathParameters:        map[string]string{},
		QueryStringParameters: map[string]string{},
	}
	if s != nil {
		req.Headers["Authorization"] = "Bearer " + makeToken(*s)
	}
	return req
}

func decode(t *testing.T, resp events.APIGatewayProxyResponse) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		t.Fatalf("Failed to decode body %q: %v", resp.Body, err)
	}
	return out
}

func textCode(t *testing.T, resp events.APIGatewayProxyResponse) string {
	t.Helper()
	body := decode(t, resp)
	detail, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("Expected error envelope, got %s", resp.Body)
	}
	code, _ := detail["text_code"].(string)
	return code
}
