package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAPIJSONDescribesRelayRoutes(t *testing.T) {
	app := newTestApp(nil, nil, nil)
	rec := httptest.NewRecorder()
	app.OpenAPIJSON(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("embedded document is not valid json: %v", err)
	}
	for _, path := range []string{"/v1/healthz", "/v1/skin-refiner", "/v1/skin-refiner/status", "/v1/skin-refiner/webhook"} {
		if _, ok := doc.Paths[path]; !ok {
			t.Errorf("missing path %s", path)
		}
	}
}

func TestOpenAPIDocs(t *testing.T) {
	app := newTestApp(nil, nil, nil)
	rec := httptest.NewRecorder()
	app.OpenAPIDocs(rec, httptest.NewRequest(http.MethodGet, "/v1/docs", nil))

	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), `spec-url="/v1/openapi.json"`) {
		t.Fatalf("docs page does not reference the spec url")
	}
}
