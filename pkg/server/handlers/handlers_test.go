package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mnohosten/marlin-db/pkg/database"
)

func testRouter(t *testing.T) *chi.Mux {
	t.Helper()
	config := database.DefaultConfig()
	config.OplogEnabled = true
	broadcast := NewOplogBroadcaster()
	catalog := database.Open(config, nil, broadcast)
	t.Cleanup(func() { catalog.Close() })

	h := New(catalog, broadcast)
	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/databases/{db}/collections/{coll}/insert", h.Insert)
		r.Post("/databases/{db}/collections/{coll}/find", h.Find)
		r.Post("/databases/{db}/collections/{coll}/update", h.Update)
		r.Post("/databases/{db}/collections/{coll}/delete", h.Delete)
		r.Post("/databases/{db}/collections/{coll}/aggregate", h.Aggregate)
		r.Post("/databases/{db}/collections/{coll}/count", h.Count)
		r.Post("/cursors/{id}/next", h.GetMore)
	})
	return router
}

func request(t *testing.T, router http.Handler, method, url, body string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	var response map[string]interface{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("Invalid JSON response (%d): %s", recorder.Code, recorder.Body.String())
	}
	return response
}

func TestInsertAndFindRoundTrip(t *testing.T) {
	router := testRouter(t)

	response := request(t, router, "POST", "/api/v1/databases/d/collections/c/insert",
		`{"documents": [{"_id": 1, "name": "a"}, {"_id": 2, "name": "b"}]}`)
	if response["ok"].(float64) != 1.0 {
		t.Fatalf("Insert failed: %v", response)
	}
	if response["n"].(float64) != 2 {
		t.Errorf("Expected n=2, got %v", response["n"])
	}

	response = request(t, router, "POST", "/api/v1/databases/d/collections/c/find",
		`{"filter": {"name": "b"}}`)
	cursor := response["cursor"].(map[string]interface{})
	batch := cursor["firstBatch"].([]interface{})
	if len(batch) != 1 {
		t.Fatalf("Expected 1 document, got %v", batch)
	}
	doc := batch[0].(map[string]interface{})
	if doc["name"].(string) != "b" {
		t.Errorf("Unexpected document: %v", doc)
	}
	if cursor["ns"].(string) != "d.c" {
		t.Errorf("Unexpected namespace: %v", cursor["ns"])
	}
	if cursor["id"].(float64) != 0 {
		t.Errorf("Expected exhausted cursor, got %v", cursor["id"])
	}
}

func TestUpdateAndCount(t *testing.T) {
	router := testRouter(t)
	request(t, router, "POST", "/api/v1/databases/d/collections/c/insert",
		`{"documents": [{"_id": 1, "n": 1}, {"_id": 2, "n": 1}]}`)

	response := request(t, router, "POST", "/api/v1/databases/d/collections/c/update",
		`{"filter": {}, "update": {"$inc": {"n": 1}}, "multi": true}`)
	if response["nModified"].(float64) != 2 {
		t.Fatalf("Expected 2 modified, got %v", response)
	}

	response = request(t, router, "POST", "/api/v1/databases/d/collections/c/count",
		`{"filter": {"n": 2}}`)
	if response["n"].(float64) != 2 {
		t.Errorf("Expected count 2, got %v", response)
	}
}

func TestErrorSurfacesNumericCode(t *testing.T) {
	router := testRouter(t)
	request(t, router, "POST", "/api/v1/databases/d/collections/c/insert",
		`{"documents": [{"_id": 1}]}`)

	response := request(t, router, "POST", "/api/v1/databases/d/collections/c/update",
		`{"filter": {}, "update": {"$set": {"a.b": 1}, "$unset": {"a": 1}}}`)
	if response["ok"].(float64) != 0 {
		t.Fatalf("Expected failure, got %v", response)
	}
	if response["code"].(float64) != 40 {
		t.Errorf("Expected ConflictingUpdateOperators code 40, got %v", response["code"])
	}
	if response["codeName"].(string) != "ConflictingUpdateOperators" {
		t.Errorf("Unexpected codeName: %v", response["codeName"])
	}
}

func TestAggregateEndpoint(t *testing.T) {
	router := testRouter(t)
	request(t, router, "POST", "/api/v1/databases/d/collections/c/insert",
		`{"documents": [{"g": "a", "n": 1}, {"g": "a", "n": 2}, {"g": "b", "n": 5}]}`)

	response := request(t, router, "POST", "/api/v1/databases/d/collections/c/aggregate",
		`{"pipeline": [{"$match": {"g": "a"}}, {"$group": {"_id": "$g", "total": {"$sum": "$n"}}}]}`)
	cursor := response["cursor"].(map[string]interface{})
	batch := cursor["firstBatch"].([]interface{})
	if len(batch) != 1 {
		t.Fatalf("Expected 1 group, got %v", batch)
	}
	group := batch[0].(map[string]interface{})
	if group["total"].(float64) != 3 {
		t.Errorf("Expected total 3, got %v", group)
	}
}

func TestGetMoreUnknownCursorReturns404(t *testing.T) {
	router := testRouter(t)
	req := httptest.NewRequest("POST", "/api/v1/cursors/42424242/next", bytes.NewReader([]byte(`{}`)))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d: %s", recorder.Code, recorder.Body.String())
	}
}
