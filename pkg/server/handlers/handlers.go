// Package handlers implements the HTTP handlers of the command
// surface. Requests and responses are JSON renderings of engine
// documents.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mnohosten/marlin-db/pkg/database"
	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

// Handlers holds the catalog and provides the HTTP handlers
type Handlers struct {
	catalog   *database.Catalog
	broadcast *OplogBroadcaster
}

// New creates a Handlers instance
func New(catalog *database.Catalog, broadcast *OplogBroadcaster) *Handlers {
	return &Handlers{catalog: catalog, broadcast: broadcast}
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"activeCursors": h.catalog.Cursors().ActiveCount(),
	})
}

// ListDatabases lists database names
func (h *Handlers) ListDatabases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"databases": h.catalog.ListDatabaseNames(),
		"ok":        1.0,
	})
}

// DropDatabase drops a database
func (h *Handlers) DropDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DropDatabase(chi.URLParam(r, "db")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

// ListCollections lists collection names of a database
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	db, ok := h.catalog.DatabaseIfExists(chi.URLParam(r, "db"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"collections": []string{}, "ok": 1.0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collections": db.ListCollectionNames(),
		"ok":          1.0,
	})
}

// DropCollection drops a collection
func (h *Handlers) DropCollection(w http.ResponseWriter, r *http.Request) {
	db, ok := h.catalog.DatabaseIfExists(chi.URLParam(r, "db"))
	if !ok {
		writeError(w, database.ErrCollectionNotFound)
		return
	}
	if err := db.DropCollection(chi.URLParam(r, "coll")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

// database resolves the {db} route parameter
func (h *Handlers) database(r *http.Request) (*database.Database, error) {
	return h.catalog.Database(chi.URLParam(r, "db"))
}

// collection resolves the {db}/{coll} route parameters
func (h *Handlers) collection(r *http.Request) (*database.Collection, error) {
	db, err := h.database(r)
	if err != nil {
		return nil, err
	}
	return db.Collection(chi.URLParam(r, "coll"))
}

// parseBody decodes the JSON request body into a map
func parseBody(r *http.Request) (map[string]interface{}, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	defer r.Body.Close()
	if len(body) == 0 {
		return map[string]interface{}{}, nil
	}
	var target map[string]interface{}
	if err := json.Unmarshal(body, &target); err != nil {
		return nil, errors.New("invalid JSON: " + err.Error())
	}
	return target, nil
}

// bodyDocument extracts an embedded document from the request body
func bodyDocument(body map[string]interface{}, key string) *document.Document {
	if value, ok := body[key].(map[string]interface{}); ok {
		return document.NewDocumentFromMap(value)
	}
	return document.NewDocument()
}

// bodyDocuments extracts a document list from the request body
func bodyDocuments(body map[string]interface{}, key string) []*document.Document {
	list, ok := body[key].([]interface{})
	if !ok {
		return nil
	}
	docs := make([]*document.Document, 0, len(list))
	for _, element := range list {
		if m, ok := element.(map[string]interface{}); ok {
			docs = append(docs, document.NewDocumentFromMap(m))
		}
	}
	return docs
}

func bodyInt(body map[string]interface{}, key string, fallback int64) int64 {
	if value, ok := body[key]; ok {
		if n, ok := document.Int64Value(document.Convert(value)); ok {
			return n
		}
	}
	return fallback
}

func bodyBool(body map[string]interface{}, key string) bool {
	value, ok := body[key].(bool)
	return ok && value
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeOK responds with {ok: 1.0} plus extra fields
func writeOK(w http.ResponseWriter, extra map[string]interface{}) {
	payload := map[string]interface{}{"ok": 1.0}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, http.StatusOK, payload)
}

// writeError maps engine errors onto the wire shape: the numeric code
// surfaces verbatim, transport status follows the error class
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var serverErr *mongoerr.Error
	if errors.As(err, &serverErr) {
		switch serverErr.Code {
		case mongoerr.CodeCursorNotFound, mongoerr.CodeIndexNotFound:
			status = http.StatusNotFound
		case mongoerr.CodeInternalError:
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]interface{}{
			"ok":       0.0,
			"code":     int32(serverErr.Code),
			"codeName": serverErr.Code.Name(),
			"errmsg":   serverErr.Message,
		})
		return
	}
	if errors.Is(err, database.ErrCollectionNotFound) || errors.Is(err, database.ErrDatabaseNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]interface{}{
		"ok":     0.0,
		"errmsg": err.Error(),
	})
}

// cursorResponse renders the standard cursor response shape
func cursorResponse(ns, batchKey string, docs []*document.Document, cursorID int64) map[string]interface{} {
	batch := make([]interface{}, len(docs))
	for i, doc := range docs {
		batch[i] = jsonValue(doc)
	}
	return map[string]interface{}{
		"cursor": map[string]interface{}{
			"id":     cursorID,
			"ns":     ns,
			batchKey: batch,
		},
		"ok": 1.0,
	}
}
