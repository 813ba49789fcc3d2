package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mnohosten/marlin-db/pkg/database"
)

// Insert handles batch inserts. Body: {documents: [...], ordered: bool}
func (h *Handlers) Insert(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	docs := bodyDocuments(body, "documents")
	if len(docs) == 0 {
		writeError(w, errors.New("no documents to insert"))
		return
	}
	ordered := true
	if _, ok := body["ordered"]; ok {
		ordered = bodyBool(body, "ordered")
	}

	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	inserted, writeErrors, _ := coll.Insert(r.Context(), docs, ordered)

	response := map[string]interface{}{"n": inserted}
	if len(writeErrors) > 0 {
		rendered := make([]interface{}, len(writeErrors))
		for i, writeError := range writeErrors {
			rendered[i] = map[string]interface{}{
				"index":  writeError.Index,
				"errmsg": writeError.Err.Error(),
			}
		}
		response["writeErrors"] = rendered
	}
	writeOK(w, response)
}

// Find handles queries. Body: {filter, projection, sort, skip, limit,
// batchSize}. The response carries the standard cursor shape.
func (h *Handlers) Find(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	db, err := h.database(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := &database.FindOptions{
		Skip:  bodyInt(body, "skip", 0),
		Limit: bodyInt(body, "limit", 0),
	}
	if _, ok := body["projection"]; ok {
		opts.Projection = bodyDocument(body, "projection")
	}
	if _, ok := body["sort"]; ok {
		opts.Sort = bodyDocument(body, "sort")
	}

	result, err := db.FindWithCursor(r.Context(), chi.URLParam(r, "coll"),
		bodyDocument(body, "filter"), opts, int(bodyInt(body, "batchSize", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursorResponse(result.Namespace, "firstBatch", result.FirstBatch, result.CursorID))
}

// Update handles updates. Body: {filter, update, multi, upsert,
// arrayFilters}
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := coll.Update(r.Context(), bodyDocument(body, "filter"), bodyDocument(body, "update"), &database.UpdateOptions{
		Multi:        bodyBool(body, "multi"),
		Upsert:       bodyBool(body, "upsert"),
		ArrayFilters: bodyDocuments(body, "arrayFilters"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	response := map[string]interface{}{
		"n":         result.MatchedCount,
		"nModified": result.ModifiedCount,
	}
	if result.UpsertedID != nil {
		response["n"] = 1
		response["upserted"] = jsonValue(result.UpsertedID)
	}
	writeOK(w, response)
}

// Delete handles deletes. Body: {filter, limit} with limit 0 = all
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	deleted, err := coll.Delete(r.Context(), bodyDocument(body, "filter"), int(bodyInt(body, "limit", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"n": deleted})
}

// FindAndModify handles atomic read-modify-write. Body: {query, sort,
// update, remove, new, fields, upsert}
func (h *Handlers) FindAndModify(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	opts := &database.FindAndModifyOptions{
		Query:     bodyDocument(body, "query"),
		Remove:    bodyBool(body, "remove"),
		ReturnNew: bodyBool(body, "new"),
		Upsert:    bodyBool(body, "upsert"),
	}
	if _, ok := body["update"]; ok {
		opts.Update = bodyDocument(body, "update")
	}
	if _, ok := body["sort"]; ok {
		opts.Sort = bodyDocument(body, "sort")
	}
	if _, ok := body["fields"]; ok {
		opts.Fields = bodyDocument(body, "fields")
	}

	doc, err := coll.FindAndModify(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	var value interface{}
	if doc != nil {
		value = jsonValue(doc)
	}
	writeOK(w, map[string]interface{}{"value": value})
}

// Aggregate handles pipelines. Body: {pipeline: [...], batchSize}
func (h *Handlers) Aggregate(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stages := bodyDocuments(body, "pipeline")
	db, err := h.database(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := db.AggregateWithCursor(r.Context(), chi.URLParam(r, "coll"),
		stages, int(bodyInt(body, "batchSize", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursorResponse(result.Namespace, "firstBatch", result.FirstBatch, result.CursorID))
}

// Distinct handles distinct-values queries. Body: {key, filter}
func (h *Handlers) Distinct(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	key, _ := body["key"].(string)
	if key == "" {
		writeError(w, errors.New("distinct requires a 'key' field"))
		return
	}
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	values, err := coll.Distinct(r.Context(), key, bodyDocument(body, "filter"))
	if err != nil {
		writeError(w, err)
		return
	}
	rendered := make([]interface{}, len(values))
	for i, value := range values {
		rendered[i] = jsonValue(value)
	}
	writeOK(w, map[string]interface{}{"values": rendered})
}

// Count handles counting. Body: {filter, skip, limit}
func (h *Handlers) Count(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := coll.Count(r.Context(), bodyDocument(body, "filter"),
		int(bodyInt(body, "skip", 0)), int(bodyInt(body, "limit", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, map[string]interface{}{"n": count})
}

// ListIndexes lists the indexes of a collection
func (h *Handlers) ListIndexes(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	indexes := coll.ListIndexes()
	rendered := make([]interface{}, len(indexes))
	for i, idx := range indexes {
		rendered[i] = jsonValue(idx)
	}
	writeOK(w, map[string]interface{}{"indexes": rendered})
}

// CreateIndex creates an index. Body: {name, keys: [...], unique}
func (h *Handlers) CreateIndex(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name, _ := body["name"].(string)
	keysValue, _ := body["keys"].([]interface{})
	keys := make([]string, 0, len(keysValue))
	for _, key := range keysValue {
		if s, ok := key.(string); ok {
			keys = append(keys, s)
		}
	}
	if name == "" || len(keys) == 0 {
		writeError(w, errors.New("createIndex requires 'name' and 'keys'"))
		return
	}
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := coll.CreateIndex(name, keys, bodyBool(body, "unique")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

// DropIndex drops an index
func (h *Handlers) DropIndex(w http.ResponseWriter, r *http.Request) {
	coll, err := h.collection(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := coll.DropIndex(chi.URLParam(r, "index")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, nil)
}

// GetMore drains the next batch of a cursor. Body: {batchSize}
func (h *Handlers) GetMore(w http.ResponseWriter, r *http.Request) {
	cursorID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, errors.New("invalid cursor id"))
		return
	}
	body, err := parseBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	batch, nextID, err := h.catalog.Cursors().GetMore(r.Context(), cursorID, int(bodyInt(body, "batchSize", 0)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cursorResponse("", "nextBatch", batch, nextID))
}

// KillCursor deallocates a cursor
func (h *Handlers) KillCursor(w http.ResponseWriter, r *http.Request) {
	cursorID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, errors.New("invalid cursor id"))
		return
	}
	killed, notFound := h.catalog.Cursors().Kill([]int64{cursorID})
	writeOK(w, map[string]interface{}{
		"cursorsKilled":   killed,
		"cursorsNotFound": notFound,
	})
}
