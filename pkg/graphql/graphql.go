// Package graphql exposes a read-only query surface over the catalog.
// Documents travel as JSON strings, since a schemaless engine has no
// static GraphQL shape.
package graphql

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/graphql-go/graphql"

	"github.com/mnohosten/marlin-db/pkg/database"
	"github.com/mnohosten/marlin-db/pkg/document"
)

// NewSchema builds the query schema over a catalog
func NewSchema(catalog *database.Catalog) (graphql.Schema, error) {
	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"databases": &graphql.Field{
				Type: graphql.NewList(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return catalog.ListDatabaseNames(), nil
				},
			},
			"collections": &graphql.Field{
				Type: graphql.NewList(graphql.String),
				Args: graphql.FieldConfigArgument{
					"database": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					db, ok := catalog.DatabaseIfExists(p.Args["database"].(string))
					if !ok {
						return []string{}, nil
					}
					return db.ListCollectionNames(), nil
				},
			},
			"find": &graphql.Field{
				Type: graphql.NewList(graphql.String),
				Args: graphql.FieldConfigArgument{
					"database":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"collection": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"filter":     &graphql.ArgumentConfig{Type: graphql.String},
					"limit":      &graphql.ArgumentConfig{Type: graphql.Int},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					db, err := catalog.Database(p.Args["database"].(string))
					if err != nil {
						return nil, err
					}
					coll, err := db.Collection(p.Args["collection"].(string))
					if err != nil {
						return nil, err
					}

					filter := document.NewDocument()
					if raw, ok := p.Args["filter"].(string); ok && raw != "" {
						var m map[string]interface{}
						if err := json.Unmarshal([]byte(raw), &m); err != nil {
							return nil, fmt.Errorf("invalid filter: %w", err)
						}
						filter = document.NewDocumentFromMap(m)
					}
					opts := &database.FindOptions{}
					if limit, ok := p.Args["limit"].(int); ok {
						opts.Limit = int64(limit)
					}

					docs, err := coll.Find(p.Context, filter, opts)
					if err != nil {
						return nil, err
					}
					result := make([]string, len(docs))
					for i, doc := range docs {
						data, err := json.Marshal(doc.ToMap())
						if err != nil {
							return nil, err
						}
						result[i] = string(data)
					}
					return result, nil
				},
			},
			"count": &graphql.Field{
				Type: graphql.Int,
				Args: graphql.FieldConfigArgument{
					"database":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"collection": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					db, err := catalog.Database(p.Args["database"].(string))
					if err != nil {
						return nil, err
					}
					coll, err := db.Collection(p.Args["collection"].(string))
					if err != nil {
						return nil, err
					}
					return coll.Count(p.Context, nil, 0, 0)
				},
			},
		},
	})
	return graphql.NewSchema(graphql.SchemaConfig{Query: queryType})
}

// NewHandler mounts the schema as an HTTP handler accepting POST
// bodies of the form {query, variables}
func NewHandler(catalog *database.Catalog) http.Handler {
	schema, err := NewSchema(catalog)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, "schema initialization failed", http.StatusInternalServerError)
			return
		}
		var body struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  body.Query,
			VariableValues: body.Variables,
			Context:        r.Context(),
		})
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	})
}
