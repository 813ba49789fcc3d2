// Package projection implements include/exclude/compute projections
// for find and for the $project aggregation stage.
package projection

import (
	"strings"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/expr"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
	"github.com/mnohosten/marlin-db/pkg/path"
)

type fieldKind int

const (
	kindInclude fieldKind = iota
	kindExclude
	kindComputed
)

type field struct {
	path       string
	kind       fieldKind
	expression interface{}
}

// Projection is a parsed projection specification
type Projection struct {
	fields    []field
	inclusion bool
	includeID bool
}

// NewProjection parses and validates a projection document
func NewProjection(spec *document.Document) (*Projection, error) {
	if spec.Len() == 0 {
		return nil, mongoerr.New(mongoerr.CodeProjectionEmptySpec,
			"specification must have at least one field")
	}

	p := &Projection{includeID: true}
	hasInclusion := false
	hasExclusion := false

	for _, entry := range spec.Entries() {
		kind := classify(entry.Value)
		if entry.Key == "_id" && kind != kindComputed {
			p.includeID = kind == kindInclude
			continue
		}
		if err := path.ValidateKey(entry.Key); err != nil {
			return nil, err
		}
		switch kind {
		case kindExclude:
			hasExclusion = true
		default:
			hasInclusion = true
		}
		p.fields = append(p.fields, field{path: entry.Key, kind: kind, expression: entry.Value})
	}

	if hasInclusion && hasExclusion {
		for _, f := range p.fields {
			if f.kind == kindExclude {
				return nil, mongoerr.Newf(mongoerr.CodeExclusionInInclusion,
					"Cannot do exclusion on field %s in inclusion projection", f.path)
			}
		}
	}

	p.inclusion = hasInclusion
	return p, nil
}

// classify decides what a projection value means: numbers and booleans
// toggle inclusion, everything else is a computed expression
func classify(value interface{}) fieldKind {
	switch v := value.(type) {
	case bool:
		if v {
			return kindInclude
		}
		return kindExclude
	default:
		if f, ok := document.Float64Value(value); ok {
			if f != 0 {
				return kindInclude
			}
			return kindExclude
		}
		return kindComputed
	}
}

// Apply projects one document. The input document is not modified.
func (p *Projection) Apply(doc *document.Document) (*document.Document, error) {
	if !p.inclusion {
		return p.applyExclusions(doc)
	}
	return p.applyInclusions(doc)
}

func (p *Projection) applyExclusions(doc *document.Document) (*document.Document, error) {
	result := doc.Clone()
	if !p.includeID {
		result.Remove("_id")
	}
	for _, f := range p.fields {
		excludeField(result, path.Split(f.path))
	}
	return result, nil
}

// excludeField removes a nested path, fanning out over arrays of
// documents so that excluding "x.b" from x: [{a,b},{a}] strips b from
// every element
func excludeField(value interface{}, fragments []string) {
	switch v := value.(type) {
	case *document.Document:
		if len(fragments) == 1 {
			v.Remove(fragments[0])
			return
		}
		if sub, ok := v.Get(fragments[0]); ok {
			excludeField(sub, fragments[1:])
		}
	case []interface{}:
		for _, element := range v {
			excludeField(element, fragments)
		}
	}
}

func (p *Projection) applyInclusions(doc *document.Document) (*document.Document, error) {
	result := document.NewDocument()
	if p.includeID {
		if id, ok := doc.Get("_id"); ok {
			result.Set("_id", document.CloneValue(id))
		}
	}
	for _, f := range p.fields {
		switch f.kind {
		case kindInclude:
			includeField(result, doc, path.Split(f.path))
		case kindComputed:
			value, err := expr.Evaluate(f.expression, doc)
			if err != nil {
				return nil, err
			}
			if document.IsMissing(value) {
				continue
			}
			if err := path.Set(result, f.path, value, nil); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// includeField copies a nested path from src into result, merging with
// fields already included and mapping elementwise over arrays of
// documents
func includeField(result, src *document.Document, fragments []string) {
	key := fragments[0]
	value, ok := src.Get(key)
	if !ok {
		return
	}
	if len(fragments) == 1 {
		result.Set(key, document.CloneValue(value))
		return
	}

	switch v := value.(type) {
	case *document.Document:
		sub := childDocument(result, key)
		includeField(sub, v, fragments[1:])
		result.Set(key, sub)
	case []interface{}:
		existing, _ := result.GetOrMissing(key).([]interface{})
		projected := make([]interface{}, 0, len(v))
		j := 0
		for _, element := range v {
			elementDoc, isDoc := element.(*document.Document)
			if !isDoc {
				continue
			}
			var sub *document.Document
			if j < len(existing) {
				sub, _ = existing[j].(*document.Document)
			}
			if sub == nil {
				sub = document.NewDocument()
			}
			includeField(sub, elementDoc, fragments[1:])
			projected = append(projected, sub)
			j++
		}
		result.Set(key, projected)
	}
}

func childDocument(result *document.Document, key string) *document.Document {
	if existing, ok := result.Get(key); ok {
		if sub, isDoc := existing.(*document.Document); isDoc {
			return sub
		}
	}
	return document.NewDocument()
}

// IsIDOnlyExclusion reports whether the projection merely drops _id,
// which read paths use to skip cloning work
func (p *Projection) IsIDOnlyExclusion() bool {
	return !p.inclusion && !p.includeID && len(p.fields) == 0
}

// HasPositionalFields reports whether any projected path uses the
// positional operator, which find projections reject
func (p *Projection) HasPositionalFields() bool {
	for _, f := range p.fields {
		for _, fragment := range path.Split(f.path) {
			if strings.HasPrefix(fragment, "$") {
				return true
			}
		}
	}
	return false
}
