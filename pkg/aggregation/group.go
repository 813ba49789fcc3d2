package aggregation

import (
	"context"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/expr"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

// accumulator folds the values of one group field
type accumulator interface {
	collect(value interface{})
	result() interface{}
}

type accumulatorSpec struct {
	field      string
	operator   string
	expression interface{}
}

// GroupStage is a blocking keyed accumulation. Input order is
// preserved for $first/$last and for the order of output groups.
type GroupStage struct {
	idExpression interface{}
	fields       []accumulatorSpec
}

func newGroupStage(spec interface{}) (*GroupStage, error) {
	specDoc, ok := spec.(*document.Document)
	if !ok {
		return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
			"a group's fields must be specified in an object")
	}
	idExpression, hasID := specDoc.Get("_id")
	if !hasID {
		return nil, mongoerr.New(mongoerr.CodeFailedToParse, "a group specification must include an _id")
	}
	stage := &GroupStage{idExpression: idExpression}
	for _, entry := range specDoc.Entries() {
		if entry.Key == "_id" {
			continue
		}
		fieldSpec, ok := entry.Value.(*document.Document)
		if !ok || fieldSpec.Len() != 1 {
			return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
				"The field '%s' must be an accumulator object", entry.Key)
		}
		operator := fieldSpec.Keys()[0]
		if !isAccumulator(operator) {
			return nil, mongoerr.Newf(mongoerr.CodeFailedToParse,
				"Unknown group operator '%s'", operator)
		}
		expression, _ := fieldSpec.Get(operator)
		stage.fields = append(stage.fields, accumulatorSpec{
			field:      entry.Key,
			operator:   operator,
			expression: expression,
		})
	}
	return stage, nil
}

func isAccumulator(operator string) bool {
	switch operator {
	case "$sum", "$avg", "$min", "$max", "$push", "$addToSet", "$first", "$last":
		return true
	}
	return false
}

func (s *GroupStage) Name() string { return "$group" }

func (s *GroupStage) Open(source Stream) Stream {
	var grouped Stream
	return streamOf(func(ctx context.Context) (*document.Document, error) {
		if grouped == nil {
			docs, err := s.group(ctx, source)
			if err != nil {
				return nil, err
			}
			grouped = NewSliceStream(docs)
		}
		return grouped.Next(ctx)
	})
}

type groupState struct {
	key          interface{}
	accumulators []accumulator
}

func (s *GroupStage) group(ctx context.Context, source Stream) ([]*document.Document, error) {
	groups := make(map[string]*groupState)
	order := make([]string, 0)

	for {
		doc, err := source.Next(ctx)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			break
		}
		keyValue, err := expr.Evaluate(s.idExpression, doc)
		if err != nil {
			return nil, err
		}
		if document.IsMissing(keyValue) {
			keyValue = nil
		}
		mapKey := canonicalKey(keyValue)
		state, exists := groups[mapKey]
		if !exists {
			state = &groupState{key: keyValue, accumulators: s.newAccumulators()}
			groups[mapKey] = state
			order = append(order, mapKey)
		}
		for i, fieldSpec := range s.fields {
			value, err := expr.Evaluate(fieldSpec.expression, doc)
			if err != nil {
				return nil, err
			}
			state.accumulators[i].collect(value)
		}
	}

	result := make([]*document.Document, 0, len(order))
	for _, mapKey := range order {
		state := groups[mapKey]
		groupDoc := document.NewDocument()
		groupDoc.Set("_id", state.key)
		for i, fieldSpec := range s.fields {
			groupDoc.Set(fieldSpec.field, state.accumulators[i].result())
		}
		result = append(result, groupDoc)
	}
	return result, nil
}

func (s *GroupStage) newAccumulators() []accumulator {
	accumulators := make([]accumulator, len(s.fields))
	for i, fieldSpec := range s.fields {
		accumulators[i] = newAccumulator(fieldSpec.operator)
	}
	return accumulators
}

// canonicalKey renders a normalized group key so that numerically
// equal keys land in the same bucket
func canonicalKey(value interface{}) string {
	return document.FormatValue(document.NormalizeValue(value))
}

func newAccumulator(operator string) accumulator {
	switch operator {
	case "$sum":
		return &sumAccumulator{}
	case "$avg":
		return &avgAccumulator{}
	case "$min":
		return &minMaxAccumulator{max: false}
	case "$max":
		return &minMaxAccumulator{max: true}
	case "$push":
		return &pushAccumulator{values: []interface{}{}}
	case "$addToSet":
		return &addToSetAccumulator{values: []interface{}{}}
	case "$first":
		return &firstAccumulator{}
	case "$last":
		return &lastAccumulator{}
	default:
		return &sumAccumulator{}
	}
}

type sumAccumulator struct {
	intSum     int64
	floatSum   float64
	hasFloat   bool
	hasInteger bool
}

func (a *sumAccumulator) collect(value interface{}) {
	if !document.IsNumeric(value) {
		return
	}
	if i, ok := document.Int64Value(value); ok && document.TypeOf(value) != document.TypeDouble {
		a.intSum += i
		a.hasInteger = true
		return
	}
	f, _ := document.Float64Value(value)
	a.floatSum += f
	a.hasFloat = true
}

func (a *sumAccumulator) result() interface{} {
	if a.hasFloat {
		return a.floatSum + float64(a.intSum)
	}
	return document.NormalizeNumber(a.intSum)
}

type avgAccumulator struct {
	sum   float64
	count int64
}

func (a *avgAccumulator) collect(value interface{}) {
	if f, ok := document.Float64Value(value); ok {
		a.sum += f
		a.count++
	}
}

func (a *avgAccumulator) result() interface{} {
	if a.count == 0 {
		return nil
	}
	return a.sum / float64(a.count)
}

type minMaxAccumulator struct {
	max     bool
	current interface{}
	hasAny  bool
}

func (a *minMaxAccumulator) collect(value interface{}) {
	if document.IsNullOrMissing(value) {
		return
	}
	if !a.hasAny {
		a.current = value
		a.hasAny = true
		return
	}
	cmp := document.Compare(value, a.current)
	if (a.max && cmp > 0) || (!a.max && cmp < 0) {
		a.current = value
	}
}

func (a *minMaxAccumulator) result() interface{} {
	if !a.hasAny {
		return nil
	}
	return a.current
}

type pushAccumulator struct {
	values []interface{}
}

func (a *pushAccumulator) collect(value interface{}) {
	if document.IsMissing(value) {
		return
	}
	a.values = append(a.values, value)
}

func (a *pushAccumulator) result() interface{} {
	return a.values
}

type addToSetAccumulator struct {
	values []interface{}
}

func (a *addToSetAccumulator) collect(value interface{}) {
	if document.IsMissing(value) {
		return
	}
	for _, existing := range a.values {
		if document.NullAwareEquals(existing, value) {
			return
		}
	}
	a.values = append(a.values, value)
}

func (a *addToSetAccumulator) result() interface{} {
	return a.values
}

type firstAccumulator struct {
	value  interface{}
	hasAny bool
}

func (a *firstAccumulator) collect(value interface{}) {
	if !a.hasAny {
		if document.IsMissing(value) {
			value = nil
		}
		a.value = value
		a.hasAny = true
	}
}

func (a *firstAccumulator) result() interface{} {
	return a.value
}

type lastAccumulator struct {
	value interface{}
}

func (a *lastAccumulator) collect(value interface{}) {
	if document.IsMissing(value) {
		value = nil
	}
	a.value = value
}

func (a *lastAccumulator) result() interface{} {
	return a.value
}
