package aggregation

import (
	"context"
	"testing"

	"github.com/mnohosten/marlin-db/pkg/document"
	"github.com/mnohosten/marlin-db/pkg/mongoerr"
)

func pairs(kv ...interface{}) *document.Document {
	return document.NewDocumentFromPairs(kv...)
}

func stage(name string, spec interface{}) *document.Document {
	return document.NewDocumentFromPairs(name, spec)
}

func run(t *testing.T, docs []*document.Document, stages ...*document.Document) []*document.Document {
	t.Helper()
	pipeline, err := NewPipeline(stages, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	result, err := pipeline.Execute(context.Background(), NewSliceStream(docs))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return result
}

func sampleDocs() []*document.Document {
	return []*document.Document{
		pairs("_id", int64(1), "item", "a", "qty", int64(5), "tags", []interface{}{"x", "y"}),
		pairs("_id", int64(2), "item", "b", "qty", int64(10), "tags", []interface{}{"y"}),
		pairs("_id", int64(3), "item", "a", "qty", int64(15), "tags", []interface{}{}),
	}
}

func TestMatchStage(t *testing.T) {
	result := run(t, sampleDocs(), stage("$match", pairs("item", "a")))
	if len(result) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(result))
	}
}

func TestProjectStage(t *testing.T) {
	result := run(t, sampleDocs(),
		stage("$match", pairs("_id", int64(1))),
		stage("$project", pairs("_id", int64(0), "double", pairs("$multiply", []interface{}{"$qty", int64(2)}))),
	)
	if len(result) != 1 {
		t.Fatalf("Expected 1 document, got %d", len(result))
	}
	if v, _ := result[0].Get("double"); v.(int32) != 10 {
		t.Errorf("Expected double=10, got %v", v)
	}
}

func TestGroupStage(t *testing.T) {
	result := run(t, sampleDocs(), stage("$group", pairs(
		"_id", "$item",
		"total", pairs("$sum", "$qty"),
		"count", pairs("$sum", int64(1)),
		"first", pairs("$first", "$qty"),
		"last", pairs("$last", "$qty"),
		"all", pairs("$push", "$qty"),
	)))
	if len(result) != 2 {
		t.Fatalf("Expected 2 groups, got %d", len(result))
	}
	// input order is preserved for group output
	groupA := result[0]
	if id, _ := groupA.Get("_id"); id.(string) != "a" {
		t.Fatalf("Expected first group 'a', got %v", id)
	}
	if v, _ := groupA.Get("total"); v.(int32) != 20 {
		t.Errorf("Expected total=20, got %v (%T)", v, v)
	}
	if v, _ := groupA.Get("count"); v.(int32) != 2 {
		t.Errorf("Expected count=2, got %v", v)
	}
	if v, _ := groupA.Get("first"); v.(int64) != 5 {
		t.Errorf("Expected first=5, got %v", v)
	}
	if v, _ := groupA.Get("last"); v.(int64) != 15 {
		t.Errorf("Expected last=15, got %v", v)
	}
	if v, _ := groupA.Get("all"); len(v.([]interface{})) != 2 {
		t.Errorf("Expected pushed values, got %v", v)
	}
}

func TestGroupNullKeyForMissing(t *testing.T) {
	docs := []*document.Document{
		pairs("_id", int64(1)),
		pairs("_id", int64(2), "k", nil),
	}
	result := run(t, docs, stage("$group", pairs("_id", "$k", "n", pairs("$sum", int64(1)))))
	if len(result) != 1 {
		t.Fatalf("Expected missing and null to group together, got %d groups", len(result))
	}
	if v, _ := result[0].Get("n"); v.(int32) != 2 {
		t.Errorf("Expected n=2, got %v", v)
	}
}

func TestSortStage(t *testing.T) {
	result := run(t, sampleDocs(), stage("$sort", pairs("qty", int64(-1))))
	first, _ := result[0].Get("qty")
	if first.(int64) != 15 {
		t.Errorf("Expected descending sort, got %v", first)
	}

	// multi-key: item asc, qty desc
	result = run(t, sampleDocs(), stage("$sort", pairs("item", int64(1), "qty", int64(-1))))
	if id, _ := result[0].Get("_id"); id.(int64) != 3 {
		t.Errorf("Expected _id=3 first, got %v", id)
	}
}

func TestSortStability(t *testing.T) {
	docs := []*document.Document{
		pairs("_id", int64(1), "k", int64(1)),
		pairs("_id", int64(2), "k", int64(1)),
		pairs("_id", int64(3), "k", int64(0)),
	}
	result := run(t, docs, stage("$sort", pairs("k", int64(1))))
	if id, _ := result[1].Get("_id"); id.(int64) != 1 {
		t.Errorf("Expected stable sort to keep _id=1 before _id=2, got %v", id)
	}
}

func TestLimitSkip(t *testing.T) {
	result := run(t, sampleDocs(), stage("$skip", int64(1)), stage("$limit", int64(1)))
	if len(result) != 1 {
		t.Fatalf("Expected 1 document, got %d", len(result))
	}
	if id, _ := result[0].Get("_id"); id.(int64) != 2 {
		t.Errorf("Expected _id=2, got %v", id)
	}
}

func TestCountStage(t *testing.T) {
	result := run(t, sampleDocs(), stage("$count", "n"))
	if len(result) != 1 {
		t.Fatalf("Expected 1 document, got %d", len(result))
	}
	if v, _ := result[0].Get("n"); v.(int64) != 3 {
		t.Errorf("Expected n=3, got %v", v)
	}
}

func TestUnwindStage(t *testing.T) {
	result := run(t, sampleDocs(), stage("$unwind", "$tags"))
	// 2 + 1 + 0 elements
	if len(result) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(result))
	}
	if v, _ := result[0].Get("tags"); v.(string) != "x" {
		t.Errorf("Expected unwound element 'x', got %v", v)
	}
}

func TestUnwindPreservesNullAndEmpty(t *testing.T) {
	docs := []*document.Document{
		pairs("_id", int64(1), "tags", []interface{}{}),
		pairs("_id", int64(2), "tags", nil),
		pairs("_id", int64(3)),
	}
	result := run(t, docs, stage("$unwind", pairs(
		"path", "$tags",
		"preserveNullAndEmptyArrays", true,
	)))
	if len(result) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(result))
	}

	// without the option they all drop
	result = run(t, docs, stage("$unwind", "$tags"))
	if len(result) != 0 {
		t.Fatalf("Expected 0 documents, got %d", len(result))
	}
}

func TestUnwindIncludeArrayIndex(t *testing.T) {
	docs := []*document.Document{pairs("_id", int64(1), "tags", []interface{}{"a", "b"})}
	result := run(t, docs, stage("$unwind", pairs("path", "$tags", "includeArrayIndex", "idx")))
	if len(result) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(result))
	}
	if v, _ := result[1].Get("idx"); v.(int64) != 1 {
		t.Errorf("Expected idx=1, got %v", v)
	}
}

func TestAddFieldsStage(t *testing.T) {
	result := run(t, sampleDocs(),
		stage("$match", pairs("_id", int64(1))),
		stage("$addFields", pairs("double", pairs("$multiply", []interface{}{"$qty", int64(2)}))),
	)
	if v, _ := result[0].Get("qty"); v.(int64) != 5 {
		t.Errorf("Expected original field preserved, got %v", v)
	}
	if v, _ := result[0].Get("double"); v.(int32) != 10 {
		t.Errorf("Expected computed field, got %v", v)
	}
}

func TestReplaceRootStage(t *testing.T) {
	docs := []*document.Document{pairs("_id", int64(1), "sub", pairs("a", int64(5)))}
	result := run(t, docs, stage("$replaceRoot", pairs("newRoot", "$sub")))
	if len(result) != 1 {
		t.Fatalf("Expected 1 document, got %d", len(result))
	}
	if v, _ := result[0].Get("a"); v.(int64) != 5 {
		t.Errorf("Expected promoted root, got %s", result[0])
	}
	if result[0].Has("_id") {
		t.Error("Expected old root fields to be gone")
	}
}

func TestSampleStage(t *testing.T) {
	result := run(t, sampleDocs(), stage("$sample", pairs("size", int64(2))))
	if len(result) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(result))
	}
}

type fakeResolver struct {
	collections map[string][]*document.Document
	replaced    map[string][]*document.Document
}

func (r *fakeResolver) StreamCollection(_ context.Context, name string) ([]*document.Document, error) {
	return r.collections[name], nil
}

func (r *fakeResolver) ReplaceCollection(_ context.Context, name string, docs []*document.Document) error {
	if r.replaced == nil {
		r.replaced = make(map[string][]*document.Document)
	}
	r.replaced[name] = docs
	return nil
}

func (r *fakeResolver) MergeCollection(ctx context.Context, name string, docs []*document.Document) error {
	return r.ReplaceCollection(ctx, name, docs)
}

func TestLookupStage(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]*document.Document{
		"items": {
			pairs("_id", "a", "desc", "first"),
			pairs("_id", "b", "desc", "second"),
		},
	}}
	pipeline, err := NewPipeline([]*document.Document{
		stage("$lookup", pairs(
			"from", "items",
			"localField", "item",
			"foreignField", "_id",
			"as", "joined",
		)),
	}, resolver)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	result, err := pipeline.Execute(context.Background(), NewSliceStream(sampleDocs()))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	joined, _ := result[0].Get("joined")
	array := joined.([]interface{})
	if len(array) != 1 {
		t.Fatalf("Expected 1 joined document, got %v", array)
	}
	if v, _ := array[0].(*document.Document).Get("desc"); v.(string) != "first" {
		t.Errorf("Expected joined desc 'first', got %v", v)
	}
}

func TestOutStage(t *testing.T) {
	resolver := &fakeResolver{collections: map[string][]*document.Document{}}
	pipeline, err := NewPipeline([]*document.Document{
		stage("$match", pairs("item", "a")),
		stage("$out", "target"),
	}, resolver)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	result, err := pipeline.Execute(context.Background(), NewSliceStream(sampleDocs()))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("Expected $out to emit nothing, got %d docs", len(result))
	}
	if len(resolver.replaced["target"]) != 2 {
		t.Errorf("Expected 2 documents written to target, got %v", resolver.replaced["target"])
	}
}

func TestLazyStagesDoNotOverConsume(t *testing.T) {
	consumed := 0
	source := streamOf(func(ctx context.Context) (*document.Document, error) {
		consumed++
		if consumed > 100 {
			return nil, nil
		}
		return pairs("_id", int64(consumed)), nil
	})
	pipeline, err := NewPipeline([]*document.Document{stage("$limit", int64(3))}, nil)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	result, err := Drain(context.Background(), pipeline.Stream(source))
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("Expected 3 documents, got %d", len(result))
	}
	if consumed != 3 {
		t.Errorf("Expected the source to be pulled exactly 3 times, got %d", consumed)
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Drain(ctx, NewSliceStream(sampleDocs()))
	if !mongoerr.HasCode(err, mongoerr.CodeQueryCanceled) {
		t.Errorf("Expected QueryCanceled, got %v", err)
	}
}

func TestUnknownStage(t *testing.T) {
	_, err := NewPipeline([]*document.Document{stage("$frobnicate", pairs())}, nil)
	if !mongoerr.HasCode(err, mongoerr.CodeUnknownPipelineStage) {
		t.Errorf("Expected unknown stage error 40324, got %v", err)
	}
}
