package articulation

import (
	"reflect"
	"testing"
)

func TestObjectCandidates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple", `prefix {"key": "value"} suffix`, []string{`{"key": "value"}`}},
		{"nested", `start {"a": {"b": "c"}} end`, []string{`{"a": {"b": "c"}}`}},
		{"multiple", `one {"id": 1} two {"id": 2}`, []string{`{"id": 1}`, `{"id": 2}`}},
		{"brace in string", `{"key": "value with } inside"}`, []string{`{"key": "value with } inside"}`}},
		{"escaped quote", `{"key": "a \" b"}`, []string{`{"key": "a \" b"}`}},
		{"incomplete", `{"key": "value"`, nil},
		{"stray closer", `} {"a": 1}`, []string{`{"a": 1}`}},
		{"korean", `결과: {"title": "학기별 평점"}`, []string{`{"title": "학기별 평점"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := objectCandidates(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("objectCandidates() = %v, want %v", got, tt.want)
			}
		})
	}
}
