package validate

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Name  string  `json:"name" validate:"required"`
	Kind  string  `yaml:"kind" validate:"oneof=a b"`
	Ratio float64 `json:"ratio" validate:"gte=0,lte=1"`
}

func TestStruct(t *testing.T) {
	if err := Struct(sample{Name: "x", Kind: "a", Ratio: 0.5}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}
	err := Struct(sample{Kind: "c", Ratio: 2})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v, want ErrInvalid", err)
	}
	for _, want := range []string{"name: is required", "kind: must be one of: a b", "ratio: must be at most 1"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q lacks %q", err, want)
		}
	}
}
