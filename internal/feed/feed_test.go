package feed

import (
	"errors"
	"testing"
)

func TestUpdateValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		upd  Update
		want error
	}{
		{name: "text", upd: Update{Text: "hello"}},
		{name: "items", upd: Update{Items: []Item{{Link: "https://example.com/1"}}}},
		{name: "empty", upd: Update{}, want: ErrEmptyUpdate},
		{name: "blank text", upd: Update{Text: "  "}, want: ErrEmptyUpdate},
		{name: "both", upd: Update{Text: "x", Items: []Item{{}}}, want: ErrAmbiguousUpdate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.upd.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
