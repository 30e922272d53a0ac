package embed

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello   world  ", "hello world"},
		{"line\none\n\nline two", "line one line two"},
		{"\t\n ", ""},
		{"already clean", "already clean"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateBatch(t *testing.T) {
	if err := ValidateBatch("m", []string{"ok", "also ok"}); err != nil {
		t.Errorf("valid batch rejected: %v", err)
	}

	err := ValidateBatch("m", nil)
	if err == nil {
		t.Fatal("empty batch accepted")
	}
	var embedErr *Error
	if !errors.As(err, &embedErr) {
		t.Errorf("error is %T, want *Error", err)
	}

	if err := ValidateBatch("m", []string{"ok", "   \n\t "}); err == nil {
		t.Error("batch with whitespace-only input accepted")
	}
}
