package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(ErrCodeIOFailure, "get", "read cache file", fs.ErrNotExist)

	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("expected the cause to survive unwrapping")
	}
	if CodeOf(err) != ErrCodeIOFailure {
		t.Errorf("expected IO_FAILURE, got %s", CodeOf(err))
	}
	if err.Category != CategoryIO {
		t.Errorf("expected io category, got %s", err.Category)
	}
}

func TestCodeMatching(t *testing.T) {
	err := New(ErrCodePathUnavailable, "prepare", "no platform cache directory")

	wrapped := fmt.Errorf("new cache: %w", err)
	if CodeOf(wrapped) != ErrCodePathUnavailable {
		t.Errorf("expected code through fmt wrapping, got %q", CodeOf(wrapped))
	}
	if !IsCode(wrapped, ErrCodePathUnavailable) {
		t.Error("IsCode failed through fmt wrapping")
	}
	if IsCode(wrapped, ErrCodeIOFailure) {
		t.Error("IsCode matched the wrong code")
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(ErrCodeCodecFailure, "store", "encode value", errors.New("bad type"))

	got := err.Error()
	for _, want := range []string{"CODEC_FAILURE", "store", "encode value", "bad type"} {
		if !strings.Contains(got, want) {
			t.Errorf("error string %q missing %q", got, want)
		}
	}
}
