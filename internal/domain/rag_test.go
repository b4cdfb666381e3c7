package domain

import (
	"strings"
	"testing"
)

func TestChunkText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty", "", 4, 1, nil},
		{"shorter than size", "abc", 4, 1, []string{"abc"}},
		{"exact", "abcd", 4, 1, []string{"abcd"}},
		{"overlapping windows", "abcdefghij", 4, 2, []string{"abcd", "cdef", "efgh", "ghij"}},
		{"tail", "abcdefg", 4, 1, []string{"abcd", "defg"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkText(tt.text, tt.size, tt.overlap)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Fatalf("ChunkText(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestChunkTextDefaults(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 2000)
	chunks := ChunkText(text, ChunkSize, ChunkOverlap)
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != ChunkSize {
		t.Fatalf("first chunk = %d runes, want %d", len(chunks[0]), ChunkSize)
	}
}

func TestAddressPatchApply(t *testing.T) {
	t.Parallel()

	city := "Paris"
	empty := ""
	base := PlaceholderAddress(7)
	base.Line2 = "Apt 1"

	got := AddressPatch{City: &city, Line2: &empty, State: &empty}.Apply(base)
	if got.City != "Paris" {
		t.Errorf("City = %q", got.City)
	}
	if got.Line2 != "" {
		t.Errorf("Line2 = %q, want cleared", got.Line2)
	}
	if got.State != "Unknown" {
		t.Errorf("State = %q, want kept", got.State)
	}
	if got.UserID != 7 || got.Country != "USA" {
		t.Errorf("unexpected address %+v", got)
	}
}
