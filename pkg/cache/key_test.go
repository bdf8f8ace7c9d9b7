package cache

import (
	"strings"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "resource and range",
			key:  Key{Resource: "abc123", Range: "Sheet1"},
			want: "sheets:abc123:Sheet1",
		},
		{
			name: "range with reserved characters",
			key:  Key{Resource: "abc123", Range: "Sheet1!A1:C10"},
			want: "sheets:abc123:Sheet1%21A1%3AC10",
		},
		{
			name: "options sorted",
			key: Key{
				Resource: "abc123",
				Range:    "A1:B2",
				Options: map[string]string{
					"valueRenderOption":    "FORMATTED_VALUE",
					"dateTimeRenderOption": "SERIAL_NUMBER",
				},
			},
			want: "sheets:abc123:A1%3AB2:dateTimeRenderOption=SERIAL_NUMBER:valueRenderOption=FORMATTED_VALUE",
		},
		{
			name: "empty range",
			key:  Key{Resource: "abc123"},
			want: "sheets:abc123:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKey_Deterministic(t *testing.T) {
	opts := map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"}
	first := Key{Resource: "r", Range: "x", Options: opts}.String()

	for i := 0; i < 50; i++ {
		if got := (Key{Resource: "r", Range: "x", Options: opts}).String(); got != first {
			t.Fatalf("String() = %q, want %q", got, first)
		}
	}
}

func TestKey_DistinctRequestsNeverCollide(t *testing.T) {
	keys := []Key{
		{Resource: "a:b", Range: "c"},
		{Resource: "a", Range: "b:c"},
		{Resource: "a", Range: "b", Options: map[string]string{"c": ""}},
		{Resource: "a", Range: "b:c="},
		{Resource: "a", Range: "b", Options: map[string]string{"x": "1:y=2"}},
		{Resource: "a", Range: "b", Options: map[string]string{"x": "1", "y": "2"}},
		{Resource: "a", Range: "b"},
		{Resource: "a", Range: "B"},
	}

	seen := make(map[string]int)
	for i, k := range keys {
		s := k.String()
		if j, ok := seen[s]; ok {
			t.Errorf("keys %d and %d both map to %q", j, i, s)
		}
		seen[s] = i
	}
}

func TestResourcePrefix(t *testing.T) {
	prefix := ResourcePrefix("abc")

	if !strings.HasPrefix(Key{Resource: "abc", Range: "A1"}.String(), prefix) {
		t.Error("key of resource should start with its prefix")
	}
	// "abc" must not match keys of "abcd".
	if strings.HasPrefix(Key{Resource: "abcd", Range: "A1"}.String(), prefix) {
		t.Error("prefix of abc matches key of abcd")
	}
}
