package graph

import (
	"testing"
)

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectedLabel string
		expectedID    string
	}{
		{
			name:          "signal with uuid",
			input:         "signal:7c8e2b3a-1234-4abc-9def-000000000001",
			expectedLabel: "Signal",
			expectedID:    "7c8e2b3a-1234-4abc-9def-000000000001",
		},
		{
			name:          "actor with name key",
			input:         "actor:Riverbend Mutual Aid",
			expectedLabel: "Actor",
			expectedID:    "Riverbend Mutual Aid",
		},
		{
			name:          "story with uuid",
			input:         "story:abc-123",
			expectedLabel: "Story",
			expectedID:    "abc-123",
		},
		{
			name:          "no prefix falls back to Unknown",
			input:         "bare-id-without-colon",
			expectedLabel: "Unknown",
			expectedID:    "bare-id-without-colon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, id := parseNodeID(tt.input)
			if label != tt.expectedLabel {
				t.Errorf("parseNodeID(%s) label = %s; want %s", tt.input, label, tt.expectedLabel)
			}
			idStr, ok := id.(string)
			if !ok {
				t.Fatalf("parseNodeID(%s) id type = %T; want string", tt.input, id)
			}
			if idStr != tt.expectedID {
				t.Errorf("parseNodeID(%s) id = %v; want %v", tt.input, id, tt.expectedID)
			}
		})
	}
}

func TestGetUniqueKey(t *testing.T) {
	tests := []struct {
		label       string
		expectedKey string
	}{
		{"Signal", "id"},
		{"signal", "id"},
		{"Actor", "name"},
		{"actor", "name"},
		{"Story", "id"},
		{"Situation", "id"},
		{"Citation", "id"},
		{"Source", "id"},
		{"Unknown", "id"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			key := getUniqueKey(tt.label)
			if key != tt.expectedKey {
				t.Errorf("getUniqueKey(%s) = %s; want %s", tt.label, key, tt.expectedKey)
			}
		})
	}
}
