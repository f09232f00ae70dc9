package validation

import (
	"strings"
	"testing"
)

func TestValidateExternalID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "globex", false},
		{"single char", "A", false},
		{"registry number", "HRB-12345", false},
		{"namespaced", "crm:acct_0042", false},
		{"email style", "legal@acme.test", false},
		{"max length", strings.Repeat("a", 128), false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", 129), true},
		{"path traversal", "../sessions", true},
		{"slash", "acme/legal", true},
		{"query injection", "acme'; DROP TABLE--", true},
		{"spaces", "acme corp", true},
		{"newline", "acme\nx", true},
		{"starts with separator", "-acme", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExternalID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExternalID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeExternalID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"passthrough", "globex", "globex", false},
		{"trimmed", "  globex  ", "globex", false},
		{"case kept", "GloBex", "GloBex", false},
		{"invalid rejected", "glo bex", "", true},
		{"blank rejected", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeExternalID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeExternalID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeExternalID(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
