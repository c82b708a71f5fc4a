package container

import "testing"

func TestParseMemoryBytes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"gibibytes", "2g", 2 << 30},
		{"mebibytes", "512m", 512 << 20},
		{"bare bytes", "1073741824", 1 << 30},
		{"uppercase with spaces", " 4G ", 4 << 30},
		{"empty", "", DefaultMemoryBytes},
		{"malformed", "plenty", DefaultMemoryBytes},
		{"unit without number", "g", DefaultMemoryBytes},
		{"negative", "-1g", DefaultMemoryBytes},
		{"zero", "0", DefaultMemoryBytes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseMemoryBytes(tt.input); got != tt.want {
				t.Errorf("ParseMemoryBytes(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
