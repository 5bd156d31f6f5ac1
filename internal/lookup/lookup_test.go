package lookup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	table, err := Parse(strings.NewReader("1\tbeijing\n\n79 zhang jia kou\n  216\ttianjin  \n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		code int
		want string
	}{
		{1, "beijing"},
		{79, "zhang jia kou"},
		{216, "tianjin"},
		{999, ""},
	}
	for _, tt := range tests {
		if got := table.Get(tt.code); got != tt.want {
			t.Errorf("Get(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"non numeric code", "abc\tcity\n"},
		{"missing name", "12\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	cityPath := filepath.Join(dir, "city.txt")
	if err := os.WriteFile(cityPath, []byte("5 shanghai\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tables, err := LoadAll(Paths{City: cityPath})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tables.City.Get(5) != "shanghai" {
		t.Errorf("expected shanghai, got %q", tables.City.Get(5))
	}
	if len(tables.Region) != 0 {
		t.Errorf("expected empty region table, got %d entries", len(tables.Region))
	}

	if _, err := LoadAll(Paths{Region: filepath.Join(dir, "missing.txt")}); err == nil {
		t.Error("expected error for missing region file")
	}
}
