package render

import (
	"bytes"
	"strings"
	"testing"
)

func sample() *KeyValues {
	kv := &KeyValues{}
	kv.Add("inserted", 2)
	kv.Add("skipped", 10)
	return kv
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"tsv", FormatTSV, false},
		{"ndjson", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatTable, "KEY       VALUE\n--------  -----\ninserted  2\nskipped   10\n"},
		{FormatTSV, "KEY\tVALUE\ninserted\t2\nskipped\t10\n"},
		{FormatJSON, "{\n  \"inserted\": 2,\n  \"skipped\": 10\n}\n"},
		{FormatYAML, "inserted: 2\nskipped: 10\n"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewRenderer(&buf, Options{Format: tt.format}).Render(sample()); err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", buf.String(), tt.want)
			}
		})
	}
}

func TestYAMLKeepsInsertionOrder(t *testing.T) {
	kv := &KeyValues{}
	kv.Add("zeta", "last")
	kv.Add("alpha", "first")

	var buf bytes.Buffer
	if err := NewRenderer(&buf, Options{Format: FormatYAML}).Render(kv); err != nil {
		t.Fatal(err)
	}
	if strings.Index(buf.String(), "zeta") > strings.Index(buf.String(), "alpha") {
		t.Errorf("expected insertion order, got:\n%s", buf.String())
	}
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewRenderer(&buf, Options{}).RenderTable([]string{"A"}, nil); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
