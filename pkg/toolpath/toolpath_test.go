package toolpath

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    []string
		wantErr bool
	}{
		{"single segment", "echo", []string{"echo"}, false},
		{"three segments", "calc.math.add_numbers", []string{"calc", "math", "add_numbers"}, false},
		{"hyphen and digits", "svc.v2.get-user", []string{"svc", "v2", "get-user"}, false},
		{"empty path", "", nil, true},
		{"empty segment", "a..b", nil, true},
		{"leading dot", ".a.b", nil, true},
		{"trailing dot", "a.b.", nil, true},
		{"leading digit", "a.1b", nil, true},
		{"leading hyphen", "a.-b", nil, true},
		{"whitespace", "a. b", nil, true},
		{"slash", "a/b", nil, true},
		{"too deep", strings.Repeat("a.", MaxDepth) + "a", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.path, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("segment %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestJoinRoundTrip(t *testing.T) {
	path := "calc.math.add_numbers"
	segs, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := Join(segs); got != path {
		t.Errorf("Join(Parse(%q)) = %q", path, got)
	}
}

func TestValid(t *testing.T) {
	if !Valid("a.b.c") {
		t.Error("Valid(a.b.c) = false")
	}
	if Valid("a..c") {
		t.Error("Valid(a..c) = true")
	}
}
