package engine

import "testing"

func TestLocationDir(t *testing.T) {
	tests := map[string]string{
		"ligandokreado/1iep/ts/candidate.smi": "ligandokreado/1iep/ts",
		"mem://1iep/ts/candidate.smi":         "mem://1iep/ts",
		"sftp://host/data/candidate.smi":      "sftp://host/data",
		"file:///data/candidate.smi":          "file:///data",
		"candidate.smi":                       ".",
	}
	for in, want := range tests {
		if got := LocationDir(in); got != want {
			t.Errorf("LocationDir(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinLocation(t *testing.T) {
	tests := []struct {
		dir  string
		elem []string
		want string
	}{
		{"out", []string{"docking"}, "out/docking"},
		{"mem://1iep", []string{"2025", "candidate.smi"}, "mem://1iep/2025/candidate.smi"},
		{"https://host/bucket/", []string{"pose"}, "https://host/bucket/pose"},
		{"", []string{"pose"}, "pose"},
	}
	for _, tt := range tests {
		if got := JoinLocation(tt.dir, tt.elem...); got != tt.want {
			t.Errorf("JoinLocation(%q, %v) = %q, want %q", tt.dir, tt.elem, got, tt.want)
		}
	}
}
