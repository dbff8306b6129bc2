package models

import (
	"reflect"
	"testing"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"/", []string{}},
		{"a", []string{"a"}},
		{"a/b/c", []string{"a", "b", "c"}},
		{"/a//b/c/", []string{"a", "b", "c"}},
		{"programs/ACME/", []string{"programs", "ACME"}},
	}
	for _, tt := range tests {
		got := SplitPath(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitPath(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJoinPathSkipsEmptySegments(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a", "", "b"}, "a/b"},
		{[]string{"/a/", "/b/"}, "a/b"},
		{[]string{"a//b", "c"}, "a/b/c"},
		{[]string{"", "", ""}, ""},
	}
	for _, tt := range tests {
		if got := JoinPath(tt.in...); got != tt.want {
			t.Errorf("JoinPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJoinSplitRoundTrip(t *testing.T) {
	paths := []string{
		"",
		"a",
		"a/b/c",
		"/Shared/Research/ACME/",
		"programs//ACME///PROG-10001 - Lipid_Study",
		"x/y/z.csv",
	}
	for _, p := range paths {
		if got, want := JoinPath(SplitPath(p)...), NormalizePath(p); got != want {
			t.Errorf("JoinPath(SplitPath(%q)) = %q, want %q", p, got, want)
		}
		if got := NormalizePath(NormalizePath(p)); got != NormalizePath(p) {
			t.Errorf("NormalizePath not idempotent for %q: %q", p, got)
		}
	}
}

func TestDeriveName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/", ""},
		{"a", "a"},
		{"a/b/c", "c"},
		{"a/b/c/", "c"},
		{"programs/ACME/", "ACME"},
		{"/Shared/Research/data.csv", "data.csv"},
	}
	for _, tt := range tests {
		if got := DeriveName(tt.in); got != tt.want {
			t.Errorf("DeriveName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeriveParent(t *testing.T) {
	for _, p := range []string{"", "a", "/a", "a/"} {
		if got := DeriveParent(p); got != nil {
			t.Errorf("DeriveParent(%q) = %+v, want nil", p, got)
		}
	}

	tests := []struct {
		in       string
		wantPath string
		wantName string
	}{
		{"a/b/c", "a/b", "b"},
		{"a/b", "a", "a"},
		{"/Shared/Research/ACME", "/Shared/Research", "Research"},
		{"programs/ACME/STUDY/", "programs/ACME/", "ACME"},
	}
	for _, tt := range tests {
		got := DeriveParent(tt.in)
		if got == nil {
			t.Fatalf("DeriveParent(%q) = nil", tt.in)
		}
		if got.Path != tt.wantPath || got.Name != tt.wantName {
			t.Errorf("DeriveParent(%q) = {%q, %q}, want {%q, %q}",
				tt.in, got.Path, got.Name, tt.wantPath, tt.wantName)
		}
	}
}

func TestAsPrefix(t *testing.T) {
	if got := AsPrefix(""); got != "" {
		t.Errorf("AsPrefix(\"\") = %q", got)
	}
	if got := AsPrefix("/a//b"); got != "a/b/" {
		t.Errorf("AsPrefix(/a//b) = %q, want a/b/", got)
	}
}

func TestStorageFolderOrderedSets(t *testing.T) {
	f := NewStorageFolder("a/b")
	f.AddFile(&StorageFile{Path: "a/b/1.txt", Name: "1.txt"})
	f.AddFile(&StorageFile{Path: "a/b/2.txt", Name: "2.txt"})
	f.AddFile(&StorageFile{Path: "a/b/1.txt", Name: "1.txt"})
	f.AddSubfolder(NewStorageFolder("a/b/c/"))
	f.AddSubfolder(NewStorageFolder("a/b/c"))

	if len(f.Files) != 2 || f.Files[0].Name != "1.txt" || f.Files[1].Name != "2.txt" {
		t.Errorf("files = %+v", f.Files)
	}
	if len(f.Subfolders) != 1 || f.Subfolders[0].Name != "c" {
		t.Errorf("subfolders = %+v", f.Subfolders)
	}
	if f.Name != "b" {
		t.Errorf("name = %q, want b", f.Name)
	}
}
