package source

import (
	"path/filepath"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"local_folder", KindLocalFolder, false},
		{"local-folder", KindLocalFolder, false},
		{"LOCAL-FILE", KindLocalFile, false},
		{" web-page ", KindWebPage, false},
		{"repository", KindRepository, false},
		{"drive-folder", KindDriveFolder, false},
		{"ftp", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKindRemote(t *testing.T) {
	if KindLocalFolder.Remote() || KindLocalFile.Remote() {
		t.Error("local kinds must not be remote")
	}
	if !KindRepository.Remote() || !KindDriveFolder.Remote() || !KindWebPage.Remote() {
		t.Error("repository, drive, and web kinds must be remote")
	}
}

func TestNormalizeLocator_LocalPathsConverge(t *testing.T) {
	dir := t.TempDir()

	a, err := NormalizeLocator(dir, KindLocalFolder)
	if err != nil {
		t.Fatalf("NormalizeLocator: %v", err)
	}
	b, err := NormalizeLocator(dir+string(filepath.Separator)+".", KindLocalFolder)
	if err != nil {
		t.Fatalf("NormalizeLocator: %v", err)
	}
	if a != b {
		t.Errorf("spellings diverged: %q vs %q", a, b)
	}
}

func TestNormalizeLocator_WebPage(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://Example.COM/docs", "https://example.com/docs", false},
		{"https://example.com", "https://example.com/", false},
		{"https://example.com/page#section", "https://example.com/page", false},
		{"ftp://example.com/file", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeLocator(tt.in, KindWebPage)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeLocator(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeLocator(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeLocator_DriveFolder(t *testing.T) {
	id, err := NormalizeLocator("https://drive.google.com/drive/folders/1a2b3c", KindDriveFolder)
	if err != nil {
		t.Fatalf("NormalizeLocator: %v", err)
	}
	if id != "1a2b3c" {
		t.Errorf("folder URL: got %q, want %q", id, "1a2b3c")
	}

	bare, err := NormalizeLocator("1a2b3c", KindDriveFolder)
	if err != nil {
		t.Fatalf("NormalizeLocator: %v", err)
	}
	if bare != "1a2b3c" {
		t.Errorf("bare ID: got %q, want %q", bare, "1a2b3c")
	}
}

func TestSourceID_Stable(t *testing.T) {
	a := SourceID("/home/user/docs", KindLocalFolder)
	b := SourceID("/home/user/docs", KindLocalFolder)
	if a != b {
		t.Errorf("same input produced different IDs: %q vs %q", a, b)
	}
	if a == SourceID("/home/user/docs", KindRepository) {
		t.Error("different kinds must produce different IDs")
	}
	if a == SourceID("/home/user/other", KindLocalFolder) {
		t.Error("different locators must produce different IDs")
	}
}

func TestDocumentID_ScopedToSource(t *testing.T) {
	a := DocumentID("src_a", "readme.md")
	if a != DocumentID("src_a", "readme.md") {
		t.Error("document ID must be stable")
	}
	if a == DocumentID("src_b", "readme.md") {
		t.Error("same path under different sources must differ")
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(map[string]string{"a.md": "h1", "b.md": "h2"})
	b := Fingerprint(map[string]string{"b.md": "h2", "a.md": "h1"})
	if a != b {
		t.Error("fingerprint must be order-independent")
	}
	if a == Fingerprint(map[string]string{"a.md": "h1", "b.md": "changed"}) {
		t.Error("changed content hash must change the fingerprint")
	}
	if Fingerprint(nil) != "" {
		t.Error("empty document set must fingerprint to empty string")
	}
}
