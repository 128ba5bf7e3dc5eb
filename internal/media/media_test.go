package media

import (
	"os"
	"strings"
	"testing"
)

func TestIsImageURL(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"https://example.com/media/abc.png", true},
		{"http://example.com/a.JPEG", true},
		{"https://example.com/pic.webp?token=xyz", true},
		{"https://example.com/pic.gif", true},
		{"hello world", false},
		{"https://example.com/page.html", false},
		{"check https://example.com/a.png out", false},
		{"ftp://example.com/a.png", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsImageURL(tt.body); got != tt.want {
			t.Errorf("IsImageURL(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

func TestDiskStorePutAndPath(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "http://localhost:8080/media/")
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}

	url, err := store.Put("photo.jpg", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:8080/media/") {
		t.Errorf("url = %q, want base URL prefix", url)
	}
	if !strings.HasSuffix(url, ".jpg") {
		t.Errorf("url = %q, want original extension kept", url)
	}
	if !IsImageURL(url) {
		t.Errorf("stored url %q does not pass the image probe", url)
	}

	name := url[strings.LastIndex(url, "/")+1:]
	path, err := store.Path(name)
	if err != nil {
		t.Fatalf("Path() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("stored data = %q", data)
	}
}

func TestDiskStoreRejectsTraversal(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "http://localhost/media")
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}

	for _, name := range []string{"../secret", "a/b.png", ""} {
		if _, err := store.Path(name); err == nil {
			t.Errorf("Path(%q) succeeded, want error", name)
		}
	}
}

func TestDiskStoreUnknownExtensionDefaults(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), "http://localhost/media")
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}

	url, err := store.Put("weird.exe", []byte("data"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !strings.HasSuffix(url, ".png") {
		t.Errorf("url = %q, want fallback .png extension", url)
	}
}
