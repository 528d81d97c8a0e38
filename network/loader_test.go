package network

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newLoader(t *testing.T) *Loader {
	t.Helper()
	client, err := NewClient(WithTimeout(5 * time.Second))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return NewLoader(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoadDataURL(t *testing.T) {
	res, err := newLoader(t).Load(context.Background(), "data:text/javascript,var%20x%20%3D%201")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if res.ContentType != "text/javascript" {
		t.Errorf("ContentType = %q, want text/javascript", res.ContentType)
	}
	if string(res.Content) != "var x = 1" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	if err := os.WriteFile(path, []byte("<p>hi</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	u, err := Locate(path)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if !strings.HasPrefix(u, "file://") {
		t.Fatalf("Locate() = %q, want a file URL", u)
	}

	res, err := newLoader(t).Load(context.Background(), u)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(res.Content) != "<p>hi</p>" || res.ContentType != "text/html" {
		t.Errorf("Got %q (%s)", res.Content, res.ContentType)
	}

	if _, err := newLoader(t).Load(context.Background(), u+".missing"); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestLoadHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app.js":
			w.Header().Set("Content-Type", "application/javascript; charset=UTF-8")
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			_, _ = gz.Write([]byte("ready()"))
			_ = gz.Close()
		case "/old.js":
			http.Redirect(w, r, "/app.js", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	loader := newLoader(t)

	res, err := loader.Load(context.Background(), server.URL+"/old.js")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(res.Content) != "ready()" {
		t.Errorf("Content = %q", res.Content)
	}
	if res.ContentType != "application/javascript" || res.Charset != "utf-8" {
		t.Errorf("ContentType = %q charset %q", res.ContentType, res.Charset)
	}
	if !strings.HasSuffix(res.URL, "/app.js") {
		t.Errorf("URL = %q, want the redirect target", res.URL)
	}

	if _, err := loader.Load(context.Background(), server.URL+"/missing.js"); err == nil || !strings.Contains(err.Error(), "HTTP 404") {
		t.Errorf("Expected HTTP 404, got %v", err)
	}
}

func TestLoadRejectsUnknownScheme(t *testing.T) {
	if _, err := newLoader(t).Load(context.Background(), "ftp://example.com/page.html"); err == nil {
		t.Error("Expected an error for ftp")
	}
}

func TestClientKeepsCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
	}))
	defer server.Close()

	client, err := NewClient(WithUserAgent("test"), WithMaxRedirects(2))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get(context.Background(), server.URL); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	u, _ := url.Parse(server.URL)
	if cookies := client.Cookies(u); len(cookies) != 1 || cookies[0].Value != "abc" {
		t.Errorf("Cookies = %v", cookies)
	}
}

func TestLoadPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/demo/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, `<!DOCTYPE html><html><head>
				<script>var order = ["inline"];</script>
				<script src="lib.js"></script>
				<script type="application/json">{"skip": true}</script>
				<script src="/missing.js"></script>
				<script type="text/javascript">order.push("last");</script>
			</head><body><div id="menu"></div></body></html>`)
		case "/demo/lib.js":
			_, _ = io.WriteString(w, `order.push("lib");`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	page, err := newLoader(t).LoadPage(context.Background(), server.URL+"/demo/index.html")
	if err != nil {
		t.Fatalf("LoadPage() error = %v", err)
	}
	if page.Doc.GetElementById("menu") == nil {
		t.Error("Expected the page body to be parsed")
	}
	if len(page.Scripts) != 4 {
		t.Fatalf("Expected 4 scripts, got %d", len(page.Scripts))
	}

	if !page.Scripts[0].Inline || page.Scripts[0].Code != `var order = ["inline"];` {
		t.Errorf("Script 0 = %+v", page.Scripts[0])
	}
	if page.Scripts[1].Source != server.URL+"/demo/lib.js" || page.Scripts[1].Code != `order.push("lib");` {
		t.Errorf("Script 1 = %+v", page.Scripts[1])
	}
	if page.Scripts[2].Err == nil {
		t.Error("Expected the missing script to carry an error")
	}
	if page.Scripts[3].Code != `order.push("last");` {
		t.Errorf("Script 3 = %+v", page.Scripts[3])
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"http://example.com/a/b.html", "c.js", "http://example.com/a/c.js"},
		{"http://example.com/a/b.html", "/c.js", "http://example.com/c.js"},
		{"file:///tmp/page.html", "js/app.js", "file:///tmp/js/app.js"},
		{"http://example.com/", "https://cdn.example.com/x.js", "https://cdn.example.com/x.js"},
		{"http://example.com/", "data:,x", "data:,x"},
		{"http://example.com/", "", "http://example.com/"},
	}
	for _, tt := range tests {
		got, err := ResolveURL(tt.base, tt.ref)
		if err != nil {
			t.Errorf("ResolveURL(%q, %q) error = %v", tt.base, tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ResolveURL(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}

func TestParseDataURL(t *testing.T) {
	d, err := ParseDataURL("data:text/html;charset=utf-8;base64,PHA+PC9wPg==")
	if err != nil {
		t.Fatalf("ParseDataURL() error = %v", err)
	}
	if d.MediaType != "text/html" || d.Charset != "utf-8" || !d.Base64 || string(d.Data) != "<p></p>" {
		t.Errorf("Got %+v", d)
	}

	d, err = ParseDataURL("data:,plain")
	if err != nil || d.MediaType != "text/plain" || string(d.Data) != "plain" {
		t.Errorf("Got %+v, %v", d, err)
	}

	if _, err := ParseDataURL("data:text/plain"); err == nil {
		t.Error("Expected an error for a missing comma")
	}
}

func TestIsJavaScriptType(t *testing.T) {
	for typ, want := range map[string]bool{
		"":                       true,
		"text/javascript":        true,
		"application/javascript": true,
		"TEXT/JavaScript":        true,
		"application/json":       false,
		"module":                 false,
		"text/template":          false,
	} {
		if got := IsJavaScriptType(typ); got != want {
			t.Errorf("IsJavaScriptType(%q) = %v, want %v", typ, got, want)
		}
	}
}
