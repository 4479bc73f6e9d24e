package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func jsonHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestGzip_CompressesWhenAccepted(t *testing.T) {
	h := Gzip(jsonHandler(http.StatusOK, `{"posts":[]}`))

	req := httptest.NewRequest(http.MethodGet, "/db", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", rec.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `{"posts":[]}` {
		t.Errorf("unexpected body %q", body)
	}
}

func TestGzip_Passthrough(t *testing.T) {
	tests := []struct {
		name    string
		accept  string
		handler http.Handler
	}{
		{"not accepted", "", jsonHandler(http.StatusOK, "{}")},
		{"no content", "gzip", jsonHandler(http.StatusNoContent, "")},
		{"already encoded", "gzip", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "br")
			w.Write([]byte("x"))
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Encoding", tt.accept)
			}
			rec := httptest.NewRecorder()
			Gzip(tt.handler).ServeHTTP(rec, req)

			if rec.Header().Get("Content-Encoding") == "gzip" {
				t.Error("response should not be gzip encoded")
			}
		})
	}
}

func TestETag(t *testing.T) {
	h := ETag(jsonHandler(http.StatusOK, `[{"id":1}]`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != `[{"id":1}]` {
		t.Fatalf("unexpected first response %d %q", rec.Code, rec.Body.String())
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotModified || rec.Body.Len() != 0 {
		t.Errorf("expected empty 304, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestETag_SkipsErrorsAndWrites(t *testing.T) {
	rec := httptest.NewRecorder()
	ETag(jsonHandler(http.StatusNotFound, `{"code":"NOT_FOUND"}`)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
	if rec.Code != http.StatusNotFound || rec.Header().Get("ETag") != "" {
		t.Errorf("error responses must not be tagged: %d %q", rec.Code, rec.Header().Get("ETag"))
	}

	rec = httptest.NewRecorder()
	ETag(jsonHandler(http.StatusCreated, `{}`)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))
	if rec.Code != http.StatusCreated || rec.Header().Get("ETag") != "" {
		t.Errorf("writes must pass through: %d", rec.Code)
	}
}
