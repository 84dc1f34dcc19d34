package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dropagent/internal/common"
	"dropagent/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(config.BackendConfig{BaseURL: srv.URL, RequestTimeout: 5 * time.Second})
	return c, srv
}

func TestFetchPending_ObjectAndStringShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"object list", `[{"filename":"a.rak"},{"filename":"b.rak"}]`, []string{"a.rak", "b.rak"}},
		{"string list", `["a.rak","b.rak"]`, []string{"a.rak", "b.rak"}},
		{"empty list", `[]`, nil},
		{"empty body", ``, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != common.PathPendingTriggers {
					t.Errorf("unexpected path %q", r.URL.Path)
				}
				_, _ = w.Write([]byte(c.body))
			}))
			got, err := client.FetchPending(context.Background())
			if err != nil {
				t.Fatalf("FetchPending: %v", err)
			}
			if len(got) != len(c.want) {
				t.Fatalf("got %v, want %v", got, c.want)
			}
			for i := range got {
				if got[i] != c.want[i] {
					t.Fatalf("got %v, want %v", got, c.want)
				}
			}
		})
	}
}

func TestFetchPending_NoContent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	got, err := client.FetchPending(context.Background())
	if err != nil {
		t.Fatalf("FetchPending: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no jobs, got %v", got)
	}
}

func TestDownloadTrigger_StreamsToFile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != common.PathPendingTriggers+"/Q1.rak" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`action="generer"`))
	}))
	dest := filepath.Join(t.TempDir(), "staging", "Q1.rak")
	if err := client.DownloadTrigger(context.Background(), "Q1.rak", dest); err != nil {
		t.Fatalf("DownloadTrigger: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded trigger: %v", err)
	}
	if string(data) != `action="generer"` {
		t.Fatalf("trigger content = %q", data)
	}
}

func TestDownloadSource_RemovesPartialOnFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Announce more bytes than will be sent, then cut the connection so
		// the client fails mid-copy.
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write([]byte("partial"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	dest := filepath.Join(t.TempDir(), "out", "Q1.xlsx")
	if err := client.DownloadSource(context.Background(), "Q1", dest); err == nil {
		t.Fatalf("expected download error")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("partial file should have been removed, stat err = %v", err)
	}
}

func TestAck_PostsFilename(t *testing.T) {
	var gotBody string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != common.PathAck {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	if err := client.Ack(context.Background(), "Q1.rak"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if gotBody != `{"filename":"Q1.rak"}` {
		t.Fatalf("ack body = %q", gotBody)
	}
}

func TestAck_ErrorOnServerFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	if err := client.Ack(context.Background(), "Q1.rak"); err == nil {
		t.Fatalf("expected ack error")
	}
}

func TestUploadBundle_FieldsAndFilenames(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "Q1.xml")
	companionPath := filepath.Join(dir, "Q1.xlsx")
	if err := os.WriteFile(resultPath, []byte("<resultat/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(companionPath, []byte("workbook"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := map[string]string{}
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != common.PathUploadBundle {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		for field, headers := range r.MultipartForm.File {
			got[field] = headers[0].Filename
		}
	}))

	if err := client.UploadBundle(context.Background(), resultPath, companionPath, common.BundleFieldWorkbook); err != nil {
		t.Fatalf("UploadBundle: %v", err)
	}
	if got[common.BundleFieldResult] != "Q1.xml" {
		t.Fatalf("result part = %q", got[common.BundleFieldResult])
	}
	if got[common.BundleFieldWorkbook] != "Q1.xlsx" {
		t.Fatalf("companion part = %q", got[common.BundleFieldWorkbook])
	}
}

func TestUploadBundle_NoCompanion(t *testing.T) {
	dir := t.TempDir()
	resultPath := filepath.Join(dir, "Q1.xml")
	if err := os.WriteFile(resultPath, []byte("<resultat/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	var fields int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		fields = len(r.MultipartForm.File)
	}))
	if err := client.UploadBundle(context.Background(), resultPath, "", common.BundleFieldDocument); err != nil {
		t.Fatalf("UploadBundle: %v", err)
	}
	if fields != 1 {
		t.Fatalf("expected single part, got %d", fields)
	}
}
