package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbeema/treeprof/pkg/config"
	"go.uber.org/zap"
)

func TestPyroscopeExport(t *testing.T) {
	var gotPath, gotQuery, gotUser string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUser, _, _ = r.BasicAuth()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewPyroscopeExporter(&config.PyroscopeConfig{
		Endpoint: srv.URL,
		Username: "tenant-1",
		Password: "secret",
	}, zap.NewNop())

	p := &Profile{
		Service: "my service!",
		Kind:    "wall",
		Start:   time.Unix(100, 0),
		End:     time.Unix(110, 0),
		Data:    []byte("payload"),
	}
	if err := e.Export(context.Background(), p); err != nil {
		t.Fatalf("Export: %v", err)
	}

	if gotPath != "/ingest" {
		t.Errorf("path = %q", gotPath)
	}
	// Service names are sanitized before they hit the URL.
	if want := "name=my_service_.wall&format=pprof&from=100&until=110"; gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
	if gotUser != "tenant-1" {
		t.Errorf("basic auth user = %q", gotUser)
	}
	if string(gotBody) != "payload" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestPyroscopeExportRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := NewPyroscopeExporter(&config.PyroscopeConfig{Endpoint: srv.URL}, zap.NewNop())
	p := &Profile{Service: "svc", Kind: "wall", Start: time.Unix(1, 0), End: time.Unix(2, 0), Data: []byte("x")}

	if err := e.Export(context.Background(), p); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestPyroscopeExportGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewPyroscopeExporter(&config.PyroscopeConfig{Endpoint: srv.URL}, zap.NewNop())
	p := &Profile{Service: "svc", Kind: "wall", Start: time.Unix(1, 0), End: time.Unix(2, 0), Data: []byte("x")}

	if err := e.Export(context.Background(), p); err == nil {
		t.Fatal("Export succeeded against a permanently failing receiver")
	}
}

func TestSanitizeServiceName(t *testing.T) {
	cases := map[string]string{
		"plain":       "plain",
		"has space":   "has_space",
		"a/b@c":       "a_b_c",
		"dots.ok-1_2": "dots.ok-1_2",
	}
	for in, want := range cases {
		if got := sanitizeServiceName(in); got != want {
			t.Errorf("sanitizeServiceName(%q) = %q, want %q", in, got, want)
		}
	}
}
