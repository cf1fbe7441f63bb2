package reportclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"hordegraphy/internal/stats"
)

var totals = []stats.MemberTotal{
	{ID: "a", Name: "김철수", Count: 2},
	{ID: "b", Name: "박영희", Count: 5},
}

func TestGenerateCallsService(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"report": "잘하고 있어요"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", false)
	report, err := c.Generate(context.Background(), "2024-05", totals)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if report != "잘하고 있어요" {
		t.Fatalf("unexpected report %q", report)
	}
	if got.Month != "2024-05" || len(got.Members) != 2 || got.Members[1].Count != 5 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestGenerateSurfacesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	if _, err := c.Generate(context.Background(), "", totals); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected service error, got %v", err)
	}
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy")
	}
}

func TestSkipModeRanksLocally(t *testing.T) {
	c := New("http://unused", true)
	report, err := c.Generate(context.Background(), "2024-05", totals)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(report, "1. 박영희: 5회") || !strings.Contains(report, "2. 김철수: 2회") {
		t.Fatalf("unexpected local report:\n%s", report)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("skip health: %v", err)
	}
	if _, err := c.Generate(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty totals")
	}
}
