package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/lendwatch/internal/core/config"
	"github.com/vietddude/lendwatch/internal/core/domain"
	"github.com/vietddude/lendwatch/internal/tracking"
)

func testConfig(backendURL string) *config.AppConfig {
	cfg, err := config.Parse([]byte("server:\n  port: 0\nbackend:\n  url: " + backendURL + "\n"))
	if err != nil {
		panic(err)
	}
	// Parse defaults the port; 0 lets the listener pick one.
	cfg.Server.Port = 0
	return cfg
}

func TestService_Lifecycle(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"app-1","state":"approved"}`))
	}))
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc, err := NewService(ctx, testConfig(backend.URL), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	s, err := svc.Tracker().Track(ctx, domain.KindApplication, "app-1")
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		got, err := svc.Tracker().Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status == domain.SessionSucceeded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session did not succeed, status %s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	report := svc.Health().CheckHealth(ctx)
	if _, ok := report.Components["storage"]; !ok {
		t.Error("expected storage component in health report")
	}
	if _, ok := report.Components["redis"]; ok {
		t.Error("redis is not configured and must not be reported")
	}

	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := svc.Tracker().Track(ctx, domain.KindOffer, "of-1"); err != tracking.ErrClosed {
		t.Errorf("expected ErrClosed after Stop, got %v", err)
	}
}

func TestService_StopCancelsRunningSessions(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"of-1","application_id":"app-1","status":"processing"}`))
	}))
	defer backend.Close()

	ctx := context.Background()
	svc, err := NewService(ctx, testConfig(backend.URL), nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	s, err := svc.Tracker().Track(ctx, domain.KindOffer, "of-1")
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	got, err := svc.Tracker().Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.SessionCancelled {
		t.Errorf("expected cancelled session after Stop, got %s", got.Status)
	}
}

func TestNewService_InvalidPolicy(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.Polling.Offer.MaxAttempts = 0

	if _, err := NewService(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for invalid polling policy")
	}
}
