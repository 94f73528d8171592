package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"anova-service/internal/discovery"
	"anova-service/internal/transport/relay"
)

func TestScanFindsAppliance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/scan" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"address":"11:11","name":"Speaker","rssi":-40,"service_uuids":["ffe0"]},
			{"address":"22:22","name":"Anova","rssi":-60,"service_uuids":["0000FFE0-0000-1000-8000-00805F9B34FB"]}
		]`))
	}))
	defer srv.Close()

	s := NewScanner(relay.NewClient(srv.URL, time.Second, zap.NewNop()), discovery.DefaultSignature, zap.NewNop())
	adv, err := s.Scan(context.Background(), 100*time.Millisecond)
	if err != nil || adv == nil {
		t.Fatalf("Scan = %+v, %v", adv, err)
	}
	if adv.Address != "22:22" {
		t.Fatalf("address = %q", adv.Address)
	}
}

func TestScanRelayFailureIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"adapter busy"}`))
	}))
	defer srv.Close()

	s := NewScanner(relay.NewClient(srv.URL, time.Second, zap.NewNop()), discovery.DefaultSignature, zap.NewNop())
	adv, err := s.Scan(context.Background(), 100*time.Millisecond)
	if adv != nil || err != nil {
		t.Fatalf("Scan = %+v, %v; want not found", adv, err)
	}
}
