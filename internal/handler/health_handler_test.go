package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anova-service/internal/config"
)

func TestHealthWithoutDatabase(t *testing.T) {
	env := newTestEnv(t)
	cfg := &config.Config{
		App:       config.AppConfig{Name: "anova-service", Version: "test"},
		Transport: config.TransportConfig{Mode: config.ModeRelay},
	}

	router := gin.New()
	NewHealthHandler(nil, env.devices, cfg, zap.NewNop()).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", rec.Code)
	}

	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if _, ok := health.Checks["database"]; ok {
		t.Fatal("database check reported while persistence is disabled")
	}
	devices := health.Checks["devices"]
	if devices.Data["tracked"] != float64(1) || devices.Data["transport"] != config.ModeRelay {
		t.Fatalf("devices check = %+v", devices)
	}

	for _, path := range []string{"/ready", "/live"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s = %d, want 200", path, rec.Code)
		}
	}
}
