package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"anova-service/internal/command"
	"anova-service/internal/model"
	"anova-service/internal/registry"
	"anova-service/internal/service"
	"anova-service/internal/service/servicetest"
	"anova-service/internal/transport"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

type apiBody struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

type testEnv struct {
	router  *gin.Engine
	ctrl    *servicetest.Controller
	devices *service.DeviceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	reg := registry.New(registry.Config{}, nil, nil, logger)
	ctrl := servicetest.NewController(testAddress)
	connect := func(ctx context.Context, identity model.Identity) (service.Controller, error) {
		return nil, errors.New("unexpected connect")
	}
	devices := service.NewDeviceService(reg, nil, connect, logger)
	reg.AddOrUpdate(context.Background(), ctrl)

	router := gin.New()
	api := router.Group("/api/v1")
	NewDeviceHandler(devices, time.Second, logger).RegisterRoutes(api)

	return &testEnv{router: router, ctrl: ctrl, devices: devices}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, apiBody) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var parsed apiBody
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec.Code, parsed
}

func contains(calls []string, name string) bool {
	for _, call := range calls {
		if call == name {
			return true
		}
	}
	return false
}

func TestGetStatusLiveAndFromState(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/v1/devices/"+testAddress+"/status", nil)
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if body.Data["status"] != "stopped" {
		t.Fatalf("status = %v, want stopped", body.Data["status"])
	}
	if !contains(env.ctrl.Calls(), "status") {
		t.Fatalf("expected a live status query, calls = %v", env.ctrl.Calls())
	}

	before := len(env.ctrl.Calls())
	code, body = env.do(t, http.MethodGet, "/api/v1/devices/"+testAddress+"/status?from_state=true", nil)
	if code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", code)
	}
	if body.Data["status"] != "stopped" {
		t.Fatalf("recorded status = %v, want stopped", body.Data["status"])
	}
	if len(env.ctrl.Calls()) != before {
		t.Fatalf("from_state must not query the appliance, calls = %v", env.ctrl.Calls())
	}
}

func TestUnknownDevice(t *testing.T) {
	env := newTestEnv(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/devices/11:22:33:44:55:66"},
		{http.MethodGet, "/api/v1/devices/11:22:33:44:55:66/status"},
		{http.MethodGet, "/api/v1/devices/11:22:33:44:55:66/status?from_state=true"},
		{http.MethodPost, "/api/v1/devices/11:22:33:44:55:66/start"},
		{http.MethodDelete, "/api/v1/devices/11:22:33:44:55:66"},
	}
	for _, tt := range paths {
		code, body := env.do(t, tt.method, tt.path, nil)
		if code != http.StatusNotFound {
			t.Fatalf("%s %s = %d, want 404", tt.method, tt.path, code)
		}
		if body.Success || body.Error == nil || body.Error.Code != "NOT_FOUND" {
			t.Fatalf("%s %s: unexpected body %+v", tt.method, tt.path, body)
		}
	}
}

func TestStartCookingRecordsStatus(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/api/v1/devices/"+testAddress+"/start", nil)
	if code != http.StatusOK {
		t.Fatalf("start = %d, want 200", code)
	}

	record, err := env.devices.GetDevice(testAddress)
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got := record.Metadata[service.ReadingCookerStatus]; got != string(command.StatusRunning) {
		t.Fatalf("recorded status = %v, want running", got)
	}
}

func TestSetTargetTemperature(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/v1/devices/"+testAddress+"/target_temperature", map[string]interface{}{
		"temperature": 56.5,
	})
	if code != http.StatusOK {
		t.Fatalf("set target = %d, want 200", code)
	}
	if body.Data["changed_to"] != 56.5 {
		t.Fatalf("changed_to = %v, want 56.5", body.Data["changed_to"])
	}

	record, _ := env.devices.GetDevice(testAddress)
	if record.TargetTemperature == nil || *record.TargetTemperature != 56.5 {
		t.Fatalf("recorded target = %v, want 56.5", record.TargetTemperature)
	}
	if record.Unit != "c" {
		t.Fatalf("recorded unit = %q, want c", record.Unit)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/devices/"+testAddress+"/target_temperature?from_state=true", nil)
	if code != http.StatusOK || body.Data["temperature"] != 56.5 {
		t.Fatalf("from_state target = %d %v", code, body.Data)
	}
}

func TestSetTargetTemperatureValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing temperature", map[string]interface{}{"unit": "c"}},
		{"out of range", map[string]interface{}{"temperature": 150.0, "unit": "c"}},
		{"unknown unit", map[string]interface{}{"temperature": 50.0, "unit": "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := env.do(t, http.MethodPost, "/api/v1/devices/"+testAddress+"/target_temperature", tt.body)
			if code != http.StatusBadRequest {
				t.Fatalf("code = %d, want 400", code)
			}
		})
	}
	if contains(env.ctrl.Calls(), "set_target_temperature") {
		t.Fatalf("invalid set point reached the appliance, calls = %v", env.ctrl.Calls())
	}
}

func TestDeviceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"decode", &command.DecodeError{Raw: "garbage", Err: errors.New("not a number")}, http.StatusUnprocessableEntity},
		{"timeout", &transport.Error{Op: "exchange", Err: transport.ErrTimeout}, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ctrl.Err = tt.err

			code, body := env.do(t, http.MethodGet, "/api/v1/devices/"+testAddress+"/temperature", nil)
			if code != tt.want {
				t.Fatalf("code = %d, want %d", code, tt.want)
			}
			if body.Success {
				t.Fatal("expected failure envelope")
			}
		})
	}
}

func TestTimerRoutes(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodPost, "/api/v1/devices/"+testAddress+"/timer", map[string]interface{}{"minutes": 90})
	if code != http.StatusOK || body.Data["minutes"] != float64(90) {
		t.Fatalf("set timer = %d %v", code, body.Data)
	}

	if code, _ := env.do(t, http.MethodPost, "/api/v1/devices/"+testAddress+"/timer/start", nil); code != http.StatusOK {
		t.Fatalf("start timer = %d", code)
	}

	record, _ := env.devices.GetDevice(testAddress)
	if record.Metadata[service.ReadingTimer] != 90 || record.Metadata[service.ReadingTimerRunning] != true {
		t.Fatalf("recorded timer = %v", record.Metadata)
	}

	code, body = env.do(t, http.MethodGet, "/api/v1/devices/"+testAddress+"/timer", nil)
	if code != http.StatusOK {
		t.Fatalf("get timer = %d", code)
	}
	timer, ok := body.Data["timer"].(map[string]interface{})
	if !ok || timer["minutes"] != float64(90) {
		t.Fatalf("timer = %v", body.Data["timer"])
	}
}

func TestListAndDisconnect(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodGet, "/api/v1/devices", nil)
	if code != http.StatusOK || body.Data["total"] != float64(1) {
		t.Fatalf("list = %d %v", code, body.Data)
	}

	if code, _ := env.do(t, http.MethodDelete, "/api/v1/devices/"+testAddress, nil); code != http.StatusOK {
		t.Fatalf("disconnect = %d", code)
	}
	if !env.ctrl.Disconnected() {
		t.Fatal("controller was not disconnected")
	}
	if _, err := env.devices.GetDevice(testAddress); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("GetDevice after disconnect = %v", err)
	}
}
