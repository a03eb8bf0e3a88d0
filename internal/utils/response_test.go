package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"vehicle-gateway/internal/errs"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errs.Invalid("target", "out of range"), http.StatusBadRequest},
		{fmt.Errorf("device x: %w", errs.ErrNotFound), http.StatusNotFound},
		{errs.ErrBusy, http.StatusConflict},
		{&errs.CooldownError{Remaining: time.Second}, http.StatusServiceUnavailable},
		{&errs.NotConnectedError{Link: "control"}, http.StatusServiceUnavailable},
		{&errs.TimeoutError{Op: "read", After: time.Second}, http.StatusGatewayTimeout},
		{&errs.ModbusError{FunctionCode: 0x81, ExceptionCode: 2}, http.StatusBadGateway},
		{&errs.TransportError{Op: "write", Err: errors.New("broken pipe")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Fatalf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFailResponseCooldown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "req-1")

	FailResponse(c, "Failed to switch relay", &errs.CooldownError{Port: "rs485", Address: 1, Remaining: 2500 * time.Millisecond})

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Success || body.RequestID != "req-1" || body.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("body = %+v", body)
	}
}
