package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinRequestLoggerAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, observed := observer.New(zap.InfoLevel)

	router := gin.New()
	router.Use(GinRequestLogger(zap.New(core)))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.String(http.StatusOK, RequestID(contextGin))
	})

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))

	requestID := recorder.Header().Get(RequestIDHeader)
	if requestID == "" {
		t.Fatalf("expected generated request id")
	}
	if recorder.Body.String() != requestID {
		t.Fatalf("expected handler to see %q, got %q", requestID, recorder.Body.String())
	}
	entries := observed.FilterMessage("http").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["status"] != int64(http.StatusOK) {
		t.Fatalf("unexpected logged status: %v", entries[0].ContextMap()["status"])
	}
}

func TestGinRequestLoggerKeepsIncomingRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinRequestLogger(zap.NewNop()))
	router.GET("/ping", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	request := httptest.NewRequest(http.MethodGet, "/ping", nil)
	request.Header.Set(RequestIDHeader, "upstream-1")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	if recorder.Header().Get(RequestIDHeader) != "upstream-1" {
		t.Fatalf("expected incoming request id to be echoed, got %q", recorder.Header().Get(RequestIDHeader))
	}
}
