package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := New()

	r.Authentication("required", "ok")
	r.Authentication("required", "ok")
	r.Authentication("optional", "anonymous")
	r.Discovery(true)
	r.Discovery(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.authentications.WithLabelValues("required", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.authentications.WithLabelValues("optional", "anonymous")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.discoveries.WithLabelValues("error")))
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Authentication("required", "ok")
		r.Discovery(true)
		r.Request("GET", "200", 0.1)
	})
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.Discovery(true)

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "oidc_gate_discovery_fetches_total"))
}
