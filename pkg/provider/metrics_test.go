package provider_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/gleitzeit/gleitzeit/pkg/provider"
)

func TestPrometheusRecorderTracksRequestsAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := provider.NewPrometheusRecorder(reg)

	rec.ObserveStart("p1", "echo/v1")
	rec.ObserveFinish("p1", "echo/v1", 5*time.Millisecond, nil)
	rec.ObserveStart("p1", "echo/v1")
	rec.ObserveFinish("p1", "echo/v1", 5*time.Millisecond, errors.New("boom"))

	families, err := reg.Gather()
	require.NoError(t, err)

	var requests, errs float64
	for _, fam := range families {
		switch fam.GetName() {
		case "gleitzeit_provider_requests_total":
			requests = sumCounter(fam)
		case "gleitzeit_provider_errors_total":
			errs = sumCounter(fam)
		}
	}
	require.Equal(t, float64(2), requests)
	require.Equal(t, float64(1), errs)
}

func TestNilPrometheusRecorderIsSafeToCall(t *testing.T) {
	var rec *provider.PrometheusRecorder
	require.NotPanics(t, func() {
		rec.ObserveStart("p1", "echo/v1")
		rec.ObserveFinish("p1", "echo/v1", time.Millisecond, nil)
	})
}

func sumCounter(fam *dto.MetricFamily) float64 {
	var total float64
	for _, m := range fam.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}
