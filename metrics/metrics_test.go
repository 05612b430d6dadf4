package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResult(t *testing.T) {
	if got := Result(nil); got != "ok" {
		t.Errorf("Result(nil) = %q", got)
	}
	if got := Result(errors.New("boom")); got != "error" {
		t.Errorf("Result(err) = %q", got)
	}
}

func TestConfigSyncsLabels(t *testing.T) {
	c := ConfigSyncs.WithLabelValues("amneziawg", Result(nil))
	before := testutil.ToFloat64(c)
	c.Inc()
	if got := testutil.ToFloat64(c); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}
}
