package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestObservePrimitiveRecordsLatencyAndErrors(t *testing.T) {
	r := New()

	r.ObservePrimitive("navigation_to_pose", 50*time.Millisecond, "")
	r.ObservePrimitive("grab_object", 10*time.Millisecond, "3002")

	var m dto.Metric
	if err := r.PrimitiveLatency.WithLabelValues("navigation_to_pose").(interface {
		Write(*dto.Metric) error
	}).Write(&m); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("want 1 sample recorded, got %d", m.GetHistogram().GetSampleCount())
	}

	var errM dto.Metric
	if err := r.PrimitiveErrors.WithLabelValues("grab_object", "3002").Write(&errM); err != nil {
		t.Fatalf("write: %v", err)
	}
	if errM.GetCounter().GetValue() != 1 {
		t.Fatalf("want 1 error recorded, got %v", errM.GetCounter().GetValue())
	}
}
