package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyDispatcherReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: DispatcherReasonDeadlineExceeded,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: DispatcherReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: DispatcherReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyDispatcherReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddPublished(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newDispatcherMetrics(registry, Config{
		ServiceName: "paylink",
		Environment: "test",
	})

	metrics.AddPublished("payment.confirmed", 3)

	got := testutil.ToFloat64(metrics.published.WithLabelValues("payment.confirmed"))
	if got != 3 {
		t.Fatalf("expected published count 3, got %v", got)
	}
}
