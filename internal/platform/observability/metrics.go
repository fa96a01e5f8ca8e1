package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const checkoutMetricNamespace = "github.com/clovermart/api/internal/handlers"

// CheckoutMetrics records order placement counters and commit latency.
// A zero value is safe to call; instruments that failed to register are
// skipped.
type CheckoutMetrics struct {
	placed  metric.Int64Counter
	failed  metric.Int64Counter
	latency metric.Float64Histogram
}

type checkoutMetricsConfig struct {
	meter  metric.Meter
	logger *zap.Logger
}

// CheckoutMetricsOption customises metric registration.
type CheckoutMetricsOption func(*checkoutMetricsConfig)

// WithCheckoutMeter injects a custom OpenTelemetry meter.
func WithCheckoutMeter(m metric.Meter) CheckoutMetricsOption {
	return func(cfg *checkoutMetricsConfig) {
		cfg.meter = m
	}
}

// WithCheckoutMetricsLogger routes registration warnings to the supplied logger.
func WithCheckoutMetricsLogger(logger *zap.Logger) CheckoutMetricsOption {
	return func(cfg *checkoutMetricsConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// NewCheckoutMetrics registers the checkout instruments. Registration
// failures are logged and leave the corresponding instrument disabled.
func NewCheckoutMetrics(opts ...CheckoutMetricsOption) *CheckoutMetrics {
	cfg := checkoutMetricsConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(checkoutMetricNamespace)
	}

	m := &CheckoutMetrics{}

	placed, err := cfg.meter.Int64Counter(
		"checkout.orders.placed",
		metric.WithDescription("Count of orders successfully placed"),
	)
	if err != nil {
		cfg.logger.Warn("checkout: unable to register placed-orders metric", zap.Error(err))
	} else {
		m.placed = placed
	}

	failed, err := cfg.meter.Int64Counter(
		"checkout.orders.failed",
		metric.WithDescription("Count of rejected or failed checkout attempts"),
	)
	if err != nil {
		cfg.logger.Warn("checkout: unable to register failed-orders metric", zap.Error(err))
	} else {
		m.failed = failed
	}

	latency, err := cfg.meter.Float64Histogram(
		"checkout.commit.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for checkout commits"),
	)
	if err != nil {
		cfg.logger.Warn("checkout: unable to register commit-latency metric", zap.Error(err))
	} else {
		m.latency = latency
	}

	return m
}

// OrderPlaced counts one successful checkout for the given payment method.
func (m *CheckoutMetrics) OrderPlaced(ctx context.Context, paymentMethod string) {
	if m == nil || m.placed == nil {
		return
	}
	m.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", paymentMethod)))
}

// CheckoutFailed counts one failed checkout attempt.
func (m *CheckoutMetrics) CheckoutFailed(ctx context.Context) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.Add(ctx, 1)
}

// ObserveCommit records the wall-clock duration of one checkout call.
func (m *CheckoutMetrics) ObserveCommit(ctx context.Context, d time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.Record(ctx, float64(d)/float64(time.Millisecond))
}
