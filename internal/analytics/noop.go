package analytics

import "context"

// NoopSink discards events. Used when no analytics endpoint is configured.
type NoopSink struct{}

func (NoopSink) IngestFeaturesVerification(ctx context.Context, event VerificationEvent) error {
	return nil
}

func (NoopSink) IngestFeaturesUsage(ctx context.Context, event UsageEvent) error {
	return nil
}

func (NoopSink) GetUsageFeature(ctx context.Context, query FeatureUsageQuery) ([]FeatureUsage, error) {
	return nil, nil
}
