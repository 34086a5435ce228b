package analytics

import (
	"context"
	"maps"
	"strings"

	"neurotravel/pkg/telemetry"
)

// with copies props and sets the given pairs on top, so caller maps are never
// modified. Later pairs win over props, matching how helpers name the subject
// of the event explicitly.
func with(props map[string]any, pairs ...any) map[string]any {
	out := make(map[string]any, len(props)+len(pairs)/2)
	maps.Copy(out, props)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, _ := pairs[i].(string)
		out[key] = pairs[i+1]
	}
	return out
}

// TrackPageView records a page_view for page.
func (t *Tracker) TrackPageView(ctx context.Context, page string, props map[string]any) {
	pairs := []any{"page", page}
	if t.baseURL != "" {
		pairs = append(pairs, "url", strings.TrimSuffix(t.baseURL, "/")+page)
	}
	t.Track(ctx, telemetry.EventPageView, with(props, pairs...))
}

// TrackUserAction records a user_action.
func (t *Tracker) TrackUserAction(ctx context.Context, action string, props map[string]any) {
	t.Track(ctx, telemetry.EventUserAction, with(props, "action", action))
}

// TrackFeatureUsage records a feature_used.
func (t *Tracker) TrackFeatureUsage(ctx context.Context, feature string, props map[string]any) {
	t.Track(ctx, telemetry.EventFeatureUsed, with(props, "feature", feature))
}

// TrackError records an error_occurred event. This is the analytics view of
// an error; full reports go through the monitor.
func (t *Tracker) TrackError(ctx context.Context, err error, errCtx map[string]any) {
	if err == nil {
		return
	}
	t.Track(ctx, telemetry.EventErrorOccurred, with(errCtx, "error_message", err.Error()))
}

// TrackPerformance records a performance_metric event.
func (t *Tracker) TrackPerformance(ctx context.Context, metric string, value float64, props map[string]any) {
	t.Track(ctx, telemetry.EventPerformanceMetric, with(props, "metric", metric, "value", value))
}

// TrackAccessibilityUsage records an accessibility_feature_used event.
func (t *Tracker) TrackAccessibilityUsage(ctx context.Context, feature string, props map[string]any) {
	t.Track(ctx, telemetry.EventAccessibilityFeatureUsed, with(props, "feature", feature))
}

// TrackCrisisIntervention records that a crisis intervention happened. Only
// the kind and outcome are sent.
func (t *Tracker) TrackCrisisIntervention(ctx context.Context, kind string, resolved bool) {
	t.Track(ctx, telemetry.EventCrisisIntervention, map[string]any{
		"type":     kind,
		"resolved": resolved,
	})
}
