package cli

import (
	"strings"
	"testing"
	"time"
)

func TestParseSinceDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"default empty", "", 7 * 24 * time.Hour, false},
		{"days", "30d", 30 * 24 * time.Hour, false},
		{"single day", "1d", 24 * time.Hour, false},
		{"hours", "24h", 24 * time.Hour, false},
		{"bad days", "xd", 0, true},
		{"bad suffix", "7w", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSinceDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSinceDuration(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			elapsed := time.Now().UTC().Sub(got)
			// Allow a little slack for the time between the call and now.
			if diff := elapsed - tt.want; diff < -time.Minute || diff > time.Minute {
				t.Errorf("parseSinceDuration(%q) = %v ago, want about %v", tt.input, elapsed, tt.want)
			}
		})
	}
}

func TestMetricsCmd_NilCalculator(t *testing.T) {
	withMetricsCalc(t, nil)

	err := metricsCmd.RunE(metricsCmd, nil)
	if err == nil {
		t.Fatal("expected error when MetricsCalc is nil")
	}
	if !strings.Contains(err.Error(), "not initialized") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMetricsCmd_RejectsBadSince(t *testing.T) {
	origSince := metricsSince
	t.Cleanup(func() { metricsSince = origSince })
	metricsSince = "soon"

	withMetricsCalc(t, &mockMetricsCalc{})

	err := metricsCmd.RunE(metricsCmd, nil)
	if err == nil {
		t.Fatal("expected error for unparseable --since")
	}
	if !strings.Contains(err.Error(), "parsing --since") {
		t.Errorf("unexpected error: %v", err)
	}
}
