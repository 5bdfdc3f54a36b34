package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test_ParseWindow tests window specification parsing
func Test_ParseWindow(t *testing.T) {
	tests := []struct {
		name        string
		spec        string
		expected    Window
		expectError bool
		description string
	}{
		{
			name:        "Morning window",
			spec:        "02:00-05:00",
			expected:    Window{Start: 120, End: 300},
			expectError: false,
			description: "Should parse a plain window",
		},
		{
			name:        "Afternoon window",
			spec:        "14:00-17:00",
			expected:    Window{Start: 840, End: 1020},
			expectError: false,
			description: "Should parse an afternoon window",
		},
		{
			name:        "Minute precision",
			spec:        "09:30-16:45",
			expected:    Window{Start: 570, End: 1005},
			expectError: false,
			description: "Should keep minute components",
		},
		{
			name:        "End before start",
			spec:        "17:00-14:00",
			expectError: true,
			description: "Should reject inverted windows",
		},
		{
			name:        "Zero-length window",
			spec:        "14:00-14:00",
			expectError: true,
			description: "Should reject empty windows",
		},
		{
			name:        "Hour out of range",
			spec:        "25:00-26:00",
			expectError: true,
			description: "Should reject invalid hours",
		},
		{
			name:        "Minute out of range",
			spec:        "02:75-05:00",
			expectError: true,
			description: "Should reject invalid minutes",
		},
		{
			name:        "Not a window at all",
			spec:        "whenever",
			expectError: true,
			description: "Should reject malformed specifications",
		},
		{
			name:        "Empty string",
			spec:        "",
			expectError: true,
			description: "Should reject empty specifications",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseWindow(tt.spec)
			if tt.expectError {
				assert.Error(t, err, tt.description)
			} else {
				require.NoError(t, err, tt.description)
				assert.Equal(t, tt.expected, w, tt.description)
			}
		})
	}
}

// Test_Gate_Eligible tests schedule eligibility over weekdays and windows
func Test_Gate_Eligible(t *testing.T) {
	windows := []Window{
		{Start: 2 * 60, End: 5 * 60},   // 02:00-05:00
		{Start: 14 * 60, End: 17 * 60}, // 14:00-17:00
	}
	gate := NewGate(windows)

	tests := []struct {
		name        string
		at          time.Time
		eligible    bool
		description string
	}{
		{
			name:        "Weekday inside morning window",
			at:          time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC), // Wednesday
			eligible:    true,
			description: "Wednesday 03:00 UTC is inside 02:00-05:00",
		},
		{
			name:        "Weekday inside afternoon window",
			at:          time.Date(2024, 5, 2, 15, 30, 0, 0, time.UTC), // Thursday
			eligible:    true,
			description: "Thursday 15:30 UTC is inside 14:00-17:00",
		},
		{
			name:        "Weekday outside all windows",
			at:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			eligible:    false,
			description: "Wednesday 10:00 UTC falls between windows",
		},
		{
			name:        "Window start is inclusive",
			at:          time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC),
			eligible:    true,
			description: "02:00 exactly is inside the half-open window",
		},
		{
			name:        "Window end is exclusive",
			at:          time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC),
			eligible:    false,
			description: "05:00 exactly is outside the half-open window",
		},
		{
			name:        "Saturday inside window hours",
			at:          time.Date(2024, 5, 4, 3, 0, 0, 0, time.UTC),
			eligible:    false,
			description: "Weekends are never eligible",
		},
		{
			name:        "Sunday inside window hours",
			at:          time.Date(2024, 5, 5, 15, 0, 0, 0, time.UTC),
			eligible:    false,
			description: "Weekends are never eligible",
		},
		{
			name:        "Non-UTC time is normalized",
			at:          time.Date(2024, 5, 1, 5, 0, 0, 0, time.FixedZone("UTC+2", 2*3600)), // 03:00 UTC
			eligible:    true,
			description: "Eligibility is evaluated in UTC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.eligible, gate.Eligible(tt.at), tt.description)
		})
	}
}

// Test_Gate_NoWindows tests that an empty gate never admits orders
func Test_Gate_NoWindows(t *testing.T) {
	gate := NewGate(nil)
	assert.False(t, gate.Eligible(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
}
