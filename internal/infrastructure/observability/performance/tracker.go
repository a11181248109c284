package performance

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Tracker manages performance markers and provides metrics aggregation
type Tracker struct {
	markers    map[string]*Marker
	alerts     []*Alert
	thresholds *AlertThresholds
	mu         sync.RWMutex
	started    time.Time
	config     *TrackerConfig
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers   int  `json:"maxMarkers"`   // Maximum number of markers to retain
	MaxAlerts    int  `json:"maxAlerts"`    // Maximum number of alerts to retain
	EnableAlerts bool `json:"enableAlerts"` // Whether to generate performance alerts
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxMarkers:   10000,
		MaxAlerts:    500,
		EnableAlerts: true,
	}
}

// AlertThresholds defines performance thresholds for generating alerts
type AlertThresholds struct {
	SlowResponseThreshold     time.Duration `json:"slowResponseThreshold"`     // 500ms
	CriticalResponseThreshold time.Duration `json:"criticalResponseThreshold"` // 5s

	// Operation-specific thresholds
	StoreOperationThreshold time.Duration `json:"storeOperationThreshold"` // 250ms
	AnalyticsQueryThreshold time.Duration `json:"analyticsQueryThreshold"` // 1s
	DatabaseQueryThreshold  time.Duration `json:"databaseQueryThreshold"`  // 50ms
}

// DefaultAlertThresholds returns sensible default alert thresholds
func DefaultAlertThresholds() *AlertThresholds {
	return &AlertThresholds{
		SlowResponseThreshold:     time.Millisecond * 500,
		CriticalResponseThreshold: time.Second * 5,
		StoreOperationThreshold:   time.Millisecond * 250,
		AnalyticsQueryThreshold:   time.Second * 1,
		DatabaseQueryThreshold:    time.Millisecond * 50,
	}
}

// NewTracker creates a new performance tracker with the given configuration
func NewTracker(config *TrackerConfig) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}

	return &Tracker{
		markers:    make(map[string]*Marker),
		alerts:     make([]*Alert, 0),
		thresholds: DefaultAlertThresholds(),
		started:    time.Now(),
		config:     config,
	}
}

// StartOperation creates and tracks a new performance marker for an operation
func (t *Tracker) StartOperation(operation, communityID string) *Marker {
	marker := &Marker{
		Operation:   operation,
		CommunityID: communityID,
		StartTime:   time.Now(),
		Metadata:    make(map[string]any),
		Success:     true, // Assume success until proven otherwise
	}

	markerID := fmt.Sprintf("%s_%s_%d", communityID, operation, time.Now().UnixNano())

	t.mu.Lock()
	if len(t.markers) < t.config.MaxMarkers {
		t.markers[markerID] = marker
	}
	t.mu.Unlock()

	return marker
}

// CompleteOperation manually completes an operation and checks for alerts
func (t *Tracker) CompleteOperation(marker *Marker) {
	if marker == nil || marker.Completed {
		return
	}

	marker.Complete()

	if t.config.EnableAlerts {
		t.checkForAlerts(marker)
	}
}

// GetAlerts returns a copy of the currently retained alerts
func (t *Tracker) GetAlerts() []*Alert {
	t.mu.RLock()
	defer t.mu.RUnlock()

	alerts := make([]*Alert, len(t.alerts))
	copy(alerts, t.alerts)
	return alerts
}

func (t *Tracker) checkForAlerts(marker *Marker) {
	alerts := t.evaluateThresholds(marker)

	t.mu.Lock()
	for _, alert := range alerts {
		t.alerts = append(t.alerts, alert)
		if len(t.alerts) > t.config.MaxAlerts {
			t.alerts = t.alerts[len(t.alerts)-t.config.MaxAlerts:]
		}
	}
	t.mu.Unlock()
}

func (t *Tracker) evaluateThresholds(marker *Marker) []*Alert {
	var alerts []*Alert

	if marker.Duration > t.thresholds.CriticalResponseThreshold {
		alerts = append(alerts, t.createAlert(marker, AlertCritical,
			"Operation exceeded critical response time threshold", t.thresholds.CriticalResponseThreshold))
	} else if marker.Duration > t.thresholds.SlowResponseThreshold {
		alerts = append(alerts, t.createAlert(marker, AlertWarning,
			"Operation exceeded slow response time threshold", t.thresholds.SlowResponseThreshold))
	}

	switch {
	case strings.Contains(marker.Operation, "store"):
		if marker.Duration > t.thresholds.StoreOperationThreshold {
			alerts = append(alerts, t.createAlert(marker, AlertWarning,
				"Presence store operation exceeded threshold", t.thresholds.StoreOperationThreshold))
		}
	case strings.Contains(marker.Operation, "analytics"):
		if marker.Duration > t.thresholds.AnalyticsQueryThreshold {
			alerts = append(alerts, t.createAlert(marker, AlertWarning,
				"Analytics query exceeded threshold", t.thresholds.AnalyticsQueryThreshold))
		}
	}

	return alerts
}

func (t *Tracker) createAlert(marker *Marker, severity AlertSeverity, message string, threshold time.Duration) *Alert {
	return &Alert{
		Timestamp:   time.Now(),
		CommunityID: marker.CommunityID,
		Severity:    severity,
		Operation:   marker.Operation,
		Threshold:   threshold,
		Actual:      marker.Duration,
		Message:     message,
	}
}
