package api

import (
	"fmt"
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertCSRFRejectionSpike   AlertType = "csrf_rejection_spike"
	AlertUploadRejectionSpike AlertType = "upload_rejection_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// anomalyDetector tracks sliding window counters for rejection spikes. A
// burst of CSRF failures usually means a forgery campaign against logged-in
// staff; a burst of upload rejections means someone probing the validator.
type anomalyDetector struct {
	mu sync.Mutex

	csrfRejections  []time.Time
	csrfWindow      time.Duration
	csrfThreshold   int
	uploadRejects   []time.Time
	uploadWindow    time.Duration
	uploadThreshold int

	alertFn AlertFunc
}

const (
	defaultCSRFWindow      = 1 * time.Minute
	defaultCSRFThreshold   = 30
	defaultUploadWindow    = 5 * time.Minute
	defaultUploadThreshold = 20
)

func newAnomalyDetector(alertFn AlertFunc) *anomalyDetector {
	return &anomalyDetector{
		csrfWindow:      defaultCSRFWindow,
		csrfThreshold:   defaultCSRFThreshold,
		uploadWindow:    defaultUploadWindow,
		uploadThreshold: defaultUploadThreshold,
		alertFn:         alertFn,
	}
}

func (d *anomalyDetector) recordCSRFRejection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.csrfRejections = trimWindow(append(d.csrfRejections, time.Now()), d.csrfWindow)
	if len(d.csrfRejections) >= d.csrfThreshold {
		d.fire(AlertCSRFRejectionSpike, len(d.csrfRejections), d.csrfThreshold)
		d.csrfRejections = d.csrfRejections[:0]
	}
}

func (d *anomalyDetector) recordUploadRejection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploadRejects = trimWindow(append(d.uploadRejects, time.Now()), d.uploadWindow)
	if len(d.uploadRejects) >= d.uploadThreshold {
		d.fire(AlertUploadRejectionSpike, len(d.uploadRejects), d.uploadThreshold)
		d.uploadRejects = d.uploadRejects[:0]
	}
}

func (d *anomalyDetector) fire(t AlertType, count, threshold int) {
	if d.alertFn == nil {
		return
	}
	d.alertFn(AlertEvent{
		Type:      t,
		Message:   fmt.Sprintf("%s: %d rejections within window (threshold %d)", t, count, threshold),
		Count:     count,
		Threshold: threshold,
		Timestamp: time.Now(),
	})
}

func trimWindow(events []time.Time, window time.Duration) []time.Time {
	cutoff := time.Now().Add(-window)
	start := 0
	for start < len(events) && events[start].Before(cutoff) {
		start++
	}
	return events[start:]
}
