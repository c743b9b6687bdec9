// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

// baseSeverity is the static severity lookup per event type. The table
// covers the event types emitted by the four producer subsystems; unknown
// types default to low.
var baseSeverity = map[string]Severity{
	// Traffic analyzer
	"port_scan":         SeverityMedium,
	"syn_flood":         SeverityHigh,
	"traffic_anomaly":   SeverityLow,
	"bandwidth_abuse":   SeverityLow,
	"dns_tunneling":     SeverityHigh,
	"unusual_protocol":  SeverityMedium,

	// Signature detection
	"signature_match": SeverityMedium,
	"arp_spoofing":    SeverityHigh,
	"dhcp_spoofing":   SeverityHigh,
	"malware_c2":      SeverityCritical,
	"exploit_attempt": SeverityCritical,

	// Anomaly detection
	"anomaly_score":     SeverityLow,
	"device_behavior":   SeverityMedium,

	// Threat intelligence
	"threat_intel_match": SeverityHigh,
	"blocklisted_ip":     SeverityMedium,

	// Device inventory
	"new_device":     SeverityInfo,
	"device_offline": SeverityInfo,
}

// highConfidence is the confidence at or above which a sub-critical event
// is classified one level up.
const highConfidence = 0.9

// BaseSeverity returns the static base severity for an event type.
func BaseSeverity(eventType string) Severity {
	if s, ok := baseSeverity[eventType]; ok {
		return s
	}
	return SeverityLow
}

// bump raises a severity by exactly one level, capped at critical.
func bump(s Severity) Severity {
	switch s {
	case SeverityInfo:
		return SeverityLow
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Classify computes an alert's severity from its event type, occurrence
// count, and the triggering event's confidence.
//
// The function is pure and deterministic. It never returns a severity
// below the event type's base: high confidence (>= 0.9) raises the base
// by one level, and an occurrence count reaching escalationThreshold
// raises it by exactly one more, capped at critical. The correlator takes
// the maximum of the current and classified severity, so automatic
// severity is monotonically non-decreasing for a given alert.
func Classify(eventType string, occurrenceCount int, confidence float64, escalationThreshold int) Severity {
	s := BaseSeverity(eventType)

	if confidence >= highConfidence {
		s = bump(s)
	}
	if escalationThreshold > 0 && occurrenceCount >= escalationThreshold {
		s = bump(s)
	}

	return s
}

// EstimateSeverity is the admission-time severity estimate for a not yet
// correlated event: classification with an occurrence count of one.
func EstimateSeverity(ev *DetectionEvent) Severity {
	return Classify(ev.EventType, 1, ev.Confidence, 0)
}
