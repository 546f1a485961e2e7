// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package detection

import (
	"math"
	"time"
)

// Classification labels shared by the extractor heuristics and the
// classifier.
const (
	LabelNormal             = "normal"
	LabelSuspicious         = "suspicious"
	LabelCredentialStuffing = "credential_stuffing"
	LabelBruteForce         = "brute_force"
	LabelUnknown            = "unknown"
)

// FeatureNames lists the extracted features in vector order. The order is
// part of the model contract and must match FeatureVector.Values.
var FeatureNames = []string{
	"failed_attempt_rate",
	"unique_users_targeted",
	"attempts_per_minute",
	"time_variance",
	"ua_diversity",
	"password_pattern_score",
	"success_rate",
	"total_attempts",
}

// FeatureVector is the 8-feature input to the classifier.
type FeatureVector struct {
	// FailedAttemptRate is failed attempts over total attempts, in [0, 1].
	FailedAttemptRate float64 `json:"failed_attempt_rate"`

	// UniqueUsersTargeted is the count of distinct usernames in the window.
	UniqueUsersTargeted float64 `json:"unique_users_targeted"`

	// AttemptsPerMinute is total attempts over the observed span in
	// minutes, with the span floored at 0.1 minutes. Zero when fewer than
	// two timestamps exist.
	AttemptsPerMinute float64 `json:"attempts_per_minute"`

	// TimeVariance is the standard deviation of inter-arrival intervals
	// in seconds. Zero when fewer than three timestamps exist.
	TimeVariance float64 `json:"time_variance"`

	// UserAgentDiversity is the count of distinct user agents observed.
	UserAgentDiversity float64 `json:"ua_diversity"`

	// PasswordPatternScore is the maximum reuse count of any single
	// password fingerprint divided by the distinct username count.
	PasswordPatternScore float64 `json:"password_pattern_score"`

	// SuccessRate is successful attempts over total attempts, in [0, 1].
	SuccessRate float64 `json:"success_rate"`

	// TotalAttempts is the window's total attempt count.
	TotalAttempts float64 `json:"total_attempts"`
}

// Values returns the features in FeatureNames order.
func (v FeatureVector) Values() []float64 {
	return []float64{
		v.FailedAttemptRate,
		v.UniqueUsersTargeted,
		v.AttemptsPerMinute,
		v.TimeVariance,
		v.UserAgentDiversity,
		v.PasswordPatternScore,
		v.SuccessRate,
		v.TotalAttempts,
	}
}

// DefaultVector is the baseline vector for a source with no observations:
// a single benign-looking attempt with a long, regular cadence.
func DefaultVector() FeatureVector {
	return FeatureVector{
		FailedAttemptRate:    0.0,
		UniqueUsersTargeted:  1,
		AttemptsPerMinute:    0.1,
		TimeVariance:         30,
		UserAgentDiversity:   1,
		PasswordPatternScore: 0.0,
		SuccessRate:          1.0,
		TotalAttempts:        1,
	}
}

// Extract computes the feature vector from a window snapshot. It is a
// pure function of the snapshot: no clock, no map iteration order, no
// mutation. Snapshot timestamps are already sorted ascending.
func Extract(snap Snapshot) FeatureVector {
	if snap.Total == 0 {
		return DefaultVector()
	}

	total := float64(snap.Total)
	v := FeatureVector{
		FailedAttemptRate:   float64(snap.Failures) / total,
		UniqueUsersTargeted: float64(snap.UniqueUsers),
		UserAgentDiversity:  float64(snap.UserAgents),
		SuccessRate:         float64(snap.Successes) / total,
		TotalAttempts:       total,
	}

	if len(snap.Timestamps) >= 2 {
		first := snap.Timestamps[0]
		last := snap.Timestamps[len(snap.Timestamps)-1]
		spanMinutes := last.Sub(first).Seconds() / 60.0
		v.AttemptsPerMinute = total / math.Max(spanMinutes, 0.1)
	}

	if len(snap.Timestamps) >= 3 {
		v.TimeVariance = intervalStdDev(snap.Timestamps)
	}

	if snap.UniqueUsers > 0 {
		v.PasswordPatternScore = float64(snap.MaxFingerprintReuse) / float64(snap.UniqueUsers)
	}

	return v
}

// intervalStdDev returns the population standard deviation of successive
// inter-arrival intervals, in seconds.
func intervalStdDev(timestamps []time.Time) float64 {
	intervals := make([]float64, 0, len(timestamps)-1)
	for i := 1; i < len(timestamps); i++ {
		intervals = append(intervals, timestamps[i].Sub(timestamps[i-1]).Seconds())
	}

	var sum float64
	for _, d := range intervals {
		sum += d
	}
	mean := sum / float64(len(intervals))

	var sq float64
	for _, d := range intervals {
		diff := d - mean
		sq += diff * diff
	}
	return math.Sqrt(sq / float64(len(intervals)))
}

// DetermineLabel assigns a training label to a feature vector using the
// rule thresholds. Checked in order of specificity; the first match wins.
func DetermineLabel(v FeatureVector) string {
	switch {
	case v.FailedAttemptRate > 0.8 && v.UniqueUsersTargeted <= 2 && v.AttemptsPerMinute > 5:
		return LabelBruteForce
	case v.UniqueUsersTargeted >= 5 && v.PasswordPatternScore > 0.5 && v.FailedAttemptRate > 0.7:
		return LabelCredentialStuffing
	case v.AttemptsPerMinute > 10 ||
		(v.TimeVariance < 1 && v.TotalAttempts > 10) ||
		v.FailedAttemptRate > 0.9:
		return LabelSuspicious
	default:
		return LabelNormal
	}
}
