package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// RiskInput feeds the additive device-risk score.
type RiskInput struct {
	IPBlocked            bool
	UnknownDevice        bool
	UnknownCountry       bool
	RecentSecurityEvents int
}

// Declared weights of the scoring table. Scores are additive and clamped to
// 0..100; a currently blocked source IP short-circuits to the maximum.
const (
	weightUnknownDevice  = 25
	weightUnknownCountry = 30
	weightPerRecentEvent = 5
	capRecentEvents      = 20
	maxScore             = 100
)

type riskFactor struct {
	name   string
	points func(RiskInput) int
}

var riskFactors = []riskFactor{
	{name: "unknown_device", points: func(in RiskInput) int {
		if in.UnknownDevice {
			return weightUnknownDevice
		}
		return 0
	}},
	{name: "unknown_country", points: func(in RiskInput) int {
		if in.UnknownCountry {
			return weightUnknownCountry
		}
		return 0
	}},
	{name: "recent_security_events", points: func(in RiskInput) int {
		pts := weightPerRecentEvent * in.RecentSecurityEvents
		if pts > capRecentEvents {
			return capRecentEvents
		}
		return pts
	}},
}

// ScoreRisk computes the 0..100 risk score for a session request.
func ScoreRisk(in RiskInput) int {
	if in.IPBlocked {
		return maxScore
	}
	score := 0
	for _, f := range riskFactors {
		score += f.points(in)
	}
	if score > maxScore {
		score = maxScore
	}
	return score
}

// RiskBand names the band a score falls into.
func RiskBand(score int) string {
	switch {
	case score < 30:
		return "low"
	case score < 50:
		return "medium"
	case score < 70:
		return "high"
	default:
		return "critical"
	}
}

// Fingerprint derives the stable device fingerprint from the client hello
// attributes. Identical devices always map to the same value.
func Fingerprint(userAgent, deviceType, os, browser string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{userAgent, deviceType, os, browser}, "|")))
	return hex.EncodeToString(sum[:])
}
