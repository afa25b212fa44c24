package domain

import (
	"strings"
	"time"
)

// Side is the outcome token a signal or order buys.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide normalises a stored side value. Anything that is not "NO" is
// treated as YES.
func ParseSide(s string) Side {
	if strings.EqualFold(strings.TrimSpace(s), string(SideNo)) {
		return SideNo
	}
	return SideYes
}

// SignalStatus tracks a signal through the approval step.
type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalApproved SignalStatus = "approved"
	SignalRejected SignalStatus = "rejected"
)

// CanTransition reports whether a signal may move from s to next. Only
// pending signals move, and only once.
func (s SignalStatus) CanTransition(next SignalStatus) bool {
	return s == SignalPending && (next == SignalApproved || next == SignalRejected)
}

// Signal is a detected trading opportunity written by the edge detector.
// Everything except Status is immutable once stored.
type Signal struct {
	ID               string
	CreatedAt        time.Time
	Source           string // forecast provider tag
	MarketID         string
	Side             Side
	SuggestedSizeUSD *float64
	Confidence       *float64
	ForecastProb     float64
	MarketPrice      float64 // price of Side at detection time
	EdgeBps          float64 // signed
	Status           SignalStatus
	Metadata         map[string]any
}

// ConfidenceOr returns the stored confidence or def when it is unset.
func (s Signal) ConfidenceOr(def float64) float64 {
	if s.Confidence == nil {
		return def
	}
	return *s.Confidence
}
