package domain

import (
	"sort"
	"time"
)

// MetaBillingErrorCode is the Cloud API code for a business account whose
// payment method is failing (message undeliverable until billing is fixed).
const MetaBillingErrorCode = "131042"

// OutcomeEvent is one recorded send outcome in the billing detection window.
type OutcomeEvent struct {
	At           time.Time
	Success      bool
	ErrorCode    string
	ErrorMessage string
}

// BillingAlert is the standing account-level banner state.
type BillingAlert struct {
	Active    bool
	Since     time.Time
	ExpiresAt time.Time
	Code      string
	Message   string
}

// IsBillingError reports whether code marks an account-level billing suspension.
func IsBillingError(code string) bool {
	return code == MetaBillingErrorCode || code == "billing_suspended"
}

// DetectBillingIssue looks at the newest billing error in events. The alert is
// active only while that error is younger than ttl and no success happened
// after it; a later success means the account issue was resolved.
func DetectBillingIssue(events []OutcomeEvent, now time.Time, ttl time.Duration) BillingAlert {
	if len(events) == 0 || ttl <= 0 {
		return BillingAlert{}
	}

	sorted := make([]OutcomeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At.After(sorted[j].At)
	})

	var latestSuccess time.Time
	for _, ev := range sorted {
		if ev.Success {
			if ev.At.After(latestSuccess) {
				latestSuccess = ev.At
			}
			continue
		}
		if !IsBillingError(ev.ErrorCode) {
			continue
		}

		// Newest billing error found; everything after it was already scanned.
		expiresAt := ev.At.Add(ttl)
		if !now.Before(expiresAt) {
			return BillingAlert{}
		}
		if !latestSuccess.IsZero() && latestSuccess.After(ev.At) {
			return BillingAlert{}
		}

		return BillingAlert{
			Active:    true,
			Since:     ev.At,
			ExpiresAt: expiresAt,
			Code:      ev.ErrorCode,
			Message:   ev.ErrorMessage,
		}
	}

	return BillingAlert{}
}
