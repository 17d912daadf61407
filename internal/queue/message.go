package queue

import (
	"fmt"
	"strings"
)

// JobReason records why a dispatch job was enqueued.
type JobReason string

const (
	JobReasonStart     JobReason = "start"
	JobReasonResume    JobReason = "resume"
	JobReasonRetry     JobReason = "retry"
	JobReasonScheduled JobReason = "scheduled"
	// JobReasonContinue drains recipients left queued after a restricted pass.
	JobReasonContinue JobReason = "continue"
)

func (r JobReason) IsValid() bool {
	switch r {
	case JobReasonStart, JobReasonResume, JobReasonRetry, JobReasonScheduled, JobReasonContinue:
		return true
	default:
		return false
	}
}

// DispatchJob is the broker payload asking a worker to drain a campaign.
// A non-empty RecipientIDs restricts the pass to exactly those recipients.
type DispatchJob struct {
	CampaignID    string    `json:"campaignId"`
	TenantID      string    `json:"tenantId"`
	RecipientIDs  []string  `json:"recipientIds,omitempty"`
	Reason        JobReason `json:"reason"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

func (j DispatchJob) Restricted() bool {
	return len(j.RecipientIDs) > 0
}

func (j DispatchJob) Validate() error {
	if strings.TrimSpace(j.CampaignID) == "" {
		return fmt.Errorf("campaignId is required")
	}
	if strings.TrimSpace(j.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	if !j.Reason.IsValid() {
		return fmt.Errorf("invalid reason %q", j.Reason)
	}
	if j.Reason == JobReasonRetry && !j.Restricted() {
		return fmt.Errorf("retry job requires recipientIds")
	}
	for _, id := range j.RecipientIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("recipientIds must not contain empty ids")
		}
	}
	return nil
}
