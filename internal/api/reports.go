// ABOUTME: Report endpoints used by the moderation desk
// ABOUTME: Listing with filters, creation, state transitions and responses

package api

import (
	"context"
	"net/http"
	"net/url"
)

// Report types.
const (
	ReportServiceIssue   = "service_issue"
	ReportPaymentIssue   = "payment_issue"
	ReportBehaviorIssue  = "behavior_issue"
	ReportTechnicalIssue = "technical_issue"
	ReportOther          = "other"
)

// Report states.
const (
	ReportOpen       = "open"
	ReportInProgress = "in_progress"
	ReportResolved   = "resolved"
	ReportClosed     = "closed"
)

// ReportStates lists the valid states in workflow order.
var ReportStates = []string{ReportOpen, ReportInProgress, ReportResolved, ReportClosed}

// ReportFilter narrows the report listing. Empty fields are not sent.
type ReportFilter struct {
	Type      string
	State     string
	StartDate string
	EndDate   string
}

func (f ReportFilter) query() url.Values {
	q := url.Values{}
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.State != "" {
		q.Set("state", f.State)
	}
	if f.StartDate != "" {
		q.Set("start_date", f.StartDate)
	}
	if f.EndDate != "" {
		q.Set("end_date", f.EndDate)
	}
	return q
}

// Reports lists reports matching the filter.
func (c *Client) Reports(ctx context.Context, f ReportFilter) ([]Record, error) {
	var out []Record
	if err := c.do(ctx, http.MethodGet, "/reports/", f.query(), nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// UpdateReportState moves a report to state.
func (c *Client) UpdateReportState(ctx context.Context, id, state string) error {
	q := url.Values{"new_state": {state}}
	return c.do(ctx, http.MethodPut, "/reports/"+pathID(id)+"/update_state", q, nil, nil)
}

// AddReportResponse attaches an operator response to a report.
func (c *Client) AddReportResponse(ctx context.Context, id, response string) error {
	body := map[string]string{"response": response}
	return c.do(ctx, http.MethodPost, "/reports/"+pathID(id)+"/response", nil, body, nil)
}
