package magiclink

import (
	"net/url"
	"strings"

	"sgi/pkg/proto"
)

// Resolve returns the dashboard address of the view a valid link points at,
// with filters appended as sorted query parameters. Invalid validations
// resolve to the error view.
func Resolve(v Validation, dashboardURL string) string {
	base := strings.TrimRight(dashboardURL, "/")
	if !v.Valid {
		return ErrorURL(dashboardURL, v.Reason)
	}

	var path string
	switch v.ResourceType {
	case proto.ResourceProject:
		path = "/projects/" + url.PathEscape(v.ResourceID)
	case proto.ResourceIncident:
		path = "/incidents/" + url.PathEscape(v.ResourceID)
	case proto.ResourceFinance:
		path = "/finance/" + url.PathEscape(v.ResourceID)
	case proto.ResourceTopProjects:
		path = "/projects/top"
	case proto.ResourceProjects:
		path = "/projects"
	case proto.ResourceIncidents:
		path = "/incidents"
	case proto.ResourceStock:
		path = "/stock"
	case proto.ResourceSnapshot:
		path = "/snapshots/" + url.PathEscape(v.Token)
	default:
		return ErrorURL(dashboardURL, ReasonMalformed)
	}

	if len(v.Filters) == 0 {
		return base + path
	}
	q := url.Values{}
	for k, val := range v.Filters {
		q.Set(k, val)
	}
	// Encode sorts by key.
	return base + path + "?" + q.Encode()
}

// ErrorURL is the error view carrying the failure reason.
func ErrorURL(dashboardURL string, reason Reason) string {
	if reason == "" {
		reason = ReasonMalformed
	}
	return strings.TrimRight(dashboardURL, "/") + "/link-error?reason=" + url.QueryEscape(string(reason))
}
