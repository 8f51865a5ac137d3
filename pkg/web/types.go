// Package web provides the read-only HTTP API over a monitored run.
package web

import (
	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/report"
	"github.com/dukex/operion-monitor/pkg/tracker"
)

// ReportsResponse lists report nodes ordered by key.
type ReportsResponse struct {
	Root       string            `json:"root"`
	Reports    []report.Snapshot `json:"reports"`
	TotalCount int               `json:"total_count"`
}

// InvocationsResponse lists live invocations ordered by key.
type InvocationsResponse struct {
	Invocations []tracker.Invocation `json:"invocations"`
	TotalCount  int                  `json:"total_count"`
}

// ContentResponse is the wire form of a content tree node.
type ContentResponse struct {
	Address  models.Address   `json:"address"`
	Kind     models.NodeKind  `json:"kind"`
	Text     *string          `json:"text,omitempty"`
	Data     []byte           `json:"data,omitempty"`
	Charset  string           `json:"charset,omitempty"`
	Location string           `json:"location,omitempty"`
	Children []models.Address `json:"children,omitempty"`
	Message  string           `json:"message,omitempty"`
	Trace    string           `json:"trace,omitempty"`
	Causes   []models.Address `json:"causes,omitempty"`
}

// AddressesResponse lists populated content addresses under a prefix.
type AddressesResponse struct {
	Prefix    models.Address   `json:"prefix"`
	Addresses []models.Address `json:"addresses"`
}

// TransformContentNode converts a content node into its response. Leaves with
// a charset are rendered as text instead of raw bytes.
func TransformContentNode(node *models.ContentNode) ContentResponse {
	response := ContentResponse{
		Address: node.Address,
		Kind:    node.Kind,
	}

	switch node.Kind {
	case models.NodeKindLeaf:
		response.Location = node.Location
		response.Charset = node.Charset

		if node.Charset != "" {
			text := node.Text()
			response.Text = &text
		} else {
			response.Data = node.Data
		}
	case models.NodeKindList:
		response.Children = node.Children
	case models.NodeKindError:
		response.Message = node.Message
		response.Trace = node.Trace
		response.Causes = node.Causes
	}

	return response
}
