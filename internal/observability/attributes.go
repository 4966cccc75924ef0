package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

const (
	attrMethod    = "method"
	attrRoute     = "route"
	attrStatus    = "status"
	attrOutcome   = "outcome"
	attrChannel   = "channel"
	attrJobStatus = "job_status"
	attrOp        = "op"
	attrSuccess   = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func routeAttr(route string) attribute.KeyValue {
	if route == "" {
		route = "unmatched"
	}
	return attribute.String(attrRoute, route)
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func channelAttr(channel string) attribute.KeyValue {
	return attribute.String(attrChannel, channel)
}

func jobStatusAttr(status string) attribute.KeyValue {
	return attribute.String(attrJobStatus, status)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}
