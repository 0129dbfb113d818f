package relay

import (
	"encoding/json"

	"github.com/datim/adx-mediator/internal/transport"
)

const (
	// ContentTypeOpenHIM tells the control-plane the body is a mediator envelope.
	ContentTypeOpenHIM = "application/json+openhim"

	StatusSuccessful = "Successful"
)

// Envelope is the mediator response returned to the caller for every
// forwarded request, whether or not polling follows.
type Envelope struct {
	URN            string           `json:"x-mediator-urn"`
	Status         string           `json:"status"`
	Response       EnvelopeResponse `json:"response"`
	Orchestrations []any            `json:"orchestrations"`
	Properties     map[string]any   `json:"properties"`
}

type EnvelopeResponse struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
	Timestamp int64             `json:"timestamp"` // epoch ms
}

func newEnvelope(urn string, res transport.Response) Envelope {
	headers := res.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return Envelope{
		URN:    urn,
		Status: StatusSuccessful,
		Response: EnvelopeResponse{
			Status:    res.StatusCode,
			Headers:   headers,
			Body:      transport.RawJSON(res.Body),
			Timestamp: res.Timestamp.UnixMilli(),
		},
		Orchestrations: []any{},
		Properties:     map[string]any{},
	}
}
