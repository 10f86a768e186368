// Package apierror maps Go errors onto the gateway's JSON error envelope.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-phone/pkg/core"
	"github.com/vango-go/vai-phone/pkg/core/agents"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// sentinels are domain errors that are safe to describe to the caller.
var sentinels = []struct {
	target error
	err    core.Error
	status int
}{
	{context.DeadlineExceeded, core.Error{Type: core.ErrAPI, Message: "request timeout"}, http.StatusGatewayTimeout},
	{context.Canceled, core.Error{Type: core.ErrAPI, Message: "request cancelled", Code: "cancelled"}, http.StatusRequestTimeout},
	{agents.ErrAgentNotFound, core.Error{Type: core.ErrNotFound, Message: "agent not found", Param: "agentId"}, http.StatusNotFound},
}

// FromError returns the envelope body and status for err. Errors it does not
// recognize become a generic internal error so driver or provider details
// never reach the response.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, coreErr.Type.HTTPStatus()
	}

	for _, s := range sentinels {
		if errors.Is(err, s.target) {
			out := s.err
			out.RequestID = requestID
			return &out, s.status
		}
	}

	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}
