package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentmkt/marketplace/pkg/apperror"
)

func TestMapAppError_MapsEveryKindToItsStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperror.InvalidInput("agentId", "required"), http.StatusBadRequest},
		{apperror.PermissionDenied("denied"), http.StatusForbidden},
		{apperror.AgentNotFound("agent-1"), http.StatusNotFound},
		{apperror.JobNotFound("job-1"), http.StatusNotFound},
		{apperror.AgentSunset("agent-1", "agent-2"), http.StatusGone},
		{apperror.VersionIncompatible("bad version"), http.StatusGone},
		{apperror.QuotaExceeded("rpm"), http.StatusTooManyRequests},
		{apperror.Timeout("slow"), http.StatusGatewayTimeout},
		{apperror.UpstreamRetryable("flaky"), http.StatusServiceUnavailable},
		{apperror.AgentUnavailable("agent-1"), http.StatusServiceUnavailable},
		{apperror.UpstreamRejected(400, "bad"), http.StatusBadGateway},
		{apperror.MaxRetriesExceeded("gave up"), http.StatusBadGateway},
		{apperror.Internal(assert.AnError), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		httpErr := mapAppError(tc.err)
		assert.Equal(t, tc.status, httpErr.Code, "kind=%v", apperror.KindOf(tc.err))
	}
}

func TestMapAppError_NonAppErrorMapsToInternal(t *testing.T) {
	httpErr := mapAppError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, httpErr.Code)
}
