package llm

import (
	"errors"
	"net/http"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/meridianfin/advisor-agent/internal/graph/errs"
)

// classify maps an error returned by the Anthropic SDK to the same tagged
// kind the tool plane transport uses, preferring the SDK's status code when
// available and falling back to string sniffing for network-level failures
// (connection reset, DNS, context deadline) the SDK wraps opaquely.
func classify(err error) errs.ToolInvocationErrorKind {
	if err == nil {
		return errs.ToolErrClient4xx
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	return errs.ClassifyToolInvocationError(err)
}

func classifyStatus(status int) errs.ToolInvocationErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.ToolErrAuth
	case status == http.StatusRequestTimeout:
		return errs.ToolErrTimeout
	case status >= 400 && status < 500:
		return errs.ToolErrClient4xx
	case status >= 500:
		return errs.ToolErrServer5xx
	default:
		return errs.ToolErrClient4xx
	}
}
