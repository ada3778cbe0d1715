package server

import (
	"fmt"
	"io"
	"strings"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// WriteEnvelope frames one response envelope as a single Server-Sent Event:
// every body line becomes its own data: line (multi-line payloads split on
// line boundaries), the metadata lines follow, and a blank line terminates
// the event.
func WriteEnvelope(w io.Writer, env models.ResponseEnvelope) error {
	for _, line := range strings.Split(env.Body, "\n") {
		if err := writeData(w, line); err != nil {
			return err
		}
	}

	if err := writeData(w, "Trace: "+env.TraceID); err != nil {
		return err
	}
	if len(env.Citations) > 0 {
		ids := make([]string, 0, len(env.Citations))
		for _, c := range env.Citations {
			ids = append(ids, c.ID)
		}
		if err := writeData(w, "Citations: "+strings.Join(ids, ",")); err != nil {
			return err
		}
	}
	if err := writeData(w, "Disclaimer: "+collapseLines(env.Disclaimer)); err != nil {
		return err
	}
	if len(env.ToolsInvoked) > 0 {
		if err := writeData(w, "Tools: "+strings.Join(env.ToolsInvoked, ",")); err != nil {
			return err
		}
	}
	if err := writeData(w, "ResponseMode: "+string(env.ResponseMeta.Mode)); err != nil {
		return err
	}
	if env.ResponseMeta.Fallback != "" {
		if err := writeData(w, "ResponseFallback: "+env.ResponseMeta.Fallback); err != nil {
			return err
		}
	}
	if len(env.ResponseMeta.ReasonCodes) > 0 {
		if err := writeData(w, "ResponseReasonCodes: "+strings.Join(env.ResponseMeta.ReasonCodes, ",")); err != nil {
			return err
		}
	}

	_, err := fmt.Fprint(w, "\n")
	return err
}

func writeData(w io.Writer, line string) error {
	_, err := fmt.Fprintf(w, "data: %s\n", line)
	return err
}

// collapseLines folds a multi-line value into one metadata line; metadata
// lines are single data: lines by contract, only the body splits.
func collapseLines(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}
