package toolplane

import (
	"context"
	"encoding/json"

	"github.com/meridianfin/advisor-agent/pkg/models"
)

// Invoke adapts Client.CallTool to scheduler.Invoker, dispatching against
// the tool call's resolved remote name.
func (c *Client) Invoke(ctx context.Context, call models.ToolCall) (json.RawMessage, error) {
	return c.CallTool(ctx, call.TraceID, call.CallID, call.ResolvedName, call.Arguments)
}
