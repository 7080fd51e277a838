package gateway

import (
	"errors"

	"audacity-mcp/internal/domain"
	"audacity-mcp/internal/security"
)

// Messages for the failure kinds callers see most.
const (
	MsgNotConnected = "Error: Audacity pipes not found. Is Audacity running with mod-script-pipe enabled?"
	MsgTimeout      = "Error: timed out waiting for Audacity response"
)

// errorText renders err for the caller. Paths in causes are redacted.
func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrExportDisabled):
		return "Error: export is disabled; set workspace.export_dir to enable it"
	case errors.Is(err, domain.ErrCommandRejected):
		return "Error: command rejected by safety policy: " + security.RedactPaths(rejectionReason(err))
	case errors.Is(err, domain.ErrNotConnected):
		return MsgNotConnected
	case errors.Is(err, domain.ErrTimeout):
		return MsgTimeout
	case errors.Is(err, domain.ErrCommunication):
		return "Error communicating with Audacity: " + security.RedactPaths(err.Error())
	case errors.Is(err, domain.ErrCircuitOpen):
		return "Error: Audacity is unreachable after repeated failures; try again shortly"
	case errors.Is(err, domain.ErrRateLimit):
		return "Error: too many commands; slow down and retry"
	default:
		return "Error: " + security.RedactPaths(err.Error())
	}
}

// rejectionReason returns the innermost detail for a validation failure.
func rejectionReason(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		return de.Detail
	}
	return err.Error()
}
