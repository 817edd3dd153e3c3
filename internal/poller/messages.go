package poller

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jpalmerr/cartrush/internal/classify"
)

// Operator-facing status messages.
const (
	msgStarting        = "Starting polling..."
	msgSuccess         = "Success! Item added to cart."
	msgSuccessOverlap  = "Success! Reservation already present in cart."
	msgStoppedByUser   = "Polling stopped by user"
	msgShutdown        = "Polling stopped: shutting down"
	msgAuth            = "Auth error: invalid or expired session"
	msgTooEarly        = "Too early: schedule the session to start when the dates open."
	msgClaimedFault    = "Already reserved: One or more of the Dates not available."
	msgClaimed         = "Already reserved: Inventory not available."
	msgOverlap         = "Overlapping reservation: You already have a reservation for these dates."
	msgValidation      = "Validation error from reservation service."
	msgUnconfirmed     = "HTTP 200 but cart unchanged: still polling."
	msgFailureWarnings = "%d+ failures: consider checking cookies/site."
)

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf("Polling stopped: max duration (%s) reached", humanDuration(d))
}

func throttleMessage(kind classify.Kind, pause time.Duration) string {
	secs := int(math.Round(pause.Seconds()))
	if kind == classify.KindThrottleRate {
		return fmt.Sprintf("Rate limited: pausing %ds...", secs)
	}
	return fmt.Sprintf("Network throttle: pausing %ds...", secs)
}

func reductionMessage(kind classify.Kind, n int) string {
	if kind == classify.KindThrottleRate {
		return fmt.Sprintf("Reduced concurrency to %d due to persistent rate limiting.", n)
	}
	return fmt.Sprintf("Reduced concurrency to %d due to persistent throttling.", n)
}

func retryMessage(serverMessage string, status int) string {
	if serverMessage != "" {
		return serverMessage
	}
	return fmt.Sprintf("HTTP %d", status)
}

// terminalMessage picks the status message for a terminal decision.
func terminalMessage(d classify.Decision, status int) string {
	switch d.Reason {
	case classify.ReasonAuth:
		return msgAuth
	case classify.ReasonTooEarly:
		return msgTooEarly
	case classify.ReasonConflict:
		if status == http.StatusExpectationFailed {
			return msgClaimedFault
		}
		return msgClaimed
	case classify.ReasonOverlap:
		return msgOverlap
	default:
		return msgValidation
	}
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d min", int(d/time.Minute))
	}
	return d.String()
}
