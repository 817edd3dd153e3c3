// Package classify maps the outcome of a single add-item attempt to the
// engine's reaction.
//
// Classification is a pure function of the HTTP status code, the response
// body and the transport error. The reservation API answers with
// inconsistent shapes, so fault identifiers are matched first and the
// free-text patterns in [FaultRules] and [UnavailablePattern] act as a
// fallback. Both tables are exported so callers and tests can inspect them.
package classify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"slices"
)

// Kind is the engine's reaction to one attempt outcome.
type Kind int

const (
	// KindRetry keeps polling and counts a non-throttle failure.
	KindRetry Kind = iota

	// KindThrottleTransport is a transport failure (HTTP "000"): pause, then retry.
	KindThrottleTransport

	// KindThrottleRate is an HTTP 429: pause, then retry.
	KindThrottleRate

	// KindConfirm needs a holdings read before deciding success or failure.
	KindConfirm

	// KindTerminal ends the session with an error.
	KindTerminal
)

// String returns a short lower-case name for the kind.
func (k Kind) String() string {
	switch k {
	case KindRetry:
		return "retry"
	case KindThrottleTransport:
		return "throttle-transport"
	case KindThrottleRate:
		return "throttle-rate"
	case KindConfirm:
		return "needs-confirmation"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsThrottle reports whether the kind is one of the two throttle kinds.
func (k Kind) IsThrottle() bool {
	return k == KindThrottleTransport || k == KindThrottleRate
}

// Reason refines [KindConfirm] and [KindTerminal] decisions.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonCandidate  Reason = "candidate"
	ReasonOverlap    Reason = "overlap"
	ReasonAuth       Reason = "auth"
	ReasonTooEarly   Reason = "too_early"
	ReasonConflict   Reason = "conflict"
	ReasonValidation Reason = "validation"
)

// Decision is the classification of one attempt.
type Decision struct {
	Kind   Kind
	Reason Reason

	// ServerMessage is the verbatim rejection text from the server, if any.
	ServerMessage string
}

// String renders the decision as "kind" or "kind:reason".
func (d Decision) String() string {
	if d.Reason == ReasonNone {
		return d.Kind.String()
	}
	return d.Kind.String() + ":" + string(d.Reason)
}

// Outcome is the raw result of one attempt.
type Outcome struct {
	// StatusCode is the HTTP status; 0 means no response was received.
	StatusCode int

	// Body is the raw response body.
	Body []byte

	// Err is the transport or body read error, if any. A response that
	// arrived with a status is classified on that status and whatever body
	// was read.
	Err error
}

// Func classifies an outcome. [Classify] is the default implementation.
type Func func(Outcome) Decision

// Fault is one entry of the "faults" array the API attaches to 417 responses.
type Fault struct {
	MsgKey          string `json:"msgKey"`
	DefaultMessage  string `json:"defaultMessage"`
	MessageTemplate string `json:"messageTemplate"`
}

// Body is the subset of the add-item response the classifier looks at.
type Body struct {
	Success *bool   `json:"success"`
	Message string  `json:"message"`
	Faults  []Fault `json:"faults"`
}

// ParseBody decodes a response body. Anything that is not a JSON object
// yields an empty Body.
func ParseBody(raw []byte) Body {
	var b Body
	if len(raw) == 0 {
		return b
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return Body{}
	}
	return b
}

// ExplicitFailure reports whether the body carries "success": false.
func (b Body) ExplicitFailure() bool {
	return b.Success != nil && !*b.Success
}

// ServerMessage returns the most specific human-readable message in the
// body: the first fault's default message, then its template, then the
// top-level message.
func (b Body) ServerMessage() string {
	if len(b.Faults) > 0 {
		f := b.Faults[0]
		switch {
		case f.DefaultMessage != "":
			return f.DefaultMessage
		case f.MessageTemplate != "":
			return f.MessageTemplate
		}
	}
	return b.Message
}

// FaultRule maps a fault, identified by key or by message text, to a decision.
type FaultRule struct {
	// Name identifies the rule in logs and tests.
	Name string

	// MsgKeys are exact fault identifiers that select this rule.
	MsgKeys []string

	// Patterns are matched against the fault's default message when no key matches.
	Patterns []*regexp.Regexp

	Kind   Kind
	Reason Reason
}

// Matches reports whether the fault selects this rule.
func (r FaultRule) Matches(f Fault) bool {
	if f.MsgKey != "" && slices.Contains(r.MsgKeys, f.MsgKey) {
		return true
	}
	for _, p := range r.Patterns {
		if p.MatchString(f.DefaultMessage) {
			return true
		}
	}
	return false
}

// FaultRules is the ordered rule table applied to the first fault of an
// HTTP 417 response. The first matching rule wins; a fault matching no rule
// falls into [FaultFallback].
var FaultRules = []FaultRule{
	{
		Name:    "outside-window",
		MsgKeys: []string{"R1-V-100017.error", "R6-V-100013.error"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)within 9 Month`),
			regexp.MustCompile(`(?i)cannot be reserved at this time`),
			regexp.MustCompile(`(?i)try again later at`),
		},
		Kind:   KindTerminal,
		Reason: ReasonTooEarly,
	},
	{
		Name:    "inventory-claimed",
		MsgKeys: []string{"inventory.exception"},
		Kind:    KindTerminal,
		Reason:  ReasonConflict,
	},
	{
		Name:    "overlapping-claim",
		MsgKeys: []string{"R12-V-100007.error"},
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)Maximum number of overlapping`),
		},
		Kind:   KindConfirm,
		Reason: ReasonOverlap,
	},
}

// FaultFallback is the decision for a 417 fault that matches no rule.
var FaultFallback = Decision{Kind: KindTerminal, Reason: ReasonValidation}

// UnavailablePattern is the free-text fallback that marks inventory as
// already taken, checked against the top-level "message" of any response
// that was not classified earlier.
var UnavailablePattern = regexp.MustCompile(`(?i)unavailable|sold out|not available`)

// Classify is the default [Func].
func Classify(o Outcome) Decision {
	if o.StatusCode == 0 {
		return Decision{Kind: KindThrottleTransport}
	}

	body := ParseBody(o.Body)

	switch o.StatusCode {
	case http.StatusTooManyRequests:
		return Decision{Kind: KindThrottleRate}
	case http.StatusOK:
		if !body.ExplicitFailure() {
			return Decision{Kind: KindConfirm, Reason: ReasonCandidate}
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Decision{Kind: KindTerminal, Reason: ReasonAuth, ServerMessage: body.ServerMessage()}
	case http.StatusExpectationFailed:
		if len(body.Faults) > 0 {
			return classifyFault(body, o.StatusCode)
		}
	}

	if o.StatusCode == http.StatusConflict || (body.Message != "" && UnavailablePattern.MatchString(body.Message)) {
		msg := body.Message
		if msg == "" {
			msg = fmt.Sprintf("Inventory not available (HTTP %d)", o.StatusCode)
		}
		return Decision{Kind: KindTerminal, Reason: ReasonConflict, ServerMessage: msg}
	}

	return Decision{Kind: KindRetry, ServerMessage: body.ServerMessage()}
}

func classifyFault(body Body, status int) Decision {
	msg := body.ServerMessage()
	if msg == "" {
		msg = fmt.Sprintf("Unknown error from reservation service (HTTP %d)", status)
	}

	fault := body.Faults[0]
	for _, rule := range FaultRules {
		if rule.Matches(fault) {
			return Decision{Kind: rule.Kind, Reason: rule.Reason, ServerMessage: msg}
		}
	}

	d := FaultFallback
	d.ServerMessage = msg
	return d
}
