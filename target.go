package cartrush

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/jpalmerr/cartrush/internal/inventory"
)

// DefaultContractCode is used when a target does not name a contract.
const DefaultContractCode = "NY"

const arrivalLayout = "2006-01-02"

var (
	bookingPath  = regexp.MustCompile(`(?i)/([A-Z]{2})/(\d+)/(\d+)/campsite-booking`)
	contractCode = regexp.MustCompile(`^[A-Z]{2}$`)
	numericID    = regexp.MustCompile(`^\d+$`)
)

// Target identifies the inventory item a session tries to claim.
//
// Target is immutable after creation via [NewTarget] or [ParseTargetURL].
type Target struct {
	contractCode string
	facilityID   string
	siteID       string
	arrivalDate  string
	nights       int
	quantity     int
}

// ContractCode returns the two-letter contract (state) code.
func (t Target) ContractCode() string {
	return t.contractCode
}

// FacilityID returns the facility (park) identifier.
func (t Target) FacilityID() string {
	return t.facilityID
}

// SiteID returns the site identifier.
func (t Target) SiteID() string {
	return t.siteID
}

// ArrivalDate returns the first night in YYYY-MM-DD form.
func (t Target) ArrivalDate() string {
	return t.arrivalDate
}

// Nights returns the length of stay.
func (t Target) Nights() int {
	return t.nights
}

// Quantity returns the quantity sent with each add-item request.
func (t Target) Quantity() int {
	return t.quantity
}

// String renders the target for logs.
func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s %s x%d", t.contractCode, t.facilityID, t.siteID, t.arrivalDate, t.nights)
}

func (t Target) request() inventory.AddItemRequest {
	return inventory.AddItemRequest{
		ContractCode: t.contractCode,
		FacilityID:   t.facilityID,
		SiteID:       t.siteID,
		ArrivalDate:  t.arrivalDate,
		Units:        t.nights,
		Quantity:     t.quantity,
	}
}

// NewTarget creates a [Target] for a facility and site.
//
// arrivalDate must be in YYYY-MM-DD form and nights at least 1. The contract
// code defaults to [DefaultContractCode]; see [WithContractCode].
//
// Returns an error wrapping [ErrInvalidTarget] if any value is invalid.
//
// Example:
//
//	t, err := cartrush.NewTarget("140", "245719", "2026-05-17", 2,
//	    cartrush.WithContractCode("NY"),
//	)
func NewTarget(facilityID, siteID, arrivalDate string, nights int, opts ...TargetOption) (Target, error) {
	cfg := &targetConfig{
		contractCode: DefaultContractCode,
		quantity:     1,
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Target{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
		}
	}

	if err := validateTarget(facilityID, siteID, arrivalDate, nights); err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}

	return Target{
		contractCode: cfg.contractCode,
		facilityID:   facilityID,
		siteID:       siteID,
		arrivalDate:  arrivalDate,
		nights:       nights,
		quantity:     cfg.quantity,
	}, nil
}

func validateTarget(facilityID, siteID, arrivalDate string, nights int) error {
	switch {
	case !numericID.MatchString(facilityID):
		return fmt.Errorf("facility id %q must be numeric", facilityID)
	case !numericID.MatchString(siteID):
		return fmt.Errorf("site id %q must be numeric", siteID)
	case nights < 1:
		return errors.New("nights must be at least 1")
	}
	if _, err := time.Parse(arrivalLayout, arrivalDate); err != nil {
		return fmt.Errorf("arrival date %q must be YYYY-MM-DD", arrivalDate)
	}
	return nil
}

// ParseTargetURL builds a [Target] from a campsite booking page URL of the
// form .../<ST>/<facility>/<site>/campsite-booking.
//
// An empty arrivalDate or zero nights falls back to the page's arrivalDate
// and lengthOfStay query parameters. The contract code is taken from the
// path when it is upper case, [DefaultContractCode] otherwise; an explicit
// [WithContractCode] wins over both.
func ParseTargetURL(rawURL, arrivalDate string, nights int, opts ...TargetOption) (Target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Target{}, fmt.Errorf("%w: invalid URL: %w", ErrInvalidTarget, err)
	}
	m := bookingPath.FindStringSubmatch(u.Path)
	if m == nil {
		return Target{}, fmt.Errorf("%w: %q is not a campsite booking URL", ErrInvalidTarget, rawURL)
	}

	if arrivalDate == "" {
		arrivalDate = u.Query().Get("arrivalDate")
	}
	if nights == 0 {
		if n, err := strconv.Atoi(u.Query().Get("lengthOfStay")); err == nil {
			nights = n
		}
	}

	if contractCode.MatchString(m[1]) {
		opts = append([]TargetOption{WithContractCode(m[1])}, opts...)
	}
	return NewTarget(m[2], m[3], arrivalDate, nights, opts...)
}
