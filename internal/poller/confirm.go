package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jpalmerr/cartrush/credentials"
	"github.com/jpalmerr/cartrush/internal/inventory"
)

// CartReader reads the current cart.
type CartReader interface {
	GetCart(ctx context.Context, creds credentials.Credentials, timeout time.Duration) (inventory.Cart, inventory.Response, error)
}

// Predicate decides whether a cart read shows the claim, given the item
// count captured at session start.
type Predicate func(baseline int, cart inventory.Cart) bool

// AnyAddition is the default predicate: the item count grew or the last
// cart mutation added something.
func AnyAddition(baseline int, cart inventory.Cart) bool {
	return cart.ItemsCount > baseline || len(cart.LastChanges.AddedItems) > 0
}

// SiteAddition returns a stricter predicate that requires an added item
// referring to siteID.
func SiteAddition(siteID string) Predicate {
	return func(_ int, cart inventory.Cart) bool {
		for _, raw := range cart.LastChanges.AddedItems {
			if itemMentionsSite(raw, siteID) {
				return true
			}
		}
		return false
	}
}

func itemMentionsSite(raw json.RawMessage, siteID string) bool {
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil {
		return false
	}
	return findSite(item, siteID)
}

// findSite looks for a siteID/siteId key holding siteID anywhere in a
// decoded JSON object.
func findSite(v any, siteID string) bool {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if strings.EqualFold(k, "siteid") && fmt.Sprint(val) == siteID {
				return true
			}
			if findSite(val, siteID) {
				return true
			}
		}
	case []any:
		for _, val := range t {
			if findSite(val, siteID) {
				return true
			}
		}
	}
	return false
}

// Confirmer checks the cart after an ambiguous add-item outcome. The same
// check serves both the HTTP 200 path and the overlapping-reservation
// path.
type Confirmer struct {
	reader    CartReader
	creds     credentials.Credentials
	timeout   time.Duration
	predicate Predicate
	baseline  int
}

// NewConfirmer returns a Confirmer. A nil predicate means [AnyAddition].
func NewConfirmer(reader CartReader, creds credentials.Credentials, timeout time.Duration, predicate Predicate) *Confirmer {
	if predicate == nil {
		predicate = AnyAddition
	}
	return &Confirmer{reader: reader, creds: creds, timeout: timeout, predicate: predicate}
}

// Snapshot records the current item count as the baseline. A failed read
// leaves the baseline at zero and returns the error.
func (c *Confirmer) Snapshot(ctx context.Context) (int, error) {
	cart, _, err := c.reader.GetCart(ctx, c.creds, c.timeout)
	if err != nil {
		c.baseline = 0
		return 0, err
	}
	c.baseline = cart.ItemsCount
	return c.baseline, nil
}

// Baseline returns the item count captured by [Confirmer.Snapshot].
func (c *Confirmer) Baseline() int {
	return c.baseline
}

// Confirm reads the cart and applies the predicate. A failed read counts as
// not confirmed; the error is returned for logging.
func (c *Confirmer) Confirm(ctx context.Context) (bool, inventory.Cart, error) {
	cart, _, err := c.reader.GetCart(ctx, c.creds, c.timeout)
	if err != nil {
		return false, inventory.Cart{}, err
	}
	return c.predicate(c.baseline, cart), cart, nil
}
