// Package inventory is the wire layer for the reservation shopping-cart API.
//
// Request bodies and header sets mirror what the site's own web client sends;
// the API rejects requests that do not look like a desktop browser.
package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jpalmerr/cartrush/credentials"
)

// DefaultBaseURL is the cart endpoint of the production API.
const DefaultBaseURL = "https://api.reserveamerica.com/jaxrs-json/shoppingcart/0"

const (
	siteOrigin  = "https://www.reserveamerica.com"
	siteReferer = "https://www.reserveamerica.com/"

	addItemUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"
	cartUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"
)

// AddItemRequest is the add-item payload. Field order is part of the wire
// contract.
type AddItemRequest struct {
	ContractCode  string  `json:"contractCode"`
	FacilityID    string  `json:"facilityID"`
	SiteID        string  `json:"siteID"`
	ArrivalDate   string  `json:"arrivalDate"`
	Units         int     `json:"units"`
	Quantity      int     `json:"quantity"`
	PrimaryItemID *string `json:"primaryItemID"`
	PrimaryResNum *string `json:"primaryResNum"`
}

// Cart is the subset of the cart document used to confirm a claim.
type Cart struct {
	ItemsCount  int         `json:"itemsCount"`
	LastChanges LastChanges `json:"lastChanges"`
}

// LastChanges lists what the most recent cart mutation added.
type LastChanges struct {
	AddedItems []json.RawMessage `json:"addedItems"`
}

// AddItemHeaders returns the header set sent with add-item requests.
func AddItemHeaders(c credentials.Credentials) map[string]string {
	return map[string]string{
		"a1data":             c.A1Data,
		"accept":             "application/json",
		"accept-language":    "en-US,en;q=0.9",
		"authorization":      c.IDToken,
		"cache-control":      "no-cache",
		"content-type":       "application/json",
		"origin":             siteOrigin,
		"pragma":             "no-cache",
		"priority":           "u=1, i",
		"referer":            siteReferer,
		"sec-ch-ua":          `"Google Chrome";v="141", "Not?A_Brand";v="8", "Chromium";v="141"`,
		"sec-ch-ua-mobile":   "?0",
		"sec-ch-ua-platform": `"macOS"`,
		"sec-fetch-dest":     "empty",
		"sec-fetch-mode":     "cors",
		"sec-fetch-site":     "same-site",
		"user-agent":         addItemUserAgent,
	}
}

// CartHeaders returns the header set sent with cart reads.
func CartHeaders(c credentials.Credentials) map[string]string {
	return map[string]string{
		"authorization":   c.IDToken,
		"a1data":          c.A1Data,
		"accept":          "application/json",
		"accept-language": "en-US,en;q=0.9",
		"content-type":    "application/json",
		"origin":          siteOrigin,
		"referer":         siteReferer,
		"user-agent":      cartUserAgent,
	}
}

// AddItem posts one add-item attempt. Transport failures and timeouts are
// reported in Response.Error with StatusCode 0.
func (c *Client) AddItem(ctx context.Context, creds credentials.Credentials, req AddItemRequest, timeout time.Duration) Response {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{Error: fmt.Errorf("encoding add-item request: %w", err)}
	}
	return c.Fetch(ctx, http.MethodPost, c.baseURL+"/additem", AddItemHeaders(creds), body, timeout)
}

// GetCart reads the current cart. The raw response is always returned; the
// error is non-nil for transport failures, non-200 statuses and bodies that
// are not a cart document.
func (c *Client) GetCart(ctx context.Context, creds credentials.Credentials, timeout time.Duration) (Cart, Response, error) {
	resp := c.Fetch(ctx, http.MethodGet, c.baseURL, CartHeaders(creds), nil, timeout)
	if resp.Error != nil {
		return Cart{}, resp, resp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return Cart{}, resp, fmt.Errorf("cart read: HTTP %d", resp.StatusCode)
	}

	var cart Cart
	if err := json.Unmarshal(resp.Body, &cart); err != nil {
		return Cart{}, resp, fmt.Errorf("decoding cart: %w", err)
	}
	return cart, resp, nil
}
