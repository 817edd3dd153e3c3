package poller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jpalmerr/cartrush/internal/inventory"
)

func raws(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		out = append(out, json.RawMessage(it))
	}
	return out
}

func TestAnyAddition(t *testing.T) {
	tests := []struct {
		name     string
		baseline int
		cart     inventory.Cart
		want     bool
	}{
		{"count grew", 1, inventory.Cart{ItemsCount: 2}, true},
		{"count same", 1, inventory.Cart{ItemsCount: 1}, false},
		{"count dropped", 3, inventory.Cart{ItemsCount: 1}, false},
		{"added items", 1, inventory.Cart{ItemsCount: 1, LastChanges: inventory.LastChanges{AddedItems: raws(`{}`)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnyAddition(tt.baseline, tt.cart); got != tt.want {
				t.Errorf("AnyAddition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSiteAddition(t *testing.T) {
	pred := SiteAddition("245719")

	tests := []struct {
		name  string
		items []json.RawMessage
		want  bool
	}{
		{"string id", raws(`{"siteID":"245719"}`), true},
		{"numeric id", raws(`{"siteId":245719}`), true},
		{"nested", raws(`{"item":{"site":{"siteID":"245719"}}}`), true},
		{"in array", raws(`{"lines":[{"x":1},{"SITEID":"245719"}]}`), true},
		{"other site", raws(`{"siteID":"1"}`), false},
		{"second item matches", raws(`{"siteID":"1"}`, `{"siteID":"245719"}`), true},
		{"not an object", raws(`"245719"`), false},
		{"no items", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := inventory.Cart{ItemsCount: 10, LastChanges: inventory.LastChanges{AddedItems: tt.items}}
			if got := pred(0, cart); got != tt.want {
				t.Errorf("SiteAddition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfirmer(t *testing.T) {
	count := 2
	var readErr error
	client := &fakeClient{cart: func() (inventory.Cart, error) {
		return inventory.Cart{ItemsCount: count}, readErr
	}}
	c := NewConfirmer(client, testCreds, 0, nil)

	n, err := c.Snapshot(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Snapshot() = (%d, %v), want (2, nil)", n, err)
	}

	ok, _, err := c.Confirm(context.Background())
	if ok || err != nil {
		t.Errorf("Confirm() unchanged cart = (%v, %v), want (false, nil)", ok, err)
	}

	count = 3
	ok, cart, err := c.Confirm(context.Background())
	if !ok || err != nil || cart.ItemsCount != 3 {
		t.Errorf("Confirm() grown cart = (%v, %d, %v), want (true, 3, nil)", ok, cart.ItemsCount, err)
	}

	readErr = errors.New("down")
	ok, _, err = c.Confirm(context.Background())
	if ok || err == nil {
		t.Errorf("Confirm() failed read = (%v, %v), want (false, error)", ok, err)
	}

	n, err = c.Snapshot(context.Background())
	if err == nil || n != 0 || c.Baseline() != 0 {
		t.Errorf("Snapshot() failed read = (%d, %v), baseline %d; want (0, error), 0", n, err, c.Baseline())
	}
}
