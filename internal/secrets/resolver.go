// Package secrets resolves op://<vault>/<item>/<field> references against
// a 1Password Connect server (A3). Values that aren't op:// references pass
// through unchanged, so --elastic-password can be given either a literal
// or a reference.
//
// Configuration is via environment variables:
//   - OP_CONNECT_HOST: URL of the 1Password Connect server
//   - OP_CONNECT_TOKEN: Access token for the Connect server
package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

const refPrefix = "op://"

// Resolver resolves op:// references, caching resolved items by vault+item
// so a run referencing the same secret twice (e.g. --elastic-user and
// --elastic-password from the same item) only makes one round trip each.
type Resolver struct {
	client connect.Client
	cache  map[string]*onepassword.Item
}

// NewResolver builds a Resolver from OP_CONNECT_HOST/OP_CONNECT_TOKEN. If
// neither is set, it returns a Resolver that errors on any op:// reference
// but passes plain values through untouched — a run with no secret
// references never needs Connect configured at all.
func NewResolver() *Resolver {
	host := os.Getenv("OP_CONNECT_HOST")
	token := os.Getenv("OP_CONNECT_TOKEN")
	var client connect.Client
	if host != "" && token != "" {
		client = connect.NewClientWithUserAgent(host, token, "loadgen")
	}
	return &Resolver{client: client, cache: make(map[string]*onepassword.Item)}
}

// Resolve returns raw unchanged unless it is an op://<vault>/<item>/<field>
// reference, in which case it fetches and returns that field's value.
func (r *Resolver) Resolve(raw string) (string, error) {
	if !strings.HasPrefix(raw, refPrefix) {
		return raw, nil
	}
	if r.client == nil {
		return "", fmt.Errorf("resolving %q: OP_CONNECT_HOST/OP_CONNECT_TOKEN not configured", raw)
	}

	vault, item, field, err := parseRef(raw)
	if err != nil {
		return "", err
	}

	it, err := r.getItem(vault, item)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", raw, err)
	}

	for _, f := range it.Fields {
		if f.ID == field || f.Label == field {
			return f.Value, nil
		}
	}
	return "", fmt.Errorf("resolving %q: field %q not found on item %q", raw, field, item)
}

func (r *Resolver) getItem(vault, item string) (*onepassword.Item, error) {
	key := vault + "/" + item
	if cached, ok := r.cache[key]; ok {
		return cached, nil
	}

	items, err := r.client.GetItemsByTitle(item, vault)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("item %q not found in vault %q", item, vault)
	}

	full, err := r.client.GetItem(items[0].ID, vault)
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}

	r.cache[key] = full
	return full, nil
}

// parseRef splits "op://vault/item/field" into its three components.
func parseRef(raw string) (vault, item, field string, err error) {
	trimmed := strings.TrimPrefix(raw, refPrefix)
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed secret reference %q, expected op://vault/item/field", raw)
	}
	return parts[0], parts[1], parts[2], nil
}
