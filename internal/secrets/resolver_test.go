package secrets

import "testing"

func TestParseRefSplitsVaultItemField(t *testing.T) {
	vault, item, field, err := parseRef("op://infra/elastic-creds/password")
	if err != nil {
		t.Fatalf("parseRef: %v", err)
	}
	if vault != "infra" || item != "elastic-creds" || field != "password" {
		t.Fatalf("parseRef = (%q, %q, %q), want (infra, elastic-creds, password)", vault, item, field)
	}
}

func TestParseRefKeepsSlashesInField(t *testing.T) {
	vault, item, field, err := parseRef("op://infra/elastic-creds/path/to/field")
	if err != nil {
		t.Fatalf("parseRef: %v", err)
	}
	if field != "path/to/field" {
		t.Fatalf("field = %q, want path/to/field", field)
	}
	if vault != "infra" || item != "elastic-creds" {
		t.Fatalf("unexpected vault/item: %q/%q", vault, item)
	}
}

func TestParseRefRejectsMalformedReferences(t *testing.T) {
	cases := []string{
		"op://only-vault",
		"op://vault/item",
		"op:///item/field",
		"op://vault//field",
	}
	for _, raw := range cases {
		if _, _, _, err := parseRef(raw); err == nil {
			t.Errorf("parseRef(%q): expected an error", raw)
		}
	}
}

func TestResolvePlainValuesPassThroughWithoutAConnectClient(t *testing.T) {
	r := NewResolver()
	got, err := r.Resolve("plain-password")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "plain-password" {
		t.Fatalf("Resolve(plain) = %q, want unchanged input", got)
	}
}

func TestResolveOpReferenceFailsWithoutConnectConfigured(t *testing.T) {
	r := NewResolver()
	if r.client != nil {
		t.Skip("OP_CONNECT_HOST/OP_CONNECT_TOKEN configured in this environment")
	}
	if _, err := r.Resolve("op://infra/elastic-creds/password"); err == nil {
		t.Fatalf("expected an error resolving an op:// reference with no Connect client configured")
	}
}
