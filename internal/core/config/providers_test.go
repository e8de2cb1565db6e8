package config

import (
	"strings"
	"testing"
)

const validProviders = `
providers:
  - name: oslobysykkel
    codespace: YOS
    systemId: oslobysykkel
    language: nb
    url: https://gbfs.urbansharing.com/oslobysykkel.no/gbfs.json
  - name: voioslo
    codespace: YVO
    systemId: voioslo
    language: en
    url: https://mds.voiapp.io/gbfs/oslo/gbfs.json
`

func TestParseProviders(t *testing.T) {
	providers, err := ParseProviders([]byte(validProviders))
	if err != nil {
		t.Fatalf("ParseProviders: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(providers))
	}
	if providers[0].Name != "oslobysykkel" || providers[0].Codespace != "YOS" {
		t.Fatalf("first provider %+v not parsed", providers[0])
	}
}

func TestParseProvidersRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty file", ""},
		{"no providers", "providers: []"},
		{"not yaml", "providers: [unterminated"},
		{"missing codespace", `
providers:
  - name: oslobysykkel
    systemId: oslobysykkel
    language: nb
    url: https://gbfs.urbansharing.com/oslobysykkel.no/gbfs.json
`},
		{"bad url", `
providers:
  - name: oslobysykkel
    codespace: YOS
    systemId: oslobysykkel
    language: nb
    url: not-a-url
`},
		{"underscore in name", `
providers:
  - name: oslo_bysykkel
    codespace: YOS
    systemId: oslobysykkel
    language: nb
    url: https://gbfs.urbansharing.com/oslobysykkel.no/gbfs.json
`},
		{"underscore in codespace", `
providers:
  - name: oslobysykkel
    codespace: Y_OS
    systemId: oslobysykkel
    language: nb
    url: https://gbfs.urbansharing.com/oslobysykkel.no/gbfs.json
`},
		{"duplicate name", validProviders + `
  - name: OsloBysykkel
    codespace: YOS
    systemId: oslobysykkel
    language: nb
    url: https://gbfs.urbansharing.com/oslobysykkel.no/gbfs.json
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseProviders([]byte(tc.yaml)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDirectoryLookupIsCaseInsensitive(t *testing.T) {
	providers, err := ParseProviders([]byte(validProviders))
	if err != nil {
		t.Fatalf("ParseProviders: %v", err)
	}
	d := NewDirectory(providers)

	p, err := d.Get("OsloBysykkel")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Codespace != "YOS" {
		t.Fatalf("got %+v, want oslobysykkel", p)
	}

	if _, err := d.Get("nosuch"); err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Fatalf("miss error = %v", err)
	}

	if len(d.All()) != 2 {
		t.Fatalf("All() = %d providers, want 2", len(d.All()))
	}
}

func TestLoadProvidersMissingFile(t *testing.T) {
	if _, err := LoadProviders("/nonexistent/providers.yml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
