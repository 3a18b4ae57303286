package keys

import (
	"net/url"
	"regexp"
	"strings"
	"testing"
	"unicode"
)

const endpoint = "https://example.com/arcgis/rest/services/Ortho/ImageServer/query"

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	p := url.Values{"where": {"CATEGORY=1"}, "outFields": {"*"}, "f": {"json"}}
	k1 := Key("query", endpoint, p)
	k2 := Key("query", endpoint, url.Values{"f": {"json"}, "outFields": {"*"}, "where": {"CATEGORY=1"}})
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNormalization_WhereSpacingVariantsProduceSameKey(t *testing.T) {
	k1 := Key("query", endpoint, url.Values{"where": {"  CATEGORY  =   1 AND  Year > 2020 "}})
	k2 := Key("query", endpoint, url.Values{"where": {"CATEGORY=1 AND Year>2020"}})
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[a-z0-9:_\-=]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
	if !strings.HasPrefix(k1, "clipship:query:example-com:arcgis:rest:services:ortho:imageserver:query:") {
		t.Fatalf("unexpected key layout: %s", k1)
	}
}

func TestDifference_DifferentParamsAreDifferent(t *testing.T) {
	k1 := Key("query", endpoint, url.Values{"geometry": {`{"rings":[[[0,0],[1,0],[1,1],[0,0]]]}`}})
	k2 := Key("query", endpoint, url.Values{"geometry": {`{"rings":[[[0,0],[2,0],[2,2],[0,0]]]}`}})
	if k1 == k2 {
		t.Fatal("different geometries must produce different keys")
	}
	if Key("describe", endpoint, nil) == Key("query", endpoint, nil) {
		t.Fatal("different ops must produce different keys")
	}
}

func TestUnicodeSafety_NoPanicAndHashSuffixPresent(t *testing.T) {
	k := Key("query", "https://bilder.example/Göteborg/雪/ImageServer", url.Values{"where": {"name = 'Göteborg'"}})
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	m := regexp.MustCompile(`:q=([0-9a-f]{16})$`).FindStringSubmatch(k)
	if len(m) != 2 {
		t.Fatalf("missing or invalid :q=<hex64> suffix in key: %s", k)
	}
}

func TestNormalizeWhere_KeepsQuotedLiterals(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"  Name = 'a  b'  ", "Name='a  b'"},
		{"Name='a, b' AND  Cat = 1", "Name='a, b' AND Cat=1"},
		{"Name = 'it''s  here' OR Name = 'x'", "Name='it''s  here' OR Name='x'"},
		{"Name = 'open  ended", "Name='open  ended"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeWhere(tc.in); got != tc.want {
			t.Fatalf("normalizeWhere(%q)=%q want %q", tc.in, got, tc.want)
		}
	}

	k1 := Key("query", endpoint, url.Values{"where": {"Name='a  b'"}})
	k2 := Key("query", endpoint, url.Values{"where": {"Name='a b'"}})
	if k1 == k2 {
		t.Fatal("literals differing in spacing must produce different keys")
	}
	k3 := Key("query", endpoint, url.Values{"where": {"Name = 'a  b'"}})
	if k1 != k3 {
		t.Fatalf("spacing outside literals must not matter:\n k1=%s\n k3=%s", k1, k3)
	}
}
