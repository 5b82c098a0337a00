package redirect

import (
	"strings"
	"testing"

	"github.com/go-httpcore/httpcore/pkg/headers"
	"github.com/go-httpcore/httpcore/pkg/urlutil"
)

func mustParse(t *testing.T, raw string) *urlutil.Url {
	t.Helper()
	u, err := urlutil.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestPostRedirect303BecomesGetAndDropsBody(t *testing.T) {
	cur := &Request{
		Method:  "POST",
		URL:     mustParse(t, "http://origin.example/redirect"),
		Headers: headers.New(),
		Body:    strings.NewReader("hello"),
	}
	cur.Headers.Set("Content-Type", "text/plain")

	next, err := Apply(cur, 303, "/final")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Method != "GET" {
		t.Fatalf("expected GET, got %s", next.Method)
	}
	if next.Body != nil {
		t.Fatal("expected body to be dropped")
	}
	if next.Headers.Has("Content-Type") {
		t.Fatal("expected Content-Type to be dropped")
	}
	if next.URL.RequestURI() != "/final" {
		t.Fatalf("unexpected resolved URL: %s", next.URL.RequestURI())
	}
}

func Test307PreservesMethodAndBody(t *testing.T) {
	cur := &Request{
		Method:       "PUT",
		URL:          mustParse(t, "http://origin.example/upload"),
		Headers:      headers.New(),
		Body:         strings.NewReader("payload"),
		BodySeekable: true,
	}
	next, err := Apply(cur, 307, "/upload2")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Method != "PUT" || next.Body == nil {
		t.Fatalf("expected method+body preserved, got method=%s body=%v", next.Method, next.Body)
	}
}

func Test308UnrewindableBodyFails(t *testing.T) {
	cur := &Request{
		Method:       "POST",
		URL:          mustParse(t, "http://origin.example/upload"),
		Headers:      headers.New(),
		Body:         strings.NewReader("payload"),
		BodySeekable: false,
	}
	if _, err := Apply(cur, 308, "/upload2"); err == nil {
		t.Fatal("expected UnrewindableBodyError")
	}
}

func TestCrossOriginStripsAuth(t *testing.T) {
	cur := &Request{
		Method:  "GET",
		URL:     mustParse(t, "http://a.example/x"),
		Headers: headers.New(),
	}
	cur.Headers.Set("Authorization", "Bearer secret")
	next, err := Apply(cur, 302, "http://b.example/y")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Headers.Has("Authorization") {
		t.Fatal("expected Authorization stripped across origins")
	}
}

func TestSameOriginKeepsAuth(t *testing.T) {
	cur := &Request{
		Method:  "GET",
		URL:     mustParse(t, "http://a.example/x"),
		Headers: headers.New(),
	}
	cur.Headers.Set("Authorization", "Bearer secret")
	next, err := Apply(cur, 302, "/y")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !next.Headers.Has("Authorization") {
		t.Fatal("expected Authorization kept for same-origin redirect")
	}
}

func TestMissingLocationErrors(t *testing.T) {
	cur := &Request{Method: "GET", URL: mustParse(t, "http://a.example/x"), Headers: headers.New()}
	if _, err := Apply(cur, 302, ""); err == nil {
		t.Fatal("expected LocationValueError")
	}
}

func TestNonRedirectStatusReturnsNil(t *testing.T) {
	cur := &Request{Method: "GET", URL: mustParse(t, "http://a.example/x"), Headers: headers.New()}
	next, err := Apply(cur, 200, "")
	if err != nil || next != nil {
		t.Fatalf("expected (nil, nil) for a non-redirect status, got (%v, %v)", next, err)
	}
}
