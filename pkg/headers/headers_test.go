package headers

import "testing"

func TestSetReplacesAll(t *testing.T) {
	d := New()
	d.Add("X-Foo", "1")
	d.Add("X-Foo", "2")
	d.Set("X-Foo", "3")
	if got := d.GetAll("X-Foo"); len(got) != 1 || got[0] != "3" {
		t.Fatalf("expected single value [3], got %v", got)
	}
}

func TestGetJoinsWithComma(t *testing.T) {
	d := New()
	d.Add("Accept", "text/html")
	d.Add("Accept", "application/json")
	if d.Get("Accept") != "text/html, application/json" {
		t.Fatalf("unexpected join: %q", d.Get("Accept"))
	}
}

func TestSetCookieNeverCommaJoined(t *testing.T) {
	d := New()
	d.Add("Set-Cookie", "a=1; Expires=Wed, 21 Oct 2026 07:28:00 GMT")
	d.Add("Set-Cookie", "b=2")
	all := d.GetAll("Set-Cookie")
	if len(all) != 2 {
		t.Fatalf("expected 2 Set-Cookie values, got %d", len(all))
	}
}

func TestCaseInsensitiveLookup(t *testing.T) {
	d := New()
	d.Set("content-type", "text/plain")
	if d.Get("Content-Type") != "text/plain" {
		t.Fatal("expected case-insensitive lookup to succeed")
	}
}

func TestEqualByMultisetRegardlessOfOrder(t *testing.T) {
	a := New()
	a.Add("A", "1")
	a.Add("B", "2")
	b := New()
	b.Add("B", "2")
	b.Add("A", "1")
	if !Equal(a, b) {
		t.Fatal("expected headers to compare equal regardless of insertion order")
	}
}

func TestRemove(t *testing.T) {
	d := New()
	d.Set("X", "1")
	d.Remove("X")
	if d.Has("X") {
		t.Fatal("expected X removed")
	}
}

func TestRawItemsPreservesOriginalCase(t *testing.T) {
	d := New()
	d.Add("x-custom-ID", "1")
	d.Set("X-Another-Header", "2")
	items := d.RawItems()
	if len(items) != 2 || items[0][0] != "x-custom-ID" || items[1][0] != "X-Another-Header" {
		t.Fatalf("expected original-case names preserved, got %v", items)
	}
}
