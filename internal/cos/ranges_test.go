package cos

import "testing"

func TestParseRangeHeaderClosedForm(t *testing.T) {
	r, ok := ParseRangeHeader("bytes=10-19")
	if !ok {
		t.Fatal("expected bytes=10-19 to parse")
	}
	if r.Start != 10 || r.Length != 10 {
		t.Fatalf("got start=%d length=%d, want start=10 length=10", r.Start, r.Length)
	}
}

func TestParseRangeHeaderOpenEnded(t *testing.T) {
	r, ok := ParseRangeHeader("bytes=50-")
	if !ok {
		t.Fatal("expected bytes=50- to parse")
	}
	if r.Start != 50 || r.Length != -1 {
		t.Fatalf("got start=%d length=%d, want start=50 length=-1", r.Start, r.Length)
	}
}

func TestParseRangeHeaderRejectsSuffixForm(t *testing.T) {
	if _, ok := ParseRangeHeader("bytes=-500"); ok {
		t.Fatal("expected the suffix form bytes=-500 to be rejected")
	}
}

func TestParseRangeHeaderRejectsMultiRange(t *testing.T) {
	if _, ok := ParseRangeHeader("bytes=0-10,20-30"); ok {
		t.Fatal("expected multi-range requests to be rejected")
	}
}

func TestParseRangeHeaderRejectsGarbage(t *testing.T) {
	cases := []string{"", "not a range", "bytes=", "bytes=abc-10", "bytes=10-5"}
	for _, c := range cases {
		if _, ok := ParseRangeHeader(c); ok {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}

func TestContentRangeHeader(t *testing.T) {
	if got := ContentRangeHeader(0, 9, 100); got != "bytes 0-9/100" {
		t.Fatalf("got %q", got)
	}
}

func TestContentRangeUnsatisfiable(t *testing.T) {
	if got := ContentRangeUnsatisfiable(1024); got != "bytes */1024" {
		t.Fatalf("got %q", got)
	}
}

func TestRoundUpAndDown(t *testing.T) {
	if got := RoundUp(10, 8); got != 16 {
		t.Fatalf("RoundUp(10,8) = %d, want 16", got)
	}
	if got := RoundUp(16, 8); got != 16 {
		t.Fatalf("RoundUp(16,8) = %d, want 16", got)
	}
	if got := RoundDown(10, 8); got != 8 {
		t.Fatalf("RoundDown(10,8) = %d, want 8", got)
	}
	if got := RoundUp(10, 0); got != 10 {
		t.Fatalf("RoundUp with align<=1 should be a no-op, got %d", got)
	}
}
