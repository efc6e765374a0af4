package auth

import (
	"strings"
	"testing"
)

func TestScanRangeFindsSuffix(t *testing.T) {
	body := "AAAAA1111111111111111111111111111111:3\n" +
		"bbbbb2222222222222222222222222222222:17\n" +
		"CCCCC3333333333333333333333333333333:1\n"

	res, err := scanRange(strings.NewReader(body), "BBBBB2222222222222222222222222222222")
	if err != nil {
		t.Fatalf("scanRange returned error: %v", err)
	}
	if !res.Found || res.Count != 17 {
		t.Fatalf("expected found with count 17, got %+v", res)
	}
}

func TestScanRangeNoMatch(t *testing.T) {
	body := "AAAAA1111111111111111111111111111111:3\n"

	res, err := scanRange(strings.NewReader(body), "ZZZZZ0000000000000000000000000000000")
	if err != nil {
		t.Fatalf("scanRange returned error: %v", err)
	}
	if res.Found {
		t.Fatalf("expected no match, got %+v", res)
	}
}

func TestScanRangeSkipsMalformedLines(t *testing.T) {
	body := "no-colon-here\n\nAAAAA1111111111111111111111111111111:9\n"

	res, err := scanRange(strings.NewReader(body), "AAAAA1111111111111111111111111111111")
	if err != nil {
		t.Fatalf("scanRange returned error: %v", err)
	}
	if !res.Found || res.Count != 9 {
		t.Fatalf("expected found with count 9, got %+v", res)
	}
}

func TestScanRangeBadCountIsAnError(t *testing.T) {
	body := "AAAAA1111111111111111111111111111111:many\n"

	if _, err := scanRange(strings.NewReader(body), "AAAAA1111111111111111111111111111111"); err == nil {
		t.Fatal("expected parse error for non-numeric count")
	}
}
