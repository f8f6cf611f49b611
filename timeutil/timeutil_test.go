package timeutil

import (
	"bytes"
	"testing"
)

func TestISODateTimeFromCommaForm(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2021,11,19,17,23,18", "2021-11-19T17:23:18Z"},
		{"2021,11,19,17,23,18,500000", "2021-11-19T17:23:18.500000Z"},
		{"2021,11,19", "2021-11-19"},
		{"2021", "2021"},
		{"2023-06-15T12:00:00.0000Z", "2023-06-15T12:00:00.0000Z"},
		{"2023-06-15T12:00:00", "2023-06-15T12:00:00Z"},
	}
	for _, c := range cases {
		got, err := ISODateTimeString(c.in)
		if err != nil {
			t.Fatalf("ISODateTimeString(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ISODateTimeString(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestISODateTimeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"2021/11/19", "yesterday", "2021,11,19,17,23,18,5,9"} {
		if _, err := ISODateTimeString(in); err == nil {
			t.Fatalf("ISODateTimeString(%q) expected error", in)
		}
		if out := ISODateTime(nil, []byte(in)); out != nil {
			t.Fatalf("ISODateTime(%q) = %q, expected nil", in, out)
		}
	}
}

// The byte-slice form converts in place when the output aliases the input.
func TestISODateTimeInPlace(t *testing.T) {
	buf := make([]byte, 0, 32)
	buf = append(buf, "2021,11,19,17,23,18"...)

	out := ISODateTime(buf, buf)
	if out == nil {
		t.Fatal("in-place conversion failed")
	}
	if !bytes.Equal(out, []byte("2021-11-19T17:23:18Z")) {
		t.Fatalf("in-place ISODateTime = %q", out)
	}
	if &out[0] != &buf[0] {
		t.Fatal("in-place conversion reallocated despite sufficient capacity")
	}
}

func TestCommaDateTime(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"2021-11-19T17:23:18Z", "2021,11,19,17,23,18"},
		{"2021-11-19T17:23:18.5Z", "2021,11,19,17,23,18,5"},
		{"2021,11,19,17,23,18", "2021,11,19,17,23,18"},
	}
	for _, c := range cases {
		got, err := CommaDateTimeString(c.in)
		if err != nil {
			t.Fatalf("CommaDateTimeString(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("CommaDateTimeString(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCommaDateTimeInPlace(t *testing.T) {
	buf := []byte("2021-11-19T17:23:18.5Z")

	out := CommaDateTime(buf, buf)
	if out == nil {
		t.Fatal("in-place conversion failed")
	}
	if !bytes.Equal(out, []byte("2021,11,19,17,23,18,5")) {
		t.Fatalf("in-place CommaDateTime = %q", out)
	}
	if &out[0] != &buf[0] {
		t.Fatal("in-place conversion reallocated")
	}
}

// The canonical subset round-trips in both directions.
func TestDateTimeRoundTrip(t *testing.T) {
	isoForms := []string{"2021-11-19T17:23:18Z", "2000-02-29T00:00:00.123456Z"}
	for _, iso := range isoForms {
		comma, err := CommaDateTimeString(iso)
		if err != nil {
			t.Fatalf("CommaDateTimeString(%q) error: %v", iso, err)
		}
		back, err := ISODateTimeString(comma)
		if err != nil {
			t.Fatalf("ISODateTimeString(%q) error: %v", comma, err)
		}
		if back != iso {
			t.Fatalf("round trip %q -> %q -> %q", iso, comma, back)
		}
	}

	commaForms := []string{"2021,11,19,17,23,18", "1999,12,31,23,59,59,999999"}
	for _, comma := range commaForms {
		iso, err := ISODateTimeString(comma)
		if err != nil {
			t.Fatalf("ISODateTimeString(%q) error: %v", comma, err)
		}
		back, err := CommaDateTimeString(iso)
		if err != nil {
			t.Fatalf("CommaDateTimeString(%q) error: %v", iso, err)
		}
		if back != comma {
			t.Fatalf("round trip %q -> %q -> %q", comma, iso, back)
		}
	}
}

func TestDOY2MDKnownDates(t *testing.T) {
	cases := []struct {
		year, jday  int
		month, mday int
	}{
		{2023, 1, 1, 1},
		{2023, 166, 6, 15},
		{2023, 365, 12, 31},
		{2020, 60, 2, 29},
		{2020, 366, 12, 31},
		{1900, 60, 3, 1}, // 1900 is not a leap year
	}
	for _, c := range cases {
		month, mday, err := DOY2MD(c.year, c.jday)
		if err != nil {
			t.Fatalf("DOY2MD(%d, %d) error: %v", c.year, c.jday, err)
		}
		if month != c.month || mday != c.mday {
			t.Fatalf("DOY2MD(%d, %d) = (%d, %d), want (%d, %d)",
				c.year, c.jday, month, mday, c.month, c.mday)
		}
	}
}

func TestDOY2MDRange(t *testing.T) {
	if _, _, err := DOY2MD(1899, 1); err == nil {
		t.Fatal("expected error for year 1899")
	}
	if _, _, err := DOY2MD(2023, 366); err == nil {
		t.Fatal("expected error for day 366 of a non-leap year")
	}
	if _, _, err := DOY2MD(2023, 0); err == nil {
		t.Fatal("expected error for day 0")
	}
}

// Exhaustive invertibility across the supported year range would be slow;
// sample the boundary years plus a leap century year.
func TestDOYInvertibility(t *testing.T) {
	for _, year := range []int{1900, 1999, 2000, 2020, 2023, 2100} {
		days := 365
		if leapYear(year) {
			days = 366
		}
		for jday := 1; jday <= days; jday++ {
			month, mday, err := DOY2MD(year, jday)
			if err != nil {
				t.Fatalf("DOY2MD(%d, %d) error: %v", year, jday, err)
			}
			back, err := DayOfYear(year, month, mday)
			if err != nil {
				t.Fatalf("DayOfYear(%d, %d, %d) error: %v", year, month, mday, err)
			}
			if back != jday {
				t.Fatalf("year %d: jday %d -> (%d, %d) -> %d", year, jday, month, mday, back)
			}
		}
	}
}
