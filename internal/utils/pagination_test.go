package utils

import "testing"

func TestParsePage(t *testing.T) {
	cases := []struct {
		number, size string
		want         Page
	}{
		{"", "", Page{1, DefaultPageSize}},
		{"3", "10", Page{3, 10}},
		{"0", "0", Page{1, DefaultPageSize}},
		{"-2", "1000", Page{1, MaxPageSize}},
		{"x", " 5", Page{1, DefaultPageSize}},
		{"999999999999999999999999", "7", Page{1, 7}},
	}
	for _, tc := range cases {
		if got := ParsePage(tc.number, tc.size); got != tc.want {
			t.Errorf("ParsePage(%q, %q) = %+v; want %+v", tc.number, tc.size, got, tc.want)
		}
	}
}

func TestPage_OffsetAndTotalPages(t *testing.T) {
	p := NewPage(3, 10)
	if p.Offset() != 20 {
		t.Fatalf("offset = %d", p.Offset())
	}
	for total, want := range map[int64]int{0: 0, 1: 1, 10: 1, 11: 2, 25: 3} {
		if got := p.TotalPages(total); got != want {
			t.Errorf("TotalPages(%d) = %d; want %d", total, got, want)
		}
	}
	if (Page{}).TotalPages(5) != 0 {
		t.Fatal("zero page size must not divide")
	}
}

func TestAtoiDefault(t *testing.T) {
	for _, tc := range []struct {
		s         string
		def, want int
	}{
		{"", 10, 10},
		{"42", 0, 42},
		{"-13", 1, -13},
		{"x", 5, 5},
		{" 42", 7, 7},
	} {
		if got := AtoiDefault(tc.s, tc.def); got != tc.want {
			t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.s, tc.def, got, tc.want)
		}
	}
}
