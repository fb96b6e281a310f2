package domain

import "testing"

func TestRCode_IsValid(t *testing.T) {
	cases := []struct {
		value RCode
		want  bool
	}{
		{RCodeNoError, true}, {RCodeServFail, true}, {RCodeNXDomain, true}, {15, true},
		{16, false}, {255, false},
	}
	for _, tc := range cases {
		if got := tc.value.IsValid(); got != tc.want {
			t.Errorf("IsValid(%d) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestRCode_String(t *testing.T) {
	cases := []struct {
		r    RCode
		want string
	}{
		{0, "NOERROR"}, {1, "FORMERR"}, {2, "SERVFAIL"}, {3, "NXDOMAIN"}, {4, "NOTIMP"}, {5, "REFUSED"},
		{9, "UNKNOWN(9)"},
	}
	for _, tc := range cases {
		if got := tc.r.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", tc.r, got, tc.want)
		}
	}
}
