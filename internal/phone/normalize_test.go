package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0416000001", "+61416000001"},
		{"0416 000 001", "+61416000001"},
		{"0416-000-001", "+61416000001"},
		{"+61416000001", "+61416000001"},
		{"61416000001", "+61416000001"},
		{"416000001", "+61416000001"},
		{"100", "100"},
		{"000", "000"},
		{"911", "911"},
		{"*72", "*72"},
		// 11+ digits not starting with 0 or the country code: left alone.
		{"15551234567", "15551234567"},
	}

	for _, tc := range cases {
		if got := Normalize(tc.in, "61"); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"0416000001", "+61416000001", "61416000001", "416000001",
		"100", "000", "15551234567", "0416 000 001",
	}
	for _, in := range inputs {
		once := Normalize(in, "61")
		twice := Normalize(once, "61")
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestNormalize_OtherCountryCode(t *testing.T) {
	if got := Normalize("0171234567", "44"); got != "+44171234567" {
		t.Fatalf("got %q", got)
	}
}
