package session

import "testing"

func TestDeadManScanDefaults(t *testing.T) {
	d := NewDeadManSwitch(nil)
	cases := []struct {
		text string
		want string
		hit  bool
	}{
		{"Please VERIFY your identity", "verify", true},
		{"complete the CAPTCHA below", "captcha", true},
		{"Are you human?", "are you human", true},
		{"unusual traffic from your network", "unusual traffic", true},
		{"a perfectly ordinary reply", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		kw, hit := d.Scan(c.text)
		if hit != c.hit || kw != c.want {
			t.Errorf("Scan(%q) = (%q, %v), want (%q, %v)", c.text, kw, hit, c.want, c.hit)
		}
	}
}

func TestDeadManCustomKeywords(t *testing.T) {
	d := NewDeadManSwitch([]string{"Rate Limited"})
	if _, hit := d.Scan("you have been rate limited"); !hit {
		t.Error("custom keyword did not match case-insensitively")
	}
	if _, hit := d.Scan("verify your email"); hit {
		t.Error("default keyword matched despite custom list")
	}
}
