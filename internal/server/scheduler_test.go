package server

import (
	"testing"
	"time"
)

func TestIsDue(t *testing.T) {
	hourAgo := time.Now().Add(-time.Hour)
	twoDaysAgo := time.Now().Add(-48 * time.Hour)
	justNow := time.Now().Add(-time.Minute)

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"daily never run", "@daily", nil, true},
		{"daily recent", "@daily", &hourAgo, false},
		{"daily stale", "@daily", &twoDaysAgo, true},
		{"hourly recent", "@hourly", &justNow, false},
		{"hourly stale", "@hourly", &hourAgo, true},
		{"cron never run", "0 6 * * *", nil, true},
		{"cron stale", "0 6 * * *", &twoDaysAgo, true},
		{"invalid spec degrades to daily", "not a cron", &hourAgo, false},
		{"invalid spec never run", "not a cron", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isDue(tc.spec, tc.last); got != tc.want {
				t.Fatalf("isDue(%q) = %v, want %v", tc.spec, got, tc.want)
			}
		})
	}
}
