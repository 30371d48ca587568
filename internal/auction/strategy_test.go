package auction

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"

	"bidline/internal/domain"
)

func TestShouldExtend(t *testing.T) {
	base := openAuction(func(a *domain.Auction) {
		a.EndTime = t0
		a.AutoExtend = true
		a.ExtensionWindow = 5 * time.Minute
		a.ExtensionLength = 5 * time.Minute
		a.MaxExtensions = 3
	})

	by, ok := ShouldExtend(base, t0.Add(-3*time.Minute))
	check.True(t, ok)
	check.Equal(t, 5*time.Minute, by)

	_, ok = ShouldExtend(base, t0.Add(-10*time.Minute))
	check.False(t, ok)

	spent := base
	spent.ExtensionsUsed = 3
	_, ok = ShouldExtend(spent, t0.Add(-time.Minute))
	check.False(t, ok)

	off := base
	off.AutoExtend = false
	_, ok = ShouldExtend(off, t0.Add(-time.Minute))
	check.False(t, ok)
}

func TestNextProxyAmount(t *testing.T) {
	contested := func(a *domain.Auction) {
		a.CurrentPrice = d("1050")
		a.WinnerID = "alice"
	}
	cases := []struct {
		name     string
		left     time.Duration
		agent    domain.ProxyAgent
		expected string
	}{
		{"conservative uses own increment", 24 * time.Hour, domain.ProxyAgent{Ceiling: d("1500"), Strategy: domain.StrategyConservative, Increment: dp("50")}, "1100"},
		{"conservative falls back to auction increment", 24 * time.Hour, domain.ProxyAgent{Ceiling: d("1500"), Strategy: domain.StrategyConservative}, "1060"},
		{"aggressive doubles", 24 * time.Hour, domain.ProxyAgent{Ceiling: d("1500"), Strategy: domain.StrategyAggressive}, "1070"},
		{"adaptive far from close", 24 * time.Hour, domain.ProxyAgent{Ceiling: d("1500"), Strategy: domain.StrategyAdaptive}, "1060"},
		{"adaptive inside six hours", 3 * time.Hour, domain.ProxyAgent{Ceiling: d("1500"), Strategy: domain.StrategyAdaptive}, "1065"},
		{"adaptive inside the last hour", 30 * time.Minute, domain.ProxyAgent{Ceiling: d("1500"), Strategy: domain.StrategyAdaptive}, "1070"},
		{"capped at ceiling", 24 * time.Hour, domain.ProxyAgent{Ceiling: d("1065"), Strategy: domain.StrategyAggressive}, "1065"},
		{"small override still clears minimum", 24 * time.Hour, domain.ProxyAgent{Ceiling: d("1500"), Strategy: domain.StrategyConservative, Increment: dp("1")}, "1060"},
		{"ceiling under minimum", 24 * time.Hour, domain.ProxyAgent{Ceiling: d("1055"), Strategy: domain.StrategyConservative}, "1055"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := openAuction(contested, func(a *domain.Auction) { a.EndTime = t0.Add(tc.left) })
			check.Equal(t, tc.expected, NextProxyAmount(a, tc.agent, t0).String())
		})
	}
}
