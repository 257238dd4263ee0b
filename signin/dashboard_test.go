package signin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signin-automation/captcha/captchatest"
)

func TestRemainingDays(t *testing.T) {
	loc := time.FixedZone("CST", 8*60*60)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, loc)

	tests := []struct {
		name   string
		expire string
		want   int
	}{
		{name: "later today", expire: "2026-03-01 23:00:00", want: 1},
		{name: "tomorrow morning", expire: "2026-03-02 09:00:00", want: 1},
		{name: "tomorrow evening", expire: "2026-03-02 11:00:00", want: 2},
		{name: "in thirty days", expire: "2026-03-31 10:00:00", want: 31},
		{name: "expired yesterday", expire: "2026-02-28 10:00:00", want: 0},
		{name: "extra spaces", expire: "2026-03-02  11:00:00", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RemainingDays(tt.expire, now, loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := RemainingDays("next month", now, loc)
	assert.Error(t, err)
}

func TestReadDashboard(t *testing.T) {
	page := captchatest.NewFakePage()
	page.EvalResult = map[string]interface{}{
		"apiLink":    " https://example.test/api/abc ",
		"expireTime": "2026-12-31 23:59:59",
		"debug":      []string{"api link selector: .endpoint-url code"},
	}

	info, err := ReadDashboard(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/api/abc", info.APILink)
	assert.Equal(t, "2026-12-31 23:59:59", info.ExpireTime)
	assert.Len(t, info.Debug, 1)
}

func TestReadDashboardNulls(t *testing.T) {
	page := captchatest.NewFakePage()
	page.EvalResult = map[string]interface{}{"apiLink": nil, "expireTime": nil}

	info, err := ReadDashboard(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, info.APILink)
	assert.Empty(t, info.ExpireTime)
}

func TestReadStatsError(t *testing.T) {
	page := captchatest.NewFakePage()
	page.EvalErr = errors.New("execution context destroyed")

	_, err := ReadStats(context.Background(), page)
	assert.Error(t, err)
}
