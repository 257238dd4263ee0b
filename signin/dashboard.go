package signin

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

const expireLayout = "2006-01-02 15:04:05"

// dashboardScript finds the personal API link and the expiry time.
const dashboardScript = `() => {
	const result = {apiLink: null, expireTime: null, debug: []};

	const apiSelectors = [
		'#tvboxLinkContainer .endpoint-url code',
		'.endpoint-url code',
		'#tvboxLinkContainer code',
		'.api-link code',
		'code[class*="endpoint"]',
		'.card-body code'
	];
	for (const selector of apiSelectors) {
		const el = document.querySelector(selector);
		if (el && el.innerText.trim()) {
			result.apiLink = el.innerText.trim();
			result.debug.push('api link selector: ' + selector);
			break;
		}
	}
	if (!result.apiLink) {
		for (const code of document.querySelectorAll('code')) {
			const text = code.innerText.trim();
			if (text.includes('http') && text.includes('/')) {
				result.apiLink = text;
				result.debug.push('api link from code tag');
				break;
			}
		}
	}

	const expireSelectors = [
		'.expire-time',
		'.expiry-time',
		'.expire-date',
		'[class*="expire"]',
		'.subscription-expire',
		'.vip-expire'
	];
	for (const selector of expireSelectors) {
		const el = document.querySelector(selector);
		if (el && el.innerText.trim()) {
			result.expireTime = el.innerText.trim();
			result.debug.push('expire selector: ' + selector);
			break;
		}
	}
	if (!result.expireTime) {
		const m = document.body.innerText.match(/(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2})/);
		if (m) {
			result.expireTime = m[1];
			result.debug.push('expire from page text');
		}
	}

	result.debug.push('title: ' + document.title);
	return result;
}`

// DashboardInfo is what the dashboard shows about the account.
type DashboardInfo struct {
	APILink    string   `json:"apiLink"`
	ExpireTime string   `json:"expireTime"`
	Debug      []string `json:"debug"`
}

// ReadDashboard evaluates the dashboard script on the current page.
func ReadDashboard(ctx context.Context, page Page) (DashboardInfo, error) {
	var info DashboardInfo
	if err := page.Eval(ctx, dashboardScript, &info); err != nil {
		return DashboardInfo{}, fmt.Errorf("failed to read dashboard: %w", err)
	}
	info.APILink = strings.TrimSpace(info.APILink)
	info.ExpireTime = strings.TrimSpace(info.ExpireTime)
	return info, nil
}

// RemainingDays counts calendar days left until expire, which is read in loc.
// The current day counts, so something expiring later today gives 1.
func RemainingDays(expire string, now time.Time, loc *time.Location) (int, error) {
	at, err := time.ParseInLocation(expireLayout, strings.Join(strings.Fields(expire), " "), loc)
	if err != nil {
		return 0, fmt.Errorf("invalid expire time %q: %w", expire, err)
	}
	days := math.Floor(at.Sub(now).Hours() / 24)
	return int(days) + 1, nil
}
