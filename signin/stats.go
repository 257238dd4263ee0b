package signin

import (
	"context"
	"fmt"
	"strings"
)

// statsScript reads today's sign-in count and the current streak.
const statsScript = `() => {
	const result = {todayCount: null, continuousDays: null, debug: []};
	const isToday = (label) => label.includes('今日') || label.includes('次数');
	const isStreak = (label) => label.includes('连续') || label.includes('天数');

	document.querySelectorAll('.signed-info-compact .signed-info-item').forEach((item) => {
		const label = item.querySelector('.info-label');
		const value = item.querySelector('.info-value');
		if (!label || !value) return;
		const l = label.innerText.trim(), v = value.innerText.trim();
		result.debug.push(l + ' = ' + v);
		if (isToday(l)) result.todayCount = v;
		if (isStreak(l)) result.continuousDays = v;
	});

	if (!result.todayCount || !result.continuousDays) {
		document.querySelectorAll('.info-value').forEach((el) => {
			const labelEl = el.parentElement && el.parentElement.querySelector('.info-label');
			if (!labelEl) return;
			const l = labelEl.innerText.trim(), v = el.innerText.trim();
			if (!result.todayCount && isToday(l)) result.todayCount = v;
			if (!result.continuousDays && isStreak(l)) result.continuousDays = v;
		});
	}

	if (!result.continuousDays) {
		const m = document.body.innerText.match(/连续[签到]*[：:]*\s*(\d+)\s*天?/);
		if (m) result.continuousDays = m[1];
	}
	return result;
}`

// Stats are the sign-in counters shown on the sign-in page.
type Stats struct {
	TodayCount     string   `json:"todayCount"`
	ContinuousDays string   `json:"continuousDays"`
	Debug          []string `json:"debug"`
}

// ReadStats evaluates the statistics script on the current page.
func ReadStats(ctx context.Context, page Page) (Stats, error) {
	var s Stats
	if err := page.Eval(ctx, statsScript, &s); err != nil {
		return Stats{}, fmt.Errorf("failed to read sign-in stats: %w", err)
	}
	s.TodayCount = strings.TrimSpace(s.TodayCount)
	s.ContinuousDays = strings.TrimSpace(s.ContinuousDays)
	return s, nil
}
