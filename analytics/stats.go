package analytics

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	overviewWindow = 30 * 24 * time.Hour
	weekWindow     = 7 * 24 * time.Hour
	onlineWindow   = 5 * time.Minute
)

// Overview summarizes the last 30 days of traffic.
type Overview struct {
	TotalViews     int        `json:"total_views"`
	UniqueVisitors int        `json:"unique_visitors"`
	BlogPosts      int        `json:"blog_posts"`
	PageStats      PageCounts `json:"page_stats"`
}

// PageCount is the number of views of one page.
type PageCount struct {
	Page  string
	Views int
}

// PageCounts is ordered by views descending, then page name. It encodes as a
// JSON object whose keys keep that order.
type PageCounts []PageCount

// Views returns the count for page, or 0.
func (pc PageCounts) Views(page string) int {
	for _, p := range pc {
		if p.Page == page {
			return p.Views
		}
	}
	return 0
}

func (pc PageCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range pc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Page)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(p.Views))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PageStats is the view count of a single page.
type PageStats struct {
	PageName   string `json:"page_name"`
	TotalViews int    `json:"total_views"`
	TodayViews int    `json:"today_views"`
}

// CategoryStat is one row of the category ledger.
type CategoryStat struct {
	Name       string `json:"name"`
	PostCount  int    `json:"post_count"`
	TotalViews int    `json:"total_views"`
}

// Realtime reports recent activity.
type Realtime struct {
	OnlineUsers int `json:"online_users"`
	TodayViews  int `json:"today_views"`
	WeekViews   int `json:"week_views"`
}

// Overview returns traffic totals for the last 30 days and the all-time
// number of indexed posts. The queries run concurrently.
func (s *Store) Overview(ctx context.Context) (Overview, error) {
	since := formatTime(s.now().Add(-overviewWindow))
	out := Overview{PageStats: PageCounts{}}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstErr error

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	counts := []struct {
		name  string
		query string
		args  []any
		dst   *int
	}{
		{"count views", `SELECT COUNT(*) FROM page_views WHERE timestamp >= ?`, []any{since}, &out.TotalViews},
		{"count unique visitors", `SELECT COUNT(DISTINCT visitor_ip) FROM page_views WHERE timestamp >= ?`, []any{since}, &out.UniqueVisitors},
		{"count blog posts", `SELECT COUNT(*) FROM blog_posts`, nil, &out.BlogPosts},
	}
	for _, q := range counts {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.count(ctx, q.query, q.args...)
			if err != nil {
				setErr(fmt.Errorf("%s: %w", q.name, err))
				return
			}
			mu.Lock()
			*q.dst = n
			mu.Unlock()
		}()
	}

	// Per-page counts
	wg.Add(1)
	go func() {
		defer wg.Done()
		pages, err := s.pageCounts(ctx, since)
		if err != nil {
			setErr(fmt.Errorf("page counts: %w", err))
			return
		}
		mu.Lock()
		out.PageStats = pages
		mu.Unlock()
	}()

	wg.Wait()
	if firstErr != nil {
		return Overview{}, firstErr
	}
	return out, nil
}

func (s *Store) pageCounts(ctx context.Context, since string) (PageCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_name, COUNT(*) AS views
		FROM page_views
		WHERE timestamp >= ?
		GROUP BY page_name
		ORDER BY views DESC, page_name ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pages := PageCounts{}
	for rows.Next() {
		var p PageCount
		if err := rows.Scan(&p.Page, &p.Views); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// PageStats returns the views of page over the last 30 days and today.
// Today is the calendar day of the store location.
func (s *Store) PageStats(ctx context.Context, page string) (PageStats, error) {
	start, end := s.today()
	out := PageStats{PageName: page}

	total, err := s.count(ctx,
		`SELECT COUNT(*) FROM page_views WHERE page_name = ? AND timestamp >= ?`,
		page, formatTime(s.now().Add(-overviewWindow)))
	if err != nil {
		return PageStats{}, fmt.Errorf("count page views: %w", err)
	}
	today, err := s.count(ctx,
		`SELECT COUNT(*) FROM page_views WHERE page_name = ? AND timestamp >= ? AND timestamp < ?`,
		page, formatTime(start), formatTime(end))
	if err != nil {
		return PageStats{}, fmt.Errorf("count page views today: %w", err)
	}
	out.TotalViews, out.TodayViews = total, today
	return out, nil
}

// CategoryStats returns every category ordered by total views, then name.
func (s *Store) CategoryStats(ctx context.Context) ([]CategoryStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, post_count, total_views
		FROM categories
		ORDER BY total_views DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	stats := []CategoryStat{}
	for rows.Next() {
		var c CategoryStat
		if err := rows.Scan(&c.Name, &c.PostCount, &c.TotalViews); err != nil {
			return nil, err
		}
		stats = append(stats, c)
	}
	return stats, rows.Err()
}

// Realtime returns distinct visitors of the last five minutes along with
// today's and the last seven days' view counts.
func (s *Store) Realtime(ctx context.Context) (Realtime, error) {
	now := s.now()
	start, end := s.today()
	var out Realtime
	var err error

	out.OnlineUsers, err = s.count(ctx,
		`SELECT COUNT(DISTINCT visitor_ip) FROM page_views WHERE timestamp >= ?`,
		formatTime(now.Add(-onlineWindow)))
	if err != nil {
		return Realtime{}, fmt.Errorf("count online users: %w", err)
	}
	out.TodayViews, err = s.count(ctx,
		`SELECT COUNT(*) FROM page_views WHERE timestamp >= ? AND timestamp < ?`,
		formatTime(start), formatTime(end))
	if err != nil {
		return Realtime{}, fmt.Errorf("count today views: %w", err)
	}
	out.WeekViews, err = s.count(ctx,
		`SELECT COUNT(*) FROM page_views WHERE timestamp >= ?`,
		formatTime(now.Add(-weekWindow)))
	if err != nil {
		return Realtime{}, fmt.Errorf("count week views: %w", err)
	}
	return out, nil
}

// today returns the bounds of the current calendar day in the store location.
func (s *Store) today() (time.Time, time.Time) {
	n := s.now().In(s.loc)
	start := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, 1)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
