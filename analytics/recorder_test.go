package analytics

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderWritesInBackground(t *testing.T) {
	s := setupTestStore(t)
	r := NewRecorder(s, 16, nil)
	defer r.Close()

	for i := 0; i < 5; i++ {
		r.Record(PageView{PageName: "index", VisitorIP: "203.0.113.1"})
	}
	r.Flush()

	ps, err := s.PageStats(context.Background(), "index")
	require.NoError(t, err)
	assert.Equal(t, 5, ps.TotalViews)
	assert.Equal(t, 5, ps.TodayViews, "timestamp comes from the store clock")
	assert.Zero(t, r.Dropped())
	assert.Zero(t, r.Pending())
}

func TestRecorderCloseDrainsQueue(t *testing.T) {
	s := setupTestStore(t)
	r := NewRecorder(s, 0, nil)

	for i := 0; i < 20; i++ {
		r.Record(PageView{PageName: "about", VisitorIP: "203.0.113.2"})
	}
	r.Close()

	ps, err := s.PageStats(context.Background(), "about")
	require.NoError(t, err)
	assert.Equal(t, 20, ps.TotalViews)
}

func TestRecorderDropsAfterClose(t *testing.T) {
	s := setupTestStore(t)
	r := NewRecorder(s, 4, nil)
	r.Close()
	r.Close()

	r.Record(PageView{PageName: "index"})
	assert.Equal(t, uint64(1), r.Dropped())

	ps, err := s.PageStats(context.Background(), "index")
	require.NoError(t, err)
	assert.Zero(t, ps.TotalViews)
}

func TestRecorderCountsFailedWrites(t *testing.T) {
	s := setupTestStore(t)
	r := NewRecorder(s, 4, nil)
	defer r.Close()

	require.NoError(t, s.Close())
	r.Record(PageView{PageName: "index"})
	r.Flush()

	assert.Equal(t, uint64(1), r.Failed())
}

func TestRecorderFlushWhileRecording(t *testing.T) {
	s := setupTestStore(t)
	r := NewRecorder(s, 8, nil)

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				r.Record(PageView{PageName: "index", VisitorIP: "203.0.113.9"})
				if j%5 == 0 {
					r.Flush()
				}
			}
		}()
	}
	wg.Wait()
	r.Flush()
	assert.Zero(t, r.Pending())
	r.Close()

	ps, err := s.PageStats(context.Background(), "index")
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, ps.TotalViews+int(r.Dropped()))
	assert.Zero(t, r.Failed())
}
