package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/compendium/internal/store"
)

// Scheduler re-runs research for documents carrying a refresh cron spec.
// A redis SetNX lock keeps concurrent instances from duplicating sessions.
type Scheduler struct {
	Store  *store.Store
	Engine *Engine
	Rdb    *redis.Client
	Stop   chan struct{}

	Interval time.Duration
	logger   *log.Logger
}

func (s *Scheduler) Start() {
	if s.Interval <= 0 {
		s.Interval = time.Hour
	}
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	ticker := time.NewTicker(s.Interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	docs, err := s.Store.ListScheduledDocuments(ctx)
	if err != nil {
		s.logger.Printf("list scheduled documents failed: %v", err)
		return
	}
	for _, d := range docs {
		var last *time.Time
		if d.LastRun.Valid {
			t := d.LastRun.Time
			last = &t
		}
		if !isDue(d.RefreshCron, last) {
			continue
		}

		if s.Rdb != nil {
			lockKey := "compendium:sched:lock:" + d.ID
			ok, err := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if err != nil || !ok {
				continue
			}
		}

		sess, jobs, err := s.Engine.StartResearch(ctx, d.Document, ResearchStartRequest{})
		if err != nil {
			s.logger.Printf("document %s: scheduled refresh failed: %v", d.ID, err)
			continue
		}
		s.logger.Printf("document %s: scheduled refresh session %s (%d jobs)", d.ID, sess.ID(), jobs)
	}
}

// isDue determines whether a document with cronSpec should refresh now, given
// its last run. Supports "@daily", "@hourly" and 5-field cron expressions;
// invalid specs degrade to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
