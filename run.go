package main

import (
	"time"

	"github.com/google/uuid"
)

// RunContext identifies one crawl. It is stamped into history rows, the job
// log, the archive and every ClickHouse row.
type RunContext struct {
	ID      string
	Start   time.Time
	Trigger string // schedule | manual | api | cli
}

func NewRunContext(trigger string, now time.Time) RunContext {
	return RunContext{
		ID:      uuid.NewString(),
		Start:   dbNow(now),
		Trigger: trigger,
	}
}
