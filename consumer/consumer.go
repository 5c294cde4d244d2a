// Package consumer drains the capture ring, enriches events from /proc,
// persists them, and runs detection rules over them.
package consumer

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clitap/clitap/database"
	"github.com/clitap/clitap/probe"
	"github.com/clitap/clitap/process"
	"github.com/clitap/clitap/sigma"
)

// Config tunes the consumer loop.
type Config struct {
	SessionTimeout time.Duration
	StatsInterval  time.Duration
}

// Consumer pulls records off the event ring one at a time and fans each
// into the database, the session tracker, and the detector.
type Consumer struct {
	probe    *probe.Probe
	db       *database.DB
	cache    *process.Cache
	detector *sigma.Detector
	log      *zap.Logger

	sessions      *sessionTracker
	statsInterval time.Duration
}

func New(p *probe.Probe, db *database.DB, cache *process.Cache, detector *sigma.Detector, log *zap.Logger, cfg Config) *Consumer {
	timeout := cfg.SessionTimeout
	if timeout <= 0 {
		timeout = probe.InactivityTimeout
	}
	statsInterval := cfg.StatsInterval
	if statsInterval <= 0 {
		statsInterval = time.Minute
	}
	return &Consumer{
		probe:         p,
		db:            db,
		cache:         cache,
		detector:      detector,
		log:           log,
		sessions:      newSessionTracker(timeout),
		statsInterval: statsInterval,
	}
}

// Run processes events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	stats := time.NewTicker(c.statsInterval)
	defer stats.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case now := <-ticker.C:
				c.expireSessions(now)
			case <-stats.C:
				c.logStats()
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		rec, err := c.probe.Events().Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.handleEvent(ctx, &rec)
	}
}

func (c *Consumer) handleEvent(ctx context.Context, rec *probe.EventRecord) {
	now := time.Now()
	row := &database.EventRow{
		Timestamp:     now,
		EventType:     rec.TypeString(),
		PID:           rec.PID,
		PPID:          rec.PPID,
		UID:           rec.UID,
		Comm:          rec.CommString(),
		DstPort:       rec.TargetPort,
		HTTPMethod:    rec.MethodString(),
		HTTPURI:       rec.URIString(),
		ContentLength: rec.ContentLength,
		SocketFD:      rec.SocketFD,
		ExitCode:      rec.ExitCode,
		Username:      process.UsernameFromUID(rec.UID),
	}
	if rec.EventType == probe.EventConnect {
		row.DstAddr = ipString(rec.TargetAddr)
	}
	if rec.EventType == probe.EventExec {
		row.ExePath = rec.PathString()
	}

	// a fresh exec must not be enriched from a recycled pid's cache entry
	if rec.EventType == probe.EventExec {
		c.cache.Invalidate(rec.PID)
	}
	c.enrich(rec, row)

	switch rec.EventType {
	case probe.EventExec:
		// pid reuse: an exec on a pid with a dangling session starts over
		if old, ok := c.sessions.close(rec.PID); ok {
			if err := c.db.CloseSession(old, now, 0, "expired"); err != nil {
				c.log.Warn("failed to close stale session", zap.Error(err))
			}
		}
		id, err := c.db.InsertSession(&database.SessionRow{
			PID:          rec.PID,
			Comm:         row.Comm,
			StartTime:    now,
			LastActivity: now,
		})
		if err != nil {
			c.log.Warn("failed to insert session", zap.Error(err))
		} else {
			c.sessions.open(rec.PID, row.Comm, id, now)
			row.SessionID = id
		}

	case probe.EventConnect:
		if id, ok := c.sessions.touch(rec.PID, now); ok {
			row.SessionID = id
			if err := c.db.UpdateSessionActivity(id, now, 1, 0, 0); err != nil {
				c.log.Warn("failed to update session", zap.Error(err))
			}
		}

	case probe.EventHTTPRequest:
		if id, ok := c.sessions.touch(rec.PID, now); ok {
			row.SessionID = id
			if err := c.db.UpdateSessionActivity(id, now, 0, 1, int64(rec.ContentLength)); err != nil {
				c.log.Warn("failed to update session", zap.Error(err))
			}
		}

	case probe.EventExit:
		if id, ok := c.sessions.close(rec.PID); ok {
			row.SessionID = id
			if err := c.db.CloseSession(id, now, rec.ExitCode, "exited"); err != nil {
				c.log.Warn("failed to close session", zap.Error(err))
			}
		}
		c.cache.Invalidate(rec.PID)
	}

	eventID, err := c.db.InsertEvent(row)
	if err != nil {
		c.log.Warn("failed to insert event", zap.Error(err))
		return
	}
	row.ID = eventID

	c.logEvent(row)
	c.detect(ctx, row)
}

// enrich fills in what /proc still knows about the pid. Exit events skip
// it since the process is already gone.
func (c *Consumer) enrich(rec *probe.EventRecord, row *database.EventRow) {
	if rec.EventType == probe.EventExit {
		return
	}
	info, err := c.cache.Get(rec.PID)
	if err != nil {
		return
	}
	if row.ExePath == "" {
		row.ExePath = info.ExePath
	}
	row.CmdLine = info.CmdLine
	row.WorkingDir = info.WorkingDir
	row.ContainerID = info.ContainerID
}

func (c *Consumer) detect(ctx context.Context, row *database.EventRow) {
	if c.detector == nil {
		return
	}
	if row.EventType != "exec" && row.EventType != "connect" && row.EventType != "http_request" {
		return
	}

	event := map[string]interface{}{
		"Image":       row.ExePath,
		"CommandLine": row.CmdLine,
		"Username":    row.Username,
		"ProcessId":   int(row.PID),
	}
	switch row.EventType {
	case "connect":
		event["DestinationIp"] = row.DstAddr
		event["DestinationPort"] = int(row.DstPort)
	case "http_request":
		event["HttpMethod"] = row.HTTPMethod
		event["HttpUri"] = row.HTTPURI
	}

	for _, m := range c.detector.CheckEvent(ctx, event) {
		c.log.Info("sigma rule matched",
			zap.String("rule", m.Rule.Title),
			zap.String("id", m.Rule.ID),
			zap.Uint32("pid", row.PID))
		err := c.db.InsertMatch(&database.MatchRow{
			EventID:     row.ID,
			RuleID:      m.Rule.ID,
			RuleName:    m.Rule.Title,
			Severity:    m.Rule.Level,
			PID:         row.PID,
			Comm:        row.Comm,
			CmdLine:     row.CmdLine,
			Username:    row.Username,
			Timestamp:   row.Timestamp,
			MatchDetail: strings.Join(m.MatchDetails, "; "),
		})
		if err != nil {
			c.log.Warn("failed to insert match", zap.Error(err))
		}
	}
}

func (c *Consumer) expireSessions(now time.Time) {
	for _, s := range c.sessions.expire(now) {
		c.log.Info("session expired",
			zap.Uint32("pid", s.pid),
			zap.String("comm", s.comm))
		if err := c.db.CloseSession(s.id, now, 0, "expired"); err != nil {
			c.log.Warn("failed to expire session", zap.Error(err))
		}
	}
}

func (c *Consumer) logStats() {
	snap := c.probe.Counters().Snapshot()
	fields := make([]zap.Field, 0, len(snap)+2)
	for name, v := range snap {
		fields = append(fields, zap.Uint64(name, v))
	}
	fields = append(fields,
		zap.Int("active_sessions", c.sessions.active()),
		zap.Int("pending_events", c.probe.Events().Pending()))
	c.log.Info("capture stats", fields...)
}

func (c *Consumer) logEvent(row *database.EventRow) {
	switch row.EventType {
	case "exec":
		c.log.Info("process started",
			zap.Uint32("pid", row.PID),
			zap.String("comm", row.Comm),
			zap.String("exe", row.ExePath))
	case "connect":
		c.log.Info("outbound connection",
			zap.Uint32("pid", row.PID),
			zap.String("dst", row.DstAddr),
			zap.Uint16("port", row.DstPort))
	case "http_request":
		c.log.Info("api request",
			zap.Uint32("pid", row.PID),
			zap.String("method", row.HTTPMethod),
			zap.String("uri", row.HTTPURI),
			zap.Uint32("content_length", row.ContentLength))
	case "exit":
		c.log.Info("process exited",
			zap.Uint32("pid", row.PID),
			zap.Int32("exit_code", row.ExitCode))
	}
}

// ipString renders the raw IPv4 address from a sockaddr, which sits in
// memory in network byte order and is read back as a little-endian word.
func ipString(addr uint32) string {
	return net.IPv4(byte(addr), byte(addr>>8), byte(addr>>16), byte(addr>>24)).String()
}
