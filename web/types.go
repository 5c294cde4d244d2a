package web

import (
	"time"
)

// EventRow represents a capture event for the web API
type EventRow struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"eventType"`
	PID           uint32    `json:"pid"`
	PPID          uint32    `json:"ppid"`
	Comm          string    `json:"comm"`
	CmdLine       string    `json:"cmdline"`
	ExePath       string    `json:"exePath"`
	WorkingDir    string    `json:"workingDir"`
	Username      string    `json:"username"`
	ContainerID   string    `json:"containerId"`
	DstAddr       string    `json:"dstAddr"`
	DstPort       uint16    `json:"dstPort"`
	HTTPMethod    string    `json:"httpMethod"`
	HTTPURI       string    `json:"httpUri"`
	ContentLength uint32    `json:"contentLength"`
	ExitCode      int32     `json:"exitCode"`
	SessionID     int64     `json:"sessionId"`
}

// SessionRow represents a traced process session for the web API
type SessionRow struct {
	ID           int64      `json:"id"`
	PID          uint32     `json:"pid"`
	Comm         string     `json:"comm"`
	StartTime    time.Time  `json:"startTime"`
	LastActivity time.Time  `json:"lastActivity"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	ConnectCount int64      `json:"connectCount"`
	RequestCount int64      `json:"requestCount"`
	RequestBytes int64      `json:"requestBytes"`
	ExitCode     *int32     `json:"exitCode,omitempty"`
	Status       string     `json:"status"`
}

// MatchRow represents a rule match for the web API
type MatchRow struct {
	ID          int64     `json:"id"`
	EventID     int64     `json:"eventId"`
	RuleID      string    `json:"ruleId"`
	RuleName    string    `json:"ruleName"`
	Severity    string    `json:"severity"`
	PID         uint32    `json:"pid"`
	Comm        string    `json:"comm"`
	CmdLine     string    `json:"cmdline"`
	Username    string    `json:"username"`
	Timestamp   time.Time `json:"timestamp"`
	MatchDetail string    `json:"matchDetail"`
}

// Stats is the aggregate view returned by /api/stats
type Stats struct {
	EventCounts    map[string]uint64 `json:"eventCounts"`
	ActiveSessions int64             `json:"activeSessions"`
	TotalSessions  int64             `json:"totalSessions"`
	MatchCount     int64             `json:"matchCount"`
	RuleCount      int               `json:"ruleCount"`
}
