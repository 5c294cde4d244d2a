// Package web serves the JSON API and status page over the capture
// database.
package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clitap/clitap/probe"
	"github.com/clitap/clitap/sigma"
)

type Server struct {
	db         *sql.DB
	detector   *sigma.Detector
	counters   *probe.CounterBank
	listenAddr string
	log        *zap.Logger
	mux        *http.ServeMux
}

func NewServer(db *sql.DB, detector *sigma.Detector, counters *probe.CounterBank, listenAddr string, log *zap.Logger) *Server {
	s := &Server{
		db:         db,
		detector:   detector,
		counters:   counters,
		listenAddr: listenAddr,
		log:        log,
		mux:        http.NewServeMux(),
	}

	logged := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			s.log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path))
			h(w, r)
		}
	}

	s.mux.HandleFunc("/", logged(s.handleIndex))
	s.mux.HandleFunc("/api/events", logged(s.handleEvents))
	s.mux.HandleFunc("/api/sessions", logged(s.handleSessions))
	s.mux.HandleFunc("/api/matches", logged(s.handleMatches))
	s.mux.HandleFunc("/api/stats", logged(s.handleStats))

	return s
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.listenAddr,
		Handler: s.mux,
	}

	s.log.Info("starting web server", zap.String("addr", s.listenAddr))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http server shutdown error", zap.Error(err))
		}
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	tmpl := template.Must(template.New("index").Parse(indexTemplate))
	if err := tmpl.Execute(w, nil); err != nil {
		s.log.Warn("template execution error", zap.Error(err))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 200)

	query := `
        SELECT
            id, timestamp, event_type, pid, ppid, comm,
            cmdline, exe_path, working_dir, username, container_id,
            dst_addr, dst_port, http_method, http_uri, content_length,
            exit_code, session_id
        FROM events`
	var args []interface{}

	var where []string
	if t := r.URL.Query().Get("type"); t != "" {
		where = append(where, "event_type = ?")
		args = append(args, t)
	}
	if pidParam := r.URL.Query().Get("pid"); pidParam != "" {
		pid, err := strconv.Atoi(pidParam)
		if err != nil {
			http.Error(w, "invalid pid", 400)
			return
		}
		where = append(where, "pid = ?")
		args = append(args, pid)
	}
	if sessParam := r.URL.Query().Get("session"); sessParam != "" {
		sess, err := strconv.ParseInt(sessParam, 10, 64)
		if err != nil {
			http.Error(w, "invalid session", 400)
			return
		}
		where = append(where, "session_id = ?")
		args = append(args, sess)
	}
	for i, clause := range where {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.log.Warn("database query error", zap.Error(err))
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	events := []EventRow{}
	for rows.Next() {
		var ev EventRow
		err := rows.Scan(
			&ev.ID, &ev.Timestamp, &ev.EventType, &ev.PID, &ev.PPID, &ev.Comm,
			&ev.CmdLine, &ev.ExePath, &ev.WorkingDir, &ev.Username, &ev.ContainerID,
			&ev.DstAddr, &ev.DstPort, &ev.HTTPMethod, &ev.HTTPURI, &ev.ContentLength,
			&ev.ExitCode, &ev.SessionID,
		)
		if err != nil {
			s.log.Warn("row scan error", zap.Error(err))
			http.Error(w, err.Error(), 500)
			return
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	writeJSON(w, events)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)

	query := `
        SELECT
            id, pid, comm, start_time, last_activity, end_time,
            connect_count, request_count, request_bytes, exit_code, status
        FROM sessions`
	var args []interface{}

	if status := r.URL.Query().Get("status"); status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY start_time DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		s.log.Warn("database query error", zap.Error(err))
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	sessions := []SessionRow{}
	for rows.Next() {
		var sess SessionRow
		var endTime sql.NullTime
		var exitCode sql.NullInt32
		err := rows.Scan(
			&sess.ID, &sess.PID, &sess.Comm, &sess.StartTime, &sess.LastActivity,
			&endTime, &sess.ConnectCount, &sess.RequestCount, &sess.RequestBytes,
			&exitCode, &sess.Status,
		)
		if err != nil {
			s.log.Warn("row scan error", zap.Error(err))
			http.Error(w, err.Error(), 500)
			return
		}
		if endTime.Valid {
			sess.EndTime = &endTime.Time
		}
		if exitCode.Valid {
			sess.ExitCode = &exitCode.Int32
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	writeJSON(w, sessions)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)

	rows, err := s.db.Query(`
        SELECT
            id, event_id, rule_id, rule_name, severity,
            pid, comm, cmdline, username, timestamp, match_detail
        FROM sigma_matches
        ORDER BY timestamp DESC
        LIMIT ?`, limit)
	if err != nil {
		s.log.Warn("database query error", zap.Error(err))
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()

	matches := []MatchRow{}
	for rows.Next() {
		var m MatchRow
		err := rows.Scan(
			&m.ID, &m.EventID, &m.RuleID, &m.RuleName, &m.Severity,
			&m.PID, &m.Comm, &m.CmdLine, &m.Username, &m.Timestamp, &m.MatchDetail,
		)
		if err != nil {
			s.log.Warn("row scan error", zap.Error(err))
			http.Error(w, err.Error(), 500)
			return
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	writeJSON(w, matches)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{EventCounts: map[string]uint64{}}

	if s.counters != nil {
		stats.EventCounts = s.counters.Snapshot()
	}
	if s.detector != nil {
		stats.RuleCount = s.detector.RuleCount()
	}

	queries := []struct {
		sql  string
		dest *int64
	}{
		{"SELECT COUNT(*) FROM sessions WHERE status = 'active'", &stats.ActiveSessions},
		{"SELECT COUNT(*) FROM sessions", &stats.TotalSessions},
		{"SELECT COUNT(*) FROM sigma_matches", &stats.MatchCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.sql).Scan(q.dest); err != nil {
			s.log.Warn("database query error", zap.Error(err))
			http.Error(w, err.Error(), 500)
			return
		}
	}

	writeJSON(w, stats)
}

func queryLimit(r *http.Request, def int) int {
	limitParam := r.URL.Query().Get("limit")
	if limitParam == "" {
		return def
	}
	limit, err := strconv.Atoi(limitParam)
	if err != nil || limit <= 0 || limit > 1000 {
		return def
	}
	return limit
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

const indexTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>clitap</title>
    <style>
        body { font-family: monospace; margin: 2em; background: #111; color: #ddd; }
        h1 { color: #6cf; }
        table { border-collapse: collapse; width: 100%; margin-bottom: 2em; }
        th, td { border: 1px solid #333; padding: 4px 8px; text-align: left; }
        th { background: #222; }
        .exec { color: #8f8; }
        .connect { color: #fc6; }
        .http_request { color: #6cf; }
        .exit { color: #f88; }
    </style>
</head>
<body>
    <h1>clitap</h1>
    <h2>Sessions</h2>
    <table id="sessions"><thead><tr>
        <th>pid</th><th>comm</th><th>start</th><th>status</th>
        <th>connects</th><th>requests</th><th>bytes</th>
    </tr></thead><tbody></tbody></table>
    <h2>Events</h2>
    <table id="events"><thead><tr>
        <th>time</th><th>type</th><th>pid</th><th>detail</th>
    </tr></thead><tbody></tbody></table>
    <script>
        function cell(text) {
            const td = document.createElement('td');
            td.textContent = text;
            return td;
        }
        function detail(ev) {
            switch (ev.eventType) {
                case 'exec': return ev.exePath || ev.comm;
                case 'connect': return ev.dstAddr + ':' + ev.dstPort;
                case 'http_request': return ev.httpMethod + ' ' + ev.httpUri + ' (' + ev.contentLength + ' bytes)';
                case 'exit': return 'code ' + ev.exitCode;
                default: return '';
            }
        }
        async function refresh() {
            const [sessions, events] = await Promise.all([
                fetch('/api/sessions?limit=50').then(r => r.json()),
                fetch('/api/events?limit=100').then(r => r.json()),
            ]);
            const sbody = document.querySelector('#sessions tbody');
            sbody.innerHTML = '';
            for (const s of sessions) {
                const tr = document.createElement('tr');
                [s.pid, s.comm, s.startTime, s.status, s.connectCount, s.requestCount, s.requestBytes]
                    .forEach(v => tr.appendChild(cell(v)));
                sbody.appendChild(tr);
            }
            const ebody = document.querySelector('#events tbody');
            ebody.innerHTML = '';
            for (const ev of events) {
                const tr = document.createElement('tr');
                tr.className = ev.eventType;
                [ev.timestamp, ev.eventType, ev.pid, detail(ev)]
                    .forEach(v => tr.appendChild(cell(v)));
                ebody.appendChild(tr);
            }
        }
        refresh();
        setInterval(refresh, 5000);
    </script>
</body>
</html>`
