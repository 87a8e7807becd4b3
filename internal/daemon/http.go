package daemon

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"

	"github.com/nous-labs/vacancy-bridge/internal/events"
	"github.com/nous-labs/vacancy-bridge/internal/lifecycle"
	"github.com/nous-labs/vacancy-bridge/internal/vacancies"
	"github.com/nous-labs/vacancy-bridge/pkg/conversation"
)

var upgrader = websocket.Upgrader{
	// Operator-only surface, served on a private address.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (d *Daemon) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/qr", d.handleQRPage)
	mux.HandleFunc("/qr.png", d.handleQRImage)
	mux.HandleFunc("/reset", d.handleReset)
	mux.HandleFunc("/v1/status", d.handleStatus)
	mux.HandleFunc("/v1/events", d.handleEvents)
	mux.HandleFunc("/v1/events/ws", d.handleEventsWS)
	mux.HandleFunc("/v1/vacancies", d.handleVacancies)
	mux.HandleFunc("/v1/audit", d.handleAudit)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	state := d.conn.Snapshot().State
	if d.isHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","connection":%q,"uptime":"%s"}`, state, time.Since(d.startedAt).Round(time.Second))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprintf(w, `{"status":"starting","connection":%q}`, state)
}

var qrPage = template.Must(template.New("qr").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="5">
<title>{{.Transport}} pairing</title>
</head>
<body>
<h1>{{.Transport}}: {{.State}}</h1>
{{if .QR}}<img src="/qr.png" alt="pairing code" width="320" height="320">
<p>Scan the code with the app to link the account.</p>
{{else if eq .State "open"}}<p>Connected.</p>
{{else}}<p>No pairing code available yet.</p>
{{end}}<form method="post" action="/reset?redirect=1">
<button type="submit">Reset session</button>
</form>
</body>
</html>
`))

func (d *Daemon) handleQRPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if err := qrPage.Execute(w, d.conn.Snapshot()); err != nil {
		slog.Warn("failed to render qr page", "error", err)
	}
}

func (d *Daemon) handleQRImage(w http.ResponseWriter, _ *http.Request) {
	code := d.conn.Snapshot().QR
	if code == "" {
		http.Error(w, "no pairing code available", http.StatusNotFound)
		return
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 320)
	if err != nil {
		http.Error(w, "failed to render pairing code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

func (d *Daemon) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	slog.Info("session reset requested", "remote", r.RemoteAddr)
	if err := d.conn.ResetAndRestart(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if r.URL.Query().Get("redirect") != "" {
		http.Redirect(w, r, "/qr", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resetting"})
}

type statusResponse struct {
	lifecycle.Snapshot
	Uptime string `json:"uptime"`
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Snapshot: d.conn.Snapshot(),
		Uptime:   time.Since(d.startedAt).Round(time.Second).String(),
	})
}

func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := d.events.Subscribe()
	defer sub.Close()

	for _, e := range d.events.Recent(50) {
		fmt.Fprintf(w, "data: %s\n\n", e.Marshal())
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
			flusher.Flush()
		}
	}
}

func (d *Daemon) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := d.events.Subscribe()
	defer sub.Close()

	// The read loop only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	send := func(e events.Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, e.Marshal()); err != nil {
			slog.Debug("websocket write error", "error", err)
			return false
		}
		return true
	}

	for _, e := range d.events.Recent(50) {
		if !send(e) {
			return
		}
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.C:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if !send(evt) {
				return
			}
		}
	}
}

type vacanciesResponse struct {
	Vacancies []vacancies.Record `json:"vacancies"`
	Query     string             `json:"query,omitempty"`
	Count     int                `json:"count"`
}

func (d *Daemon) handleVacancies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query().Get("q")
	records := d.vacancies.Search(r.Context(), query)
	if records == nil {
		records = []vacancies.Record{}
	}
	writeJSON(w, http.StatusOK, vacanciesResponse{
		Vacancies: records,
		Query:     query,
		Count:     len(records),
	})
}

type auditResponse struct {
	Entries []conversation.AuditEntry `json:"entries"`
	Count   int                       `json:"count"`
}

func (d *Daemon) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	entries, err := d.audit.RecentAudit(r.Context(), limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []conversation.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries, Count: len(entries)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, msg)
}
