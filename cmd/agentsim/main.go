// agentsim is a development stand-in for the conversational backend. It
// serves the same routes the client talks to and streams scripted NDJSON
// frames, with failure modes selectable per request or via flags.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threadsync/pkg/transport"
)

var streamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "agentsim_stream_requests_total",
	Help: "Stream requests served, labeled by scripted mode.",
}, []string{"mode"})

type simRequest struct {
	Message      string `json:"message"`
	ChatThreadID int64  `json:"chat_thread_id,omitempty"`
}

type sim struct {
	delay    time.Duration
	mode     string
	threadID atomic.Int64
	respID   atomic.Int64
	tokenN   atomic.Int64
}

func main() {
	_ = godotenv.Load(".env")
	var addr, mode string
	var delayMs int
	flag.StringVar(&addr, "addr", ":8099", "listen address")
	flag.StringVar(&mode, "mode", "ok", "default stream mode: ok|error|truncate|guardrail|fail")
	flag.IntVar(&delayMs, "delay", 20, "inter-frame delay in milliseconds")
	flag.Parse()

	s := &sim{delay: time.Duration(delayMs) * time.Millisecond, mode: mode}
	s.threadID.Store(1000)
	s.respID.Store(5000)

	r := mux.NewRouter()
	r.HandleFunc(transport.PathStream, s.handleStream).Methods(http.MethodPost)
	r.HandleFunc(transport.PathQuery, s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc(transport.PathRefresh, s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc(transport.PathVote, okJSON).Methods(http.MethodPost)
	r.HandleFunc(transport.PathTitle, okJSON).Methods(http.MethodPost)
	r.HandleFunc(transport.PathDelete, okJSON).Methods(http.MethodPost)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	log.Printf("agentsim listening on %s (mode=%s)", addr, mode)
	log.Fatal(http.ListenAndServe(addr, r))
}

func okJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// pickMode lets a request override the default via the message text, e.g.
// "please fail mode=error".
func (s *sim) pickMode(msg string) string {
	for _, f := range strings.Fields(msg) {
		if strings.HasPrefix(f, "mode=") {
			return strings.TrimPrefix(f, "mode=")
		}
	}
	return s.mode
}

func (s *sim) handleStream(w http.ResponseWriter, r *http.Request) {
	var req simRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	mode := s.pickMode(req.Message)
	streamRequests.WithLabelValues(mode).Inc()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	emit := func(v interface{}) {
		b, _ := json.Marshal(v)
		_, _ = w.Write(append(b, '\n'))
		fl.Flush()
		time.Sleep(s.delay)
	}
	frame := func(step string, kv map[string]interface{}) {
		m := map[string]interface{}{"step": step}
		for k, v := range kv {
			m[k] = v
		}
		emit(m)
	}

	frame("tools_stream", map[string]interface{}{"delta": "looking at "})
	frame("tools_stream", map[string]interface{}{"delta": "the question"})
	frame("reflection_end", map[string]interface{}{"message": "checked available sources"})

	switch mode {
	case "error":
		frame("error", map[string]interface{}{"message": "simulated upstream failure"})
		return
	case "truncate":
		frame("assistant_stream", map[string]interface{}{"delta": "partial "})
		return // connection closes without a terminal frame
	case "fail":
		frame("end", map[string]interface{}{
			"output": map[string]interface{}{"success": false, "message": "simulated rejection"},
		})
		return
	}

	threadID := req.ChatThreadID
	if threadID == 0 {
		threadID = s.threadID.Add(1)
	}
	answer := fmt.Sprintf("echo: %s", req.Message)
	for _, chunk := range splitChunks(answer, 12) {
		frame("assistant_stream", map[string]interface{}{"delta": chunk})
	}
	out := map[string]interface{}{
		"success":            true,
		"answer":             answer,
		"agent_response_id":  s.respID.Add(1),
		"thread_id":          threadID,
		"chat_thread_name":   titleFor(req.Message),
		"followup_questions": []string{"anything else?"},
	}
	if mode == "guardrail" {
		out["guardrail_triggered"] = true
		out["blocked"] = true
		out["answer"] = "this request cannot be answered"
	}
	frame("end", map[string]interface{}{"output": out})
}

func (s *sim) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req simRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	threadID := req.ChatThreadID
	if threadID == 0 {
		threadID = s.threadID.Add(1)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":           true,
		"answer":            fmt.Sprintf("echo: %s", req.Message),
		"agent_response_id": s.respID.Add(1),
		"thread_id":         threadID,
		"chat_thread_name":  titleFor(req.Message),
	})
}

func (s *sim) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"token": fmt.Sprintf("sim-token-%d", s.tokenN.Add(1)),
	})
}

func splitChunks(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func titleFor(msg string) string {
	if len(msg) > 32 {
		return msg[:32]
	}
	return msg
}
