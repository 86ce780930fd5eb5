package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"tally/internal/core"
)

// maxChatBody bounds the accepted request size. Chat messages are short;
// anything near this limit is garbage or abuse.
const maxChatBody = 64 * 1024

// appMetrics tracks application-level counters for the metrics endpoint.
type appMetrics struct {
	startedAt     time.Time
	totalMessages int64
	cacheHits     int64
	cacheMisses   int64
}

func newAppMetrics() *appMetrics {
	return &appMetrics{startedAt: time.Now()}
}

type chatRequest struct {
	Message  string `json:"message"`
	SenderID string `json:"sender_id"`
}

type chatResponse struct {
	ReplyText     string `json:"reply_text"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	NeedsReview   bool   `json:"needs_review,omitempty"`
}

type summaryCategory struct {
	Category    string  `json:"category"`
	SpentCents  int64   `json:"spent_cents"`
	Spent       string  `json:"spent"`
	LimitCents  int64   `json:"limit_cents,omitempty"`
	Limit       string  `json:"limit,omitempty"`
	PercentUsed float64 `json:"percent_used"`
	Status      string  `json:"status"`
}

type summaryResponse struct {
	Month        string            `json:"month"`
	TotalCents   int64             `json:"total_cents"`
	Total        string            `json:"total"`
	Count        int               `json:"count"`
	AverageCents int64             `json:"average_cents"`
	Average      string            `json:"average"`
	TopCategory  string            `json:"top_category,omitempty"`
	Categories   []summaryCategory `json:"categories"`
}

// handleHealth performs a basic liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.app.startedAt).String(),
	})
}

// handleReady performs a readiness check with dependency verification.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	// Probe the ledger with a lightweight read
	if _, err := s.aggregator.Statuses(ctx, core.MonthOf(time.Now().UTC())); err != nil {
		checks["ledger"] = fmt.Sprintf("failed: %v", err)
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["ledger"] = "ok"
	}

	checks["summary_cache"] = map[string]any{
		"entries": s.summaryCache.Size(),
		"status":  "ok",
	}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	respondJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	totalMessages := atomic.LoadInt64(&s.app.totalMessages)
	cacheHits := atomic.LoadInt64(&s.app.cacheHits)
	cacheMisses := atomic.LoadInt64(&s.app.cacheMisses)
	rateLimitHits := atomic.LoadInt64(&s.security.rateLimitHits)
	suspicious := atomic.LoadInt64(&s.security.suspiciousRequests)
	uptime := time.Since(s.app.startedAt)

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP chat_messages_total Total number of chat messages handled\n")
	fmt.Fprintf(w, "# TYPE chat_messages_total counter\n")
	fmt.Fprintf(w, "chat_messages_total %d\n\n", totalMessages)

	fmt.Fprintf(w, "# HELP summary_cache_hits_total Total summary cache hits\n")
	fmt.Fprintf(w, "# TYPE summary_cache_hits_total counter\n")
	fmt.Fprintf(w, "summary_cache_hits_total %d\n\n", cacheHits)

	fmt.Fprintf(w, "# HELP summary_cache_misses_total Total summary cache misses\n")
	fmt.Fprintf(w, "# TYPE summary_cache_misses_total counter\n")
	fmt.Fprintf(w, "summary_cache_misses_total %d\n\n", cacheMisses)

	fmt.Fprintf(w, "# HELP summary_cache_entries Current summary cache entries\n")
	fmt.Fprintf(w, "# TYPE summary_cache_entries gauge\n")
	fmt.Fprintf(w, "summary_cache_entries %d\n\n", s.summaryCache.Size())

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitHits)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", suspicious)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", s.rateLimiter.ActiveClients())

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", uptime.Seconds())
}

// handleChat runs one chat turn through the message pipeline. The transport
// relays reply_text to the user verbatim, so even the failure body carries a
// user-facing sentence rather than an error code alone.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	message := sanitizeInput(req.Message)
	if message == "" {
		errorJSON(w, http.StatusBadRequest, "message is required")
		return
	}
	sender := sanitizeInput(req.SenderID)

	reply, err := s.messages.HandleMessage(r.Context(), sender, message)
	if err != nil {
		slog.ErrorContext(r.Context(), "Chat turn failed",
			"error", err,
			"sender", sender)
		respondJSON(w, http.StatusInternalServerError, chatResponse{
			ReplyText: "Sorry, I couldn't save that. Nothing was recorded, please try again.",
		})
		return
	}

	atomic.AddInt64(&s.app.totalMessages, 1)

	// Every mutation flows through chat, so a successful turn may have moved
	// this month's numbers.
	s.summaryCache.Delete(core.MonthOf(time.Now().UTC()).String())

	respondJSON(w, http.StatusOK, chatResponse{
		ReplyText:     reply.Text,
		TransactionID: reply.TransactionID,
		NeedsReview:   reply.NeedsReview,
	})
}

// handleSummary serves the month spending summary, cached per month.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		errorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	month := core.MonthOf(time.Now().UTC())
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		parsed, err := core.ParseMonthKey(v)
		if err != nil {
			errorJSON(w, http.StatusBadRequest, "invalid month, want YYYY-MM")
			return
		}
		month = parsed
	}

	key := month.String()
	if cached, found := s.summaryCache.Get(key); found {
		atomic.AddInt64(&s.app.cacheHits, 1)
		slog.DebugContext(r.Context(), "Summary cache hit", "month", key)
		respondJSON(w, http.StatusOK, cached)
		return
	}
	atomic.AddInt64(&s.app.cacheMisses, 1)

	// Bounded so a slow store read cannot hang the endpoint
	ctx, cancel := context.WithTimeout(r.Context(), 7*time.Second)
	defer cancel()

	sum, err := s.aggregator.Summary(ctx, month)
	if err != nil {
		slog.ErrorContext(r.Context(), "Month summary error", "error", err, "month", key)
		errorJSON(w, http.StatusInternalServerError, "could not build summary")
		return
	}

	resp := buildSummaryResponse(sum)
	s.summaryCache.Set(key, resp)
	slog.DebugContext(r.Context(), "Summary cached", "month", key, "total_cents", resp.TotalCents, "categories", len(resp.Categories))
	respondJSON(w, http.StatusOK, resp)
}

func buildSummaryResponse(sum core.MonthSummary) summaryResponse {
	resp := summaryResponse{
		Month:        sum.Month.String(),
		TotalCents:   sum.Total.Cents,
		Total:        core.FormatCents(sum.Total.Cents),
		Count:        sum.Count,
		AverageCents: sum.Average.Cents,
		Average:      core.FormatCents(sum.Average.Cents),
		TopCategory:  string(sum.TopCategory),
	}
	for _, c := range sum.ByCategory {
		sc := summaryCategory{
			Category:    string(c.Category),
			SpentCents:  c.Spent.Cents,
			Spent:       core.FormatCents(c.Spent.Cents),
			PercentUsed: c.PercentUsed,
			Status:      string(c.Status),
		}
		if c.Limit.Cents > 0 {
			sc.LimitCents = c.Limit.Cents
			sc.Limit = core.FormatCents(c.Limit.Cents)
		}
		resp.Categories = append(resp.Categories, sc)
	}
	return resp
}
