package http

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	"finanzas/internal/export"
	"finanzas/internal/log"
	"finanzas/internal/reports"
)

// reportQuery reads the range and category filter shared by the report
// endpoints. Categories may be repeated or comma separated.
func reportQuery(q url.Values, kind reports.PeriodKind) reports.Query {
	mp := ParseMonthParams(q)
	return reports.Query{
		Kind:        kind,
		Year:        mp.Year,
		Month:       mp.Month,
		Start:       ParseDateParam(q, "start_date"),
		End:         ParseDateParam(q, "end_date"),
		CategoryIDs: ParseIDList(strings.Join(q["categories"], ",")),
	}
}

// writeReport sends the report as JSON, or as a download when ?export= is set.
func writeReport(w http.ResponseWriter, r *http.Request, rep reports.Report) {
	raw := strings.TrimSpace(r.URL.Query().Get("export"))
	if raw == "" {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	f, err := export.ParseFormat(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.FromContext(r.Context()).WithComponent(log.ComponentExport).InfoContext(r.Context(), "Report exported",
		log.NewFields().
			WithUser(userID(r)).
			WithOperation(log.OpExport).
			WithPeriod(string(rep.Period.Kind), rep.Period.Start.Time, rep.Period.End.Time).
			ToSlice()...)
	writeDownload(w, r, rep.Filename(f.Extension()), f, reports.ExportTable(rep))
}

func (s *Server) buildReport(w http.ResponseWriter, r *http.Request, q reports.Query) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	rep, err := s.reports.Build(ctx, userID(r), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeReport(w, r, rep)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	d, err := s.reports.Dashboard(ctx, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	s.buildReport(w, r, reportQuery(r.URL.Query(), reports.Month))
}

func (s *Server) handleAnnualReport(w http.ResponseWriter, r *http.Request) {
	s.buildReport(w, r, reportQuery(r.URL.Query(), reports.Year))
}

// handlePeriodReport serves ?period=week|month|year|custom. Unknown periods
// are custom.
func (s *Server) handlePeriodReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.buildReport(w, r, reportQuery(q, reports.ParsePeriodKind(q.Get("period"))))
}

type trendResponse struct {
	Granularity reports.Granularity  `json:"granularity"`
	Period      reports.Period       `json:"period"`
	Points      []reports.TrendPoint `json:"points"`
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g := reports.ParseGranularity(q.Get("granularity"))

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	points, p, err := s.reports.Trend(ctx, userID(r), g, ParseDateParam(q, "start_date"), ParseDateParam(q, "end_date"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if points == nil {
		points = []reports.TrendPoint{}
	}
	writeJSON(w, http.StatusOK, trendResponse{Granularity: g, Period: p, Points: points})
}

// handleChart draws the month report as a PNG: ?chart=pie (default) for
// expense categories, ?chart=line for daily expenses and income.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := reports.PieChart
	if strings.EqualFold(strings.TrimSpace(q.Get("chart")), string(reports.LineChart)) {
		kind = reports.LineChart
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	rep, err := s.reports.Build(ctx, userID(r), reportQuery(q, reports.Month))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := reports.RenderChart(&buf, rep, kind); err != nil {
		writeError(w, r, err)
		return
	}
	NewResponse().Blob("image/png", buf.Bytes()).Write(w)
}

// Saved reports

func (s *Server) handleListSavedReports(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	saved, err := s.ledger.ListSavedReports(ctx, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if saved == nil {
		saved = []core.SavedReport{}
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleCreateSavedReport(w http.ResponseWriter, r *http.Request) {
	body, ok := parseBody(w, r)
	if !ok {
		return
	}
	saved := core.SavedReport{
		UserID:     userID(r),
		Name:       body.Get("name"),
		ReportType: core.ReportType(strings.ToLower(body.Get("report_type"))),
		Filters:    core.CategoryFilter(body.GetIDs("categories")),
	}
	v := core.NewValidationError()
	for key, dst := range map[string]*core.Date{"start_date": &saved.StartDate, "end_date": &saved.EndDate} {
		raw := body.Get(key)
		if raw == "" {
			continue
		}
		d, err := core.ParseDate(raw)
		if err != nil {
			v.Add(key, "date must be YYYY-MM-DD")
			continue
		}
		*dst = d
	}
	if err := v.OrNil(); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	saved, err := s.ledger.SaveReport(ctx, saved)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleGetSavedReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	saved, err := s.ledger.GetSavedReport(ctx, userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteSavedReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	if err := s.ledger.DeleteSavedReport(ctx, userID(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunSavedReport recomputes a saved report; ?export= works as on the
// other report endpoints.
func (s *Server) handleRunSavedReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := s.withTimeout(r)
	defer cancel()

	rep, err := s.reports.RunSaved(ctx, userID(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeReport(w, r, rep)
}

// Exports

type exportAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Kind   string `json:"kind"`
	Format string `json:"format"`
}

// handleQueueExport queues a report export for the worker. The format is
// "sheets" (default) or a file format; kind defaults to month.
func (s *Server) handleQueueExport(w http.ResponseWriter, r *http.Request) {
	if s.exports == nil {
		ServiceUnavailableError("exports are not configured").Write(w)
		return
	}
	body, ok := parseBody(w, r)
	if !ok {
		return
	}

	kind := reports.Month
	if raw := body.Get("kind"); raw != "" {
		kind = reports.ParsePeriodKind(raw)
	}
	msg := amqp.NewExportRequestMessage(userID(r), string(kind), body.Get("format"))
	if msg.Format != amqp.TargetSheets {
		f, err := export.ParseFormat(msg.Format)
		if err != nil {
			writeError(w, r, err)
			return
		}
		msg.Format = string(f)
	}

	v := core.NewValidationError()
	msg.Year = parseInt(body.Get("year"))
	msg.Month = parseInt(body.Get("month"))
	for key, dst := range map[string]*string{"start_date": &msg.StartDate, "end_date": &msg.EndDate} {
		raw := body.Get(key)
		if raw == "" {
			continue
		}
		if _, err := core.ParseDate(raw); err != nil {
			v.Add(key, "date must be YYYY-MM-DD")
			continue
		}
		*dst = raw
	}
	if err := v.OrNil(); err != nil {
		writeError(w, r, err)
		return
	}
	msg.CategoryIDs = body.GetIDs("categories")

	ctx, cancel := s.withTimeout(r)
	defer cancel()

	if err := s.exports.PublishExportRequest(ctx, msg); err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentAMQP).ErrorContext(r.Context(), "Failed to queue export",
			log.NewFields().
				WithError(err).
				WithUser(msg.UserID).
				WithOperation(log.OpPublish).
				ToSlice()...)
		ServiceUnavailableError("export queue unavailable").Write(w)
		return
	}
	writeJSON(w, http.StatusAccepted, exportAccepted{
		ID:     msg.ID,
		Status: "queued",
		Kind:   msg.Kind,
		Format: msg.Format,
	})
}
