package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/aggregate"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/balance"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/export"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ingest"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/ledger"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/pathutil"
	"github.com/shunichi-ikebuchi/reconciliation-ledger/pkg/report"
)

// reserved query parameters that are not column filters.
var reserved = map[string]bool{"from": true, "to": true, "columns": true, "format": true}

type uploadsHandler struct {
	uploader *ingest.Uploader
	history  Uploads
	maxBytes int64
}

// Create handles POST /api/uploads.
// @Summary Upload a CSV or Excel extract
// @Tags uploads
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV or XLSX file"
// @Param policy formData string false "skip, update or add-all"
// @Param key formData string false "id, std_identifier or tx_id"
// @Param preview query int false "Return the first N rows without writing"
// @Success 201 {object} ingest.Result
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /uploads [post]
func (h *uploadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid multipart body: "+err.Error())
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Missing file")
		return
	}
	defer file.Close()

	if p := r.URL.Query().Get("preview"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid preview")
			return
		}
		preview, err := h.uploader.Preview(fileHeader.Filename, file, n)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, preview)
		return
	}

	opts := ingest.Options{KeyColumn: r.FormValue("key")}
	if p := r.FormValue("policy"); p != "" {
		policy, err := ingest.ParsePolicy(p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		opts.Policy = policy
	}

	result, err := h.uploader.Upload(r.Context(), fileHeader.Filename, file, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// List handles GET /api/uploads.
// @Summary List recent uploads
// @Tags uploads
// @Produce json
// @Param limit query int false "Maximum number of uploads (default 20)"
// @Success 200 {object} map[string]interface{}
// @Router /uploads [get]
func (h *uploadsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid limit")
			return
		}
		limit = n
	}

	uploads, err := h.history.RecentUploads(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uploads": uploads,
	})
}

// Get handles GET /api/uploads/{batchID}.
// @Summary Get one upload by batch id
// @Tags uploads
// @Produce json
// @Param batchID path string true "Upload batch id"
// @Success 200 {object} db.UploadRecord
// @Failure 404 {object} ErrorResponse
// @Router /uploads/{batchID} [get]
func (h *uploadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	upload, err := h.history.GetUpload(r.Context(), batchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if upload == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "Upload not found: "+batchID)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

type reportsHandler struct {
	builder *report.Builder
	now     func() time.Time
}

type dailySumJSON struct {
	Date string  `json:"date"`
	Sum  *string `json:"sum"`
	Rows int     `json:"rows"`
}

type dailyBalanceJSON struct {
	Date            string  `json:"date"`
	StartingBalance *string `json:"starting_balance"`
	EndingBalance   *string `json:"ending_balance"`
	Rows            int     `json:"rows"`
}

type summaryJSON struct {
	Records            int     `json:"records"`
	StdAmount          string  `json:"std_amount"`
	StdVendorCost      string  `json:"std_vendor_cost"`
	StdAdminFee        string  `json:"std_admin_fee"`
	StdAdminFeeInvoice string  `json:"std_admin_fee_invoice"`
	OpeningBalance     *string `json:"opening_balance"`
	ClosingBalance     *string `json:"closing_balance"`
}

type reportJSON struct {
	From                 string             `json:"from"`
	To                   string             `json:"to"`
	Columns              []string           `json:"columns"`
	Rows                 []map[string]any   `json:"rows"`
	TransactionAmounts   []dailySumJSON     `json:"transaction_amounts"`
	VendorSettlements    []dailySumJSON     `json:"vendor_settlements"`
	SettledClientAmounts []dailySumJSON     `json:"settled_client_amounts"`
	DailyBalances        []dailyBalanceJSON `json:"daily_balances"`
	Summary              summaryJSON        `json:"summary"`
}

// Report handles GET /api/report.
// @Summary Filtered rows, aggregates and daily balances
// @Tags reports
// @Produce json
// @Param from query string false "First day (YYYY-MM-DD), default 2025-01-01"
// @Param to query string false "Last day inclusive (YYYY-MM-DD), default today"
// @Param columns query string false "Comma-separated row columns"
// @Success 200 {object} reportJSON
// @Failure 400 {object} ErrorResponse
// @Router /report [get]
func (h *reportsHandler) Report(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	columns, err := requestedColumns(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.builder.Build(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := reportJSON{
		From:                 view.Start.Format("2006-01-02"),
		To:                   view.End.Format("2006-01-02"),
		Columns:              columns,
		Rows:                 make([]map[string]any, 0, len(view.Rows)),
		TransactionAmounts:   sumsJSON(view.TransactionAmounts),
		VendorSettlements:    sumsJSON(view.VendorSettlements),
		SettledClientAmounts: sumsJSON(view.SettledClientAmounts),
		DailyBalances:        balancesJSON(view.DailyBalances),
		Summary: summaryJSON{
			Records:            view.Summary.Records,
			StdAmount:          view.Summary.StdAmount.StringFixed(2),
			StdVendorCost:      view.Summary.StdVendorCost.StringFixed(2),
			StdAdminFee:        view.Summary.StdAdminFee.StringFixed(2),
			StdAdminFeeInvoice: view.Summary.StdAdminFeeInvoice.StringFixed(2),
			OpeningBalance:     nullable(view.Summary.OpeningBalance),
			ClosingBalance:     nullable(view.Summary.ClosingBalance),
		},
	}
	for i := range view.Rows {
		out.Rows = append(out.Rows, view.Rows[i].Map(columns))
	}

	writeJSON(w, http.StatusOK, out)
}

// Export handles GET /api/export/{table}.
// @Summary Download a report table
// @Tags reports
// @Produce text/csv
// @Param table path string true "rows, transaction-amounts, vendor-settlements, settled-client-amounts or daily-balances"
// @Param format query string false "csv (default) or xlsx"
// @Success 200 {file} file
// @Failure 400 {object} ErrorResponse
// @Router /export/{table} [get]
func (h *reportsHandler) Export(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	columns, err := requestedColumns(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.builder.Build(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := chi.URLParam(r, "table")
	table, err := export.FromView(view, name, columns, h.builder.Location())
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := pathutil.ExportFileName(table.Name, h.now().In(h.builder.Location()))
	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"

	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "csv":
		err = (&export.CSVWriter{}).Write(&buf, table)
	case "xlsx":
		err = (&export.XLSXWriter{}).Write(&buf, table)
		filename = strings.TrimSuffix(filename, ".csv") + ".xlsx"
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "Invalid format (expected csv or xlsx)")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Stats handles GET /api/stats.
// @Summary Record count and amount total of the trailing seven days
// @Tags reports
// @Produce json
// @Success 200 {object} report.QuickStats
// @Router /stats [get]
func (h *reportsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.builder.Stats(r.Context(), h.now())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"since":        stats.Since.Format("2006-01-02"),
		"records":      stats.Records,
		"total_amount": stats.TotalAmount.StringFixed(2),
	})
}

// request reads from, to and column filters from the query string.
func (h *reportsHandler) request(r *http.Request) (report.Request, error) {
	q := r.URL.Query()
	loc := h.builder.Location()
	req := report.Request{Filters: make(map[string]string)}

	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &req.Start}, {"to", &req.End}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return req, &ledger.ValidationError{Column: p.name, Value: s, Reason: "expected YYYY-MM-DD"}
		}
		*p.dst = t
	}

	if req.End.IsZero() {
		req.End = h.now().In(loc)
	}

	for name, values := range q {
		if reserved[name] || len(values) == 0 {
			continue
		}
		req.Filters[name] = values[0]
	}

	return req, nil
}

func requestedColumns(r *http.Request) ([]string, error) {
	raw := r.URL.Query().Get("columns")
	if raw == "" {
		return ledger.VisibleColumns, nil
	}
	var columns []string
	for _, c := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(c))
		if name == "" {
			continue
		}
		if _, ok := ledger.Lookup(name); !ok {
			return nil, &ledger.ValidationError{Column: "columns", Value: c, Reason: "not a ledger column"}
		}
		columns = append(columns, name)
	}
	return columns, nil
}

func sumsJSON(sums []aggregate.DailySum) []dailySumJSON {
	out := make([]dailySumJSON, 0, len(sums))
	for _, s := range sums {
		out = append(out, dailySumJSON{Date: s.Date.Format("2006-01-02"), Sum: nullable(s.Sum), Rows: s.Count})
	}
	return out
}

func balancesJSON(balances []balance.DailyBalance) []dailyBalanceJSON {
	out := make([]dailyBalanceJSON, 0, len(balances))
	for _, b := range balances {
		out = append(out, dailyBalanceJSON{
			Date:            b.Date.Format("2006-01-02"),
			StartingBalance: nullable(b.StartingBalance),
			EndingBalance:   nullable(b.EndingBalance),
			Rows:            b.RowCount,
		})
	}
	return out
}

func nullable(v decimal.NullDecimal) *string {
	if !v.Valid {
		return nil
	}
	s := v.Decimal.StringFixed(2)
	return &s
}
