package reportshandler

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jung-kurt/gofpdf"

	"hrleave/internal/domain/auth"
	"hrleave/internal/domain/employee"
	"hrleave/internal/domain/leave"
	"hrleave/internal/transport/http/api"
	"hrleave/internal/transport/http/middleware"
)

// EmployeeLister provides the names printed on reports.
type EmployeeLister interface {
	List(ctx context.Context, orgID string) ([]employee.Employee, error)
}

type Handler struct {
	Leave     *leave.Service
	Employees EmployeeLister
}

func NewHandler(leaveSvc *leave.Service, employees EmployeeLister) *Handler {
	return &Handler{Leave: leaveSvc, Employees: employees}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/reports", func(r chi.Router) {
		r.With(middleware.RequireRole(auth.RoleHR)).Get("/balances.csv", h.handleBalancesCSV)
		r.With(middleware.RequireRole(auth.RoleHR)).Get("/balances.pdf", h.handleBalancesPDF)
	})
}

type balanceRow struct {
	EmployeeName string
	Balance      leave.LeaveBalance
}

func (h *Handler) balanceRows(r *http.Request) ([]balanceRow, error) {
	actor, _ := middleware.GetActor(r.Context())

	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: year must be an integer", leave.ErrValidation)
		}
		year = parsed
	}

	balances, err := h.Leave.GetBalances(r.Context(), actor.OrgID, "", year)
	if err != nil {
		return nil, err
	}
	employees, err := h.Employees.List(r.Context(), actor.OrgID)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(employees))
	for _, emp := range employees {
		names[emp.ID] = emp.FirstName + " " + emp.LastName
	}

	rows := make([]balanceRow, 0, len(balances))
	for _, b := range balances {
		name := names[b.EmployeeID]
		if name == "" {
			name = b.EmployeeID
		}
		rows = append(rows, balanceRow{EmployeeName: name, Balance: b})
	}
	return rows, nil
}

func (h *Handler) handleBalancesCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.balanceRows(r)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "report_failed", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="leave-balances.csv"`)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"employee", "leaveType", "year", "totalAllowed", "used", "remaining"})
	for _, row := range rows {
		b := row.Balance
		_ = writer.Write([]string{
			row.EmployeeName,
			b.LeaveType,
			strconv.Itoa(b.Year),
			strconv.Itoa(b.TotalAllowed),
			strconv.Itoa(b.Used),
			strconv.Itoa(b.Remaining),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		slog.Warn("csv report write failed", "err", err)
	}
}

func (h *Handler) handleBalancesPDF(w http.ResponseWriter, r *http.Request) {
	rows, err := h.balanceRows(r)
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "report_failed", err.Error(), middleware.GetRequestID(r.Context()))
		return
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(40, 10, "Leave Balances")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "B", 10)
	headers := []string{"Employee", "Type", "Year", "Allowed", "Used", "Remaining"}
	widths := []float64{60, 25, 20, 25, 20, 25}
	for i, header := range headers {
		pdf.CellFormat(widths[i], 8, header, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for _, row := range rows {
		b := row.Balance
		cells := []string{
			row.EmployeeName,
			b.LeaveType,
			strconv.Itoa(b.Year),
			strconv.Itoa(b.TotalAllowed),
			strconv.Itoa(b.Used),
			strconv.Itoa(b.Remaining),
		}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 8, cell, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="leave-balances.pdf"`)
	if err := pdf.Output(w); err != nil {
		slog.Warn("pdf report write failed", "err", err)
	}
}
