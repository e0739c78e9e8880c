package jobs

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/utils"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// RenderReport writes report to w. An empty format means table.
func RenderReport(w io.Writer, report *domain.BillingReport, format string) error {
	switch format {
	case "", FormatTable:
		return renderTable(w, report)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case FormatCSV:
		return renderCSV(w, report)
	}
	return fmt.Errorf("unknown report format %q", format)
}

func renderTable(w io.Writer, r *domain.BillingReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Billing report %s to %s\n\n", utils.FormatDate(r.PeriodStart), utils.FormatDate(r.PeriodEnd))
	fmt.Fprintf(tw, "Invoices\t%d\n", r.Summary.TotalInvoices)
	fmt.Fprintf(tw, "Total\t%s\n", r.Summary.TotalAmount.StringFixed(2))
	fmt.Fprintf(tw, "Paid\t%s\n", r.Summary.PaidAmount.StringFixed(2))
	fmt.Fprintf(tw, "Pending\t%s\n", r.Summary.PendingAmount.StringFixed(2))
	fmt.Fprintf(tw, "Overdue\t%s\n", r.Summary.OverdueAmount.StringFixed(2))

	fmt.Fprintf(tw, "\nSTATUS\tCOUNT\tTOTAL\n")
	for _, st := range domain.AllInvoiceStatuses {
		b := r.ByStatus[st]
		fmt.Fprintf(tw, "%s\t%d\t%s\n", st, b.Count, b.TotalAmount.StringFixed(2))
	}
	fmt.Fprintf(tw, "\nTYPE\tCOUNT\tTOTAL\n")
	for _, c := range domain.AllInvoiceCycles {
		b := r.ByCycle[c]
		fmt.Fprintf(tw, "%s\t%d\t%s\n", c, b.Count, b.TotalAmount.StringFixed(2))
	}
	return tw.Flush()
}

func renderCSV(w io.Writer, r *domain.BillingReport) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"section", "key", "count", "total_amount"},
		{"summary", "total", strconv.Itoa(r.Summary.TotalInvoices), r.Summary.TotalAmount.StringFixed(2)},
		{"summary", "paid", "", r.Summary.PaidAmount.StringFixed(2)},
		{"summary", "pending", "", r.Summary.PendingAmount.StringFixed(2)},
		{"summary", "overdue", "", r.Summary.OverdueAmount.StringFixed(2)},
	}
	for _, st := range domain.AllInvoiceStatuses {
		b := r.ByStatus[st]
		rows = append(rows, []string{"status", string(st), strconv.Itoa(b.Count), b.TotalAmount.StringFixed(2)})
	}
	for _, c := range domain.AllInvoiceCycles {
		b := r.ByCycle[c]
		rows = append(rows, []string{"type", string(c), strconv.Itoa(b.Count), b.TotalAmount.StringFixed(2)})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv report: %w", err)
	}
	return nil
}
