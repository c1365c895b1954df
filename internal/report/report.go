// Package report builds the monthly consumption spreadsheets and records their totals.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rasidhq/recharge/internal/directory"
	"github.com/rasidhq/recharge/internal/models"
	"github.com/rasidhq/recharge/internal/notify"
	"github.com/rasidhq/recharge/internal/workflow"
	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// File names written for each run.
const (
	SummaryFile = "monthly_summary.xlsx"
	UsersFile   = "monthly_consumption.xlsx"

	detailsSheet    = "Details"
	categoriesSheet = "Categories"
	usersSheet      = "Users"
	timeLayout      = "2006-01-02 15:04"
)

// Notifier receives the report-ready event.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event) error
}

// Generator exports approved requests of a period into spreadsheets.
type Generator struct {
	flow     *workflow.Workflow
	dir      *directory.Directory
	notifier Notifier
	outDir   string
	loc      *time.Location
	log      log.FieldLogger
}

// NewGenerator constructs a Generator writing into outDir. Times are rendered in loc.
func NewGenerator(flow *workflow.Workflow, dir *directory.Directory, notifier Notifier, outDir string, loc *time.Location, logger log.FieldLogger) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Generator{
		flow:     flow,
		dir:      dir,
		notifier: notifier,
		outDir:   outDir,
		loc:      loc,
		log:      logger.WithField("component", "report"),
	}
}

// Location returns the zone used for periods and timestamps.
func (g *Generator) Location() *time.Location { return g.loc }

// Summary describes one generated report.
type Summary struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	CardCount   int64
	TotalAmount int64
	TotalTariff int64
	SummaryPath string
	UsersPath   string
	Record      *models.MonthlyReport
}

// Run reports on the month before now. It returns nil when nothing was consumed.
func (g *Generator) Run(ctx context.Context, now time.Time) (*Summary, error) {
	start, end := PreviousMonth(now, g.loc)
	return g.Build(ctx, start, end)
}

// Build reports on approved requests updated in [start, end). It returns nil when
// the period is empty, without writing files.
func (g *Generator) Build(ctx context.Context, start, end time.Time) (*Summary, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("report: empty period %s..%s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	rows, err := g.flow.ExportConsumedRequests(ctx, workflow.ExportFilter{Start: &start, End: &end})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		g.log.WithFields(log.Fields{"start": start, "end": end}).Info("report: nothing consumed in period")
		return nil, nil
	}

	dir := filepath.Join(g.outDir, start.In(g.loc).Format("2006-01"))
	if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
		return nil, fmt.Errorf("report: create %s: %w", dir, errMkdir)
	}
	sum := &Summary{
		PeriodStart: start,
		PeriodEnd:   end,
		SummaryPath: filepath.Join(dir, SummaryFile),
		UsersPath:   filepath.Join(dir, UsersFile),
	}
	for _, r := range rows {
		sum.CardCount++
		sum.TotalAmount += r.Amount
		sum.TotalTariff += Tariff(r.Amount)
	}

	if errWrite := g.writeSummary(sum.SummaryPath, rows); errWrite != nil {
		return nil, errWrite
	}
	if errWrite := writeUsers(sum.UsersPath, rows); errWrite != nil {
		return nil, errWrite
	}

	record, err := g.flow.RecordMonthlyReport(ctx, workflow.MonthlyReportParams{
		PeriodStart: start.In(g.loc),
		PeriodEnd:   end.In(g.loc).Add(-time.Nanosecond),
		TotalAmount: sum.TotalAmount,
		TotalTariff: sum.TotalTariff,
		CardCount:   sum.CardCount,
		ReportPath:  sum.SummaryPath,
	})
	if err != nil {
		return nil, err
	}
	sum.Record = record

	g.log.WithFields(log.Fields{
		"period":       start.In(g.loc).Format("2006-01"),
		"cards":        sum.CardCount,
		"total_amount": sum.TotalAmount,
		"total_tariff": sum.TotalTariff,
	}).Info("report: monthly report written")
	g.announce(ctx, sum)
	return sum, nil
}

func (g *Generator) announce(ctx context.Context, sum *Summary) {
	if g.notifier == nil || g.dir == nil {
		return
	}
	admins, err := g.dir.ListAdmins(ctx)
	if err != nil {
		g.log.WithError(err).Warn("report: list admins failed")
		return
	}
	if len(admins) == 0 {
		return
	}
	ids := make([]uint64, 0, len(admins))
	for _, a := range admins {
		ids = append(ids, a.ID)
	}
	text := fmt.Sprintf("Monthly report %s: %d cards, face value %d, tariff %d",
		sum.PeriodStart.In(g.loc).Format("2006-01"), sum.CardCount, sum.TotalAmount, sum.TotalTariff)
	if errNotify := g.notifier.Notify(ctx, notify.Event{
		Kind:       notify.EventMonthlyReportReady,
		Recipients: ids,
		Amount:     sum.TotalAmount,
		Path:       sum.SummaryPath,
		Text:       text,
	}); errNotify != nil {
		g.log.WithError(errNotify).Warn("report: notify failed")
	}
}

func (g *Generator) writeSummary(path string, rows []workflow.ConsumedRequest) (errOut error) {
	f := excelize.NewFile()
	defer func() {
		if errClose := f.Close(); errClose != nil && errOut == nil {
			errOut = errClose
		}
	}()

	if errRename := f.SetSheetName("Sheet1", detailsSheet); errRename != nil {
		return fmt.Errorf("report: details sheet: %w", errRename)
	}
	details := [][]any{{"ID", "Amount", "Tariff", "Request type", "Sent at", "Requester", "Responsible", "Approver", "Card type"}}
	for _, r := range rows {
		details = append(details, []any{
			r.RequestID,
			r.Amount,
			Tariff(r.Amount),
			string(r.RequestType),
			r.UpdatedAt.In(g.loc).Format(timeLayout),
			r.RequesterName,
			deref(r.ResponsibleName),
			r.ApproverOrResponsible(),
			deref(r.CardType),
		})
	}
	if errRows := writeRows(f, detailsSheet, details); errRows != nil {
		return errRows
	}

	if _, errSheet := f.NewSheet(categoriesSheet); errSheet != nil {
		return fmt.Errorf("report: categories sheet: %w", errSheet)
	}
	if errRows := writeRows(f, categoriesSheet, categoryRows(rows)); errRows != nil {
		return errRows
	}
	if errSave := f.SaveAs(path); errSave != nil {
		return fmt.Errorf("report: save %s: %w", path, errSave)
	}
	return nil
}

func writeUsers(path string, rows []workflow.ConsumedRequest) (errOut error) {
	f := excelize.NewFile()
	defer func() {
		if errClose := f.Close(); errClose != nil && errOut == nil {
			errOut = errClose
		}
	}()
	if errRename := f.SetSheetName("Sheet1", usersSheet); errRename != nil {
		return fmt.Errorf("report: users sheet: %w", errRename)
	}
	if errRows := writeRows(f, usersSheet, userRows(rows)); errRows != nil {
		return errRows
	}
	if errSave := f.SaveAs(path); errSave != nil {
		return fmt.Errorf("report: save %s: %w", path, errSave)
	}
	return nil
}

type totals struct {
	count, amount, tariff int64
}

func (t *totals) add(amount int64) {
	t.count++
	t.amount += amount
	t.tariff += Tariff(amount)
}

func categoryRows(rows []workflow.ConsumedRequest) [][]any {
	type key struct {
		cardType string
		amount   int64
	}
	groups := map[key]*totals{}
	var keys []key
	for _, r := range rows {
		k := key{cardType: deref(r.CardType), amount: r.Amount}
		if groups[k] == nil {
			groups[k] = &totals{}
			keys = append(keys, k)
		}
		groups[k].add(r.Amount)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cardType != keys[j].cardType {
			return keys[i].cardType < keys[j].cardType
		}
		return keys[i].amount < keys[j].amount
	})
	out := [][]any{{"Card type", "Amount", "Count", "Face total", "Tariff total"}}
	for _, k := range keys {
		g := groups[k]
		out = append(out, []any{k.cardType, k.amount, g.count, g.amount, g.tariff})
	}
	return out
}

func userRows(rows []workflow.ConsumedRequest) [][]any {
	type user struct {
		id          uint64
		name, phone string
	}
	groups := map[uint64]*totals{}
	var users []user
	for _, r := range rows {
		if groups[r.RequesterID] == nil {
			groups[r.RequesterID] = &totals{}
			users = append(users, user{id: r.RequesterID, name: r.RequesterName, phone: r.RequesterPhone})
		}
		groups[r.RequesterID].add(r.Amount)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].name != users[j].name {
			return users[i].name < users[j].name
		}
		return users[i].id < users[j].id
	})
	out := [][]any{{"User", "Phone", "Count", "Face total", "Tariff total"}}
	for _, u := range users {
		g := groups[u.id]
		out = append(out, []any{u.name, u.phone, g.count, g.amount, g.tariff})
	}
	return out
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, errCell := excelize.CoordinatesToCellName(1, i+1)
		if errCell != nil {
			return errCell
		}
		if errRow := f.SetSheetRow(sheet, cell, &row); errRow != nil {
			return fmt.Errorf("report: write %s row %d: %w", sheet, i+1, errRow)
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
