package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/db"
	"github.com/rasidhq/recharge/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func setupWorkflow(t *testing.T, opts ...Option) (*Workflow, *gorm.DB) {
	t.Helper()

	conn, errOpen := db.Open(filepath.Join(t.TempDir(), "workflow.db"), db.Options{LogLevel: "silent"})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)
	return New(conn, logger, opts...), conn
}

func createUser(t *testing.T, conn *gorm.DB, name, phone string, role models.UserRole) models.User {
	t.Helper()
	u := models.User{FullName: name, Phone: phone, Role: role, IsActive: true}
	if err := conn.Create(&u).Error; err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func newRequest(t *testing.T, w *Workflow, requester, responsible uint64, status models.RequestStatus) *models.RechargeRequest {
	t.Helper()
	req, err := w.CreateRequest(context.Background(), CreateParams{
		RequesterID:   requester,
		ResponsibleID: responsible,
		Amount:        5000,
		Type:          models.RequestTypeFixed,
		Status:        status,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestCreateRequestWritesInitialHistory(t *testing.T) {
	w, _ := setupWorkflow(t)
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingManager)

	history, err := w.History(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history))
	}
	h := history[0]
	if h.FromStatus != nil || h.ToStatus != models.RequestStatusPendingManager || h.ActorID == nil || *h.ActorID != 7 {
		t.Fatalf("unexpected initial history %+v", h)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	w, conn := setupWorkflow(t)
	ctx := context.Background()
	bad := models.CardType("gold")
	cases := []CreateParams{
		{RequesterID: 1, Amount: 0, Type: models.RequestTypeFixed, Status: models.RequestStatusPendingManager},
		{RequesterID: 1, Amount: 100, Type: "menu", Status: models.RequestStatusPendingManager},
		{RequesterID: 1, Amount: 100, Type: models.RequestTypeFixed, Status: "waiting"},
		{RequesterID: 0, Amount: 100, Type: models.RequestTypeFixed, Status: models.RequestStatusPendingManager},
		{RequesterID: 1, Amount: 100, Type: models.RequestTypeFixed, Status: models.RequestStatusPendingManager, CardType: &bad},
	}
	for i, p := range cases {
		if _, err := w.CreateRequest(ctx, p); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	var n int64
	conn.Model(&models.RechargeRequest{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected no requests persisted, got %d", n)
	}
}

func TestSetStatusRecordsFromTo(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingManager)

	updated, err := w.SetStatus(ctx, req.ID, 3, models.RequestStatusPendingAccounting, "manager ok")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if updated.Status != models.RequestStatusPendingAccounting {
		t.Fatalf("unexpected status %s", updated.Status)
	}
	if updated.UpdatedAt.Before(req.UpdatedAt) {
		t.Fatalf("updated_at should move forward")
	}

	history, _ := w.History(ctx, req.ID)
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	last := history[1]
	if last.FromStatus == nil || *last.FromStatus != models.RequestStatusPendingManager || last.ToStatus != models.RequestStatusPendingAccounting || last.Note != "manager ok" {
		t.Fatalf("unexpected history %+v", last)
	}
	stored, _ := w.GetRequest(ctx, req.ID)
	if stored.Status != history[len(history)-1].ToStatus {
		t.Fatalf("history does not reconstruct status")
	}
}

func TestSetStatusPermissiveByDefault(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingAccounting)
	if _, err := w.SetStatus(ctx, req.ID, 1, models.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := w.SetStatus(ctx, req.ID, 1, models.RequestStatusPendingManager, "reopen"); err != nil {
		t.Fatalf("permissive recorder should accept any move, got %v", err)
	}
}

func TestSetStatusStrictRejectsIllegalMoves(t *testing.T) {
	w, _ := setupWorkflow(t, WithStrictTransitions())
	ctx := context.Background()
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingAccounting)
	if _, err := w.SetStatus(ctx, req.ID, 1, models.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := w.SetStatus(ctx, req.ID, 1, models.RequestStatusPendingManager, ""); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	history, _ := w.History(ctx, req.ID)
	if len(history) != 2 {
		t.Fatalf("rejected move must not write history, got %d rows", len(history))
	}
}

func TestSetStatusNotFound(t *testing.T) {
	w, _ := setupWorkflow(t)
	if _, err := w.SetStatus(context.Background(), 42, 1, models.RequestStatusApproved, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAttachCardOnce(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingAccounting)

	attached, err := w.AttachCard(ctx, req.ID, 11, 1)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if attached.FinalCardID == nil || *attached.FinalCardID != 11 {
		t.Fatalf("unexpected card id %+v", attached.FinalCardID)
	}
	if _, errAgain := w.AttachCard(ctx, req.ID, 12, 1); !errors.Is(errAgain, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state on second attach, got %v", errAgain)
	}

	history, _ := w.History(ctx, req.ID)
	last := history[len(history)-1]
	if len(history) != 2 || last.Note != NoteCardAssigned || last.FromStatus == nil || *last.FromStatus != last.ToStatus {
		t.Fatalf("unexpected attach history %+v", history)
	}
}

func TestAttachCardConcurrentSingleWinner(t *testing.T) {
	w, _ := setupWorkflow(t)
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingAccounting)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(cardID uint64) {
			defer wg.Done()
			if _, err := w.AttachCard(context.Background(), req.ID, cardID, 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(uint64(100 + i))
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one attach, got %d", wins)
	}
}

func TestAttachCardRejectedRequest(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingManager)
	if _, err := w.SetStatus(ctx, req.ID, 3, models.RequestStatusRejected, ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := w.AttachCard(ctx, req.ID, 5, 1); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestClaimCardRequiresExpectedState(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingManager)

	if _, err := w.ClaimCard(ctx, req.ID, 21, 1, models.RequestStatusPendingAccounting); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state for wrong prior state, got %v", err)
	}
	claimed, err := w.ClaimCard(ctx, req.ID, 21, 1, models.RequestStatusPendingManager)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.FinalCardID == nil || *claimed.FinalCardID != 21 {
		t.Fatalf("unexpected claim %+v", claimed)
	}
	if _, err = w.ClaimCard(ctx, req.ID, 22, 1, models.RequestStatusPendingManager); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state for second claim, got %v", err)
	}

	if _, err = w.UnclaimCard(ctx, req.ID, 22, 1); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state for foreign card, got %v", err)
	}
	released, err := w.UnclaimCard(ctx, req.ID, 21, 1)
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if released.FinalCardID != nil {
		t.Fatalf("expected no card after unclaim, got %v", *released.FinalCardID)
	}
	if _, err = w.ClaimCard(ctx, req.ID, 22, 1, models.RequestStatusPendingManager); err != nil {
		t.Fatalf("claim after unclaim: %v", err)
	}

	history, _ := w.History(ctx, req.ID)
	notes := []string{"", NoteCardAssigned, NoteCardReleased, NoteCardAssigned}
	if len(history) != len(notes) {
		t.Fatalf("expected %d history rows, got %d", len(notes), len(history))
	}
	for i, want := range notes {
		if history[i].Note != want {
			t.Fatalf("history[%d] note=%q want %q", i, history[i].Note, want)
		}
	}
}

func TestClaimCardConcurrentSingleWinner(t *testing.T) {
	w, _ := setupWorkflow(t)
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingAccounting)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(cardID uint64) {
			defer wg.Done()
			if _, err := w.ClaimCard(context.Background(), req.ID, cardID, 1, models.RequestStatusPendingAccounting); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(uint64(200 + i))
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins)
	}
}

func TestAdvanceGuards(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingAccounting)

	stale := Transition{RequestID: req.ID, ActorID: 9, From: models.RequestStatusPendingManager, To: models.RequestStatusRejected}
	if _, err := w.Advance(ctx, stale); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state for stale from, got %v", err)
	}
	if _, err := w.ClaimCard(ctx, req.ID, 31, 9, models.RequestStatusPendingAccounting); err != nil {
		t.Fatalf("claim: %v", err)
	}
	reject := Transition{RequestID: req.ID, ActorID: 9, From: models.RequestStatusPendingAccounting, To: models.RequestStatusRejected, Reason: "no"}
	if _, err := w.Advance(ctx, reject); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected reject to fail while a card is claimed, got %v", err)
	}
	wrongCard := Transition{RequestID: req.ID, ActorID: 9, From: models.RequestStatusPendingAccounting, To: models.RequestStatusApproved, CardID: 32}
	if _, err := w.Advance(ctx, wrongCard); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state for another card, got %v", err)
	}

	approved, err := w.Advance(ctx, Transition{
		RequestID:        req.ID,
		ActorID:          9,
		From:             models.RequestStatusPendingAccounting,
		To:               models.RequestStatusApproved,
		Note:             "approved",
		CardID:           31,
		RecordApprover:   true,
		RecordAccounting: true,
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if approved.Status != models.RequestStatusApproved || approved.ApproverID == nil || *approved.ApproverID != 9 || approved.AccountingID == nil || *approved.AccountingID != 9 {
		t.Fatalf("unexpected approved request %+v", approved)
	}
	if approved.Reason != "" {
		t.Fatalf("expected no reason, got %q", approved.Reason)
	}
	if _, err = w.UnclaimCard(ctx, req.ID, 31, 9); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected approved request to keep its card, got %v", err)
	}

	history, _ := w.History(ctx, req.ID)
	last := history[len(history)-1]
	if last.FromStatus == nil || *last.FromStatus != models.RequestStatusPendingAccounting || last.ToStatus != models.RequestStatusApproved || last.Note != "approved" {
		t.Fatalf("unexpected final history %+v", last)
	}
}

func TestSetApproverAndAccounting(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()
	req := newRequest(t, w, 7, 3, models.RequestStatusPendingAccounting)

	if _, err := w.SetAccounting(ctx, req.ID, 9); err != nil {
		t.Fatalf("set accounting: %v", err)
	}
	updated, err := w.SetApprover(ctx, req.ID, 9)
	if err != nil {
		t.Fatalf("set approver: %v", err)
	}
	if updated.ApproverID == nil || *updated.ApproverID != 9 || updated.AccountingID == nil || *updated.AccountingID != 9 {
		t.Fatalf("unexpected request %+v", updated)
	}
	if updated.Status != models.RequestStatusPendingAccounting {
		t.Fatalf("approver must not change status")
	}
	history, _ := w.History(ctx, req.ID)
	if len(history) != 1 {
		t.Fatalf("field updates must not write history, got %d", len(history))
	}
	if _, errMissing := w.SetApprover(ctx, 404, 9); !errors.Is(errMissing, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", errMissing)
	}
}

func TestListRequests(t *testing.T) {
	w, _ := setupWorkflow(t)
	ctx := context.Background()
	newRequest(t, w, 7, 3, models.RequestStatusPendingManager)
	newRequest(t, w, 8, 3, models.RequestStatusPendingManager)
	newRequest(t, w, 9, 4, models.RequestStatusPendingAccounting)

	pending := models.RequestStatusPendingManager
	rows, err := w.ListRequests(ctx, ListFilter{Status: &pending, ResponsibleID: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].RequesterID != 8 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestExportConsumedRequests(t *testing.T) {
	w, conn := setupWorkflow(t)
	ctx := context.Background()
	manager := createUser(t, conn, "Manager", "0770", models.UserRoleResponsible)
	member := createUser(t, conn, "Member", "0771", models.UserRoleUser)
	admin := createUser(t, conn, "Admin", "0772", models.UserRoleAdmin)

	card := models.Card{Type: models.CardTypeAthir, Amount: 5000, Status: models.CardStatusSent, SerialNumber: ptr("S1")}
	if err := conn.Create(&card).Error; err != nil {
		t.Fatalf("create card: %v", err)
	}

	approved := newRequest(t, w, member.ID, manager.ID, models.RequestStatusPendingAccounting)
	if _, err := w.AttachCard(ctx, approved.ID, card.ID, admin.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := w.SetStatus(ctx, approved.ID, admin.ID, models.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	noApprover := newRequest(t, w, member.ID, manager.ID, models.RequestStatusPendingAccounting)
	if _, err := w.SetStatus(ctx, noApprover.ID, admin.ID, models.RequestStatusApproved, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := w.SetApprover(ctx, approved.ID, admin.ID); err != nil {
		t.Fatalf("set approver: %v", err)
	}
	newRequest(t, w, member.ID, manager.ID, models.RequestStatusPendingManager)

	rows, err := w.ExportConsumedRequests(ctx, ExportFilter{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 approved rows, got %d", len(rows))
	}
	first := rows[0]
	if first.RequestID != approved.ID || first.RequesterName != "Member" || first.CardType == nil || *first.CardType != "athir" {
		t.Fatalf("unexpected first row %+v", first)
	}
	if first.ApproverOrResponsible() != "Admin" {
		t.Fatalf("expected approver name, got %q", first.ApproverOrResponsible())
	}
	if rows[1].ApproverOrResponsible() != "Manager" {
		t.Fatalf("expected responsible fallback, got %q", rows[1].ApproverOrResponsible())
	}

	future := time.Now().Add(time.Hour)
	none, err := w.ExportConsumedRequests(ctx, ExportFilter{Start: &future})
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty export after start filter, got %d err=%v", len(none), err)
	}
	other, err := w.ExportConsumedRequests(ctx, ExportFilter{ResponsibleID: admin.ID})
	if err != nil || len(other) != 0 {
		t.Fatalf("expected empty export for other responsible, got %d err=%v", len(other), err)
	}
}

func TestMonthlyTotals(t *testing.T) {
	w, conn := setupWorkflow(t)
	ctx := context.Background()
	manager := createUser(t, conn, "Manager", "0770", models.UserRoleResponsible)
	member := createUser(t, conn, "Member", "0771", models.UserRoleUser)

	approveAt := func(at time.Time) {
		req := newRequest(t, w, member.ID, manager.ID, models.RequestStatusApproved)
		if err := conn.Model(&models.RechargeRequest{}).Where("id = ?", req.ID).UpdateColumn("updated_at", at).Error; err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}
	approveAt(time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC))
	approveAt(time.Date(2026, 8, 28, 22, 0, 0, 0, time.UTC))
	approveAt(time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC))
	approveAt(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))
	newRequest(t, w, member.ID, manager.ID, models.RequestStatusPendingManager)

	since := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	rows, err := w.MonthlyTotals(ctx, since, 0)
	if err != nil {
		t.Fatalf("monthly totals: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two months, got %+v", rows)
	}
	if rows[0].Month != "2026-08" || rows[0].Requests != 2 || rows[0].TotalAmount != 10000 {
		t.Fatalf("unexpected august row %+v", rows[0])
	}
	if rows[1].Month != "2026-09" || rows[1].Requests != 1 {
		t.Fatalf("unexpected september row %+v", rows[1])
	}
	if other, errOther := w.MonthlyTotals(ctx, since, member.ID); errOther != nil || len(other) != 0 {
		t.Fatalf("expected no rows for another responsible, got %+v err=%v", other, errOther)
	}
}

func TestRecordMonthlyReportUpserts(t *testing.T) {
	w, conn := setupWorkflow(t)
	ctx := context.Background()
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)

	if _, err := w.RecordMonthlyReport(ctx, MonthlyReportParams{PeriodStart: start, PeriodEnd: end, TotalAmount: 1000, ReportPath: "a.xlsx"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	stored, err := w.RecordMonthlyReport(ctx, MonthlyReportParams{PeriodStart: start, PeriodEnd: end, TotalAmount: 2500, CardCount: 2, ReportPath: "b.xlsx"})
	if err != nil {
		t.Fatalf("record again: %v", err)
	}
	if stored.TotalAmount != 2500 || stored.ReportPath != "b.xlsx" || stored.CardCount != 2 {
		t.Fatalf("unexpected stored report %+v", stored)
	}
	var n int64
	conn.Model(&models.MonthlyReport{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected a single report row, got %d", n)
	}
	if _, errBad := w.RecordMonthlyReport(ctx, MonthlyReportParams{PeriodStart: end, PeriodEnd: start}); !errors.Is(errBad, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", errBad)
	}
}

func TestAllowed(t *testing.T) {
	if !Allowed(models.RequestStatusPendingManager, models.RequestStatusApproved) {
		t.Fatalf("fast path must be allowed")
	}
	if Allowed(models.RequestStatusApproved, models.RequestStatusRejected) {
		t.Fatalf("terminal states must not move")
	}
	if Allowed(models.RequestStatusPendingAccounting, models.RequestStatusPendingManager) {
		t.Fatalf("accounting must not send back to manager")
	}
}

func ptr(s string) *string { return &s }
