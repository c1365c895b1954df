package approval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/db"
	"github.com/rasidhq/recharge/internal/directory"
	"github.com/rasidhq/recharge/internal/ledger"
	"github.com/rasidhq/recharge/internal/models"
	"github.com/rasidhq/recharge/internal/notify"
	"github.com/rasidhq/recharge/internal/workflow"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type fakeDeliverer struct {
	mu   sync.Mutex
	fail error
	got  []notify.Delivery
}

func (f *fakeDeliverer) Deliver(_ context.Context, d notify.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.got = append(f.got, d)
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeNotifier) Notify(_ context.Context, e notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return errors.New("front-end offline")
}

func (f *fakeNotifier) ofKind(kind notify.EventKind) []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Event
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type env struct {
	svc       *Service
	logger    *log.Logger
	seeded    int
	conn      *gorm.DB
	ledger    *ledger.Ledger
	flow      *workflow.Workflow
	dir       *directory.Directory
	deliverer *fakeDeliverer
	notifier  *fakeNotifier

	admin    *models.User
	manager  *models.User
	direct   *models.User
	member   *models.User
	directee *models.User
}

func setupService(t *testing.T, opts ...Option) *env {
	t.Helper()

	conn, errOpen := db.Open(filepath.Join(t.TempDir(), "approval.db"), db.Options{LogLevel: "silent"})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	logger := log.New()
	logger.SetLevel(log.ErrorLevel)

	e := &env{
		logger:    logger,
		conn:      conn,
		ledger:    ledger.New(conn, logger),
		flow:      workflow.New(conn, logger),
		dir:       directory.New(conn, logger),
		deliverer: &fakeDeliverer{},
		notifier:  &fakeNotifier{},
	}
	defaults := []Option{
		WithThreshold(func() int64 { return 0 }),
		WithDirectSendGate(func() bool { return true }),
	}
	e.svc = New(e.ledger, e.flow, e.dir, e.deliverer, e.notifier, logger, append(defaults, opts...)...)

	asia := models.CardTypeAsia
	e.admin = e.createUser(t, directory.CreateUserParams{FullName: "Admin", Phone: "0700", Role: models.UserRoleAdmin}, 100)
	e.manager = e.createUser(t, directory.CreateUserParams{FullName: "Manager", Phone: "0701", Role: models.UserRoleResponsible}, 101)
	e.direct = e.createUser(t, directory.CreateUserParams{FullName: "Direct", Phone: "0702", Role: models.UserRoleResponsible, CanApproveDirectly: true}, 102)
	e.member = e.createUser(t, directory.CreateUserParams{FullName: "Member", Phone: "0703", Role: models.UserRoleUser, ManagerID: e.manager.ID, LineType: &asia}, 103)
	e.directee = e.createUser(t, directory.CreateUserParams{FullName: "Directee", Phone: "0704", Role: models.UserRoleUser, ManagerID: e.direct.ID, LineType: &asia}, 104)
	return e
}

func (e *env) createUser(t *testing.T, p directory.CreateUserParams, telegramID int64) *models.User {
	t.Helper()
	ctx := context.Background()
	user, err := e.dir.CreateUser(ctx, p)
	if err != nil {
		t.Fatalf("create user %s: %v", p.FullName, err)
	}
	if telegramID != 0 {
		if user, err = e.dir.AttachTelegram(ctx, user.ID, telegramID); err != nil {
			t.Fatalf("attach telegram: %v", err)
		}
	}
	return user
}

func (e *env) addCards(t *testing.T, cardType models.CardType, amount int64, n int) []*models.Card {
	t.Helper()
	cards := make([]*models.Card, 0, n)
	for i := 0; i < n; i++ {
		e.seeded++
		card, err := e.ledger.AddCard(context.Background(), ledger.AddCardParams{
			Type:         cardType,
			Amount:       amount,
			ActorID:      e.admin.ID,
			SerialNumber: fmt.Sprintf("%s-%d-%d", cardType, amount, e.seeded),
		})
		if err != nil {
			t.Fatalf("add card: %v", err)
		}
		cards = append(cards, card)
	}
	return cards
}

func (e *env) available(t *testing.T, cardType models.CardType, amount int64) int64 {
	t.Helper()
	n, err := e.ledger.CountAvailable(context.Background(), cardType, amount)
	if err != nil {
		t.Fatalf("count available: %v", err)
	}
	return n
}

func TestSubmitRoutesByRole(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	fromMember, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.member.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("member submit: %v", err)
	}
	if fromMember.Status != models.RequestStatusPendingManager || fromMember.ResponsibleID == nil || *fromMember.ResponsibleID != e.manager.ID {
		t.Fatalf("unexpected member request %+v", fromMember)
	}
	if fromMember.RequestType != models.RequestTypeFixed || fromMember.CardType == nil || *fromMember.CardType != models.CardTypeAsia {
		t.Fatalf("expected fixed asia defaults, got type=%s card=%v", fromMember.RequestType, fromMember.CardType)
	}

	fromManager, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.manager.ID, Amount: 7000})
	if err != nil {
		t.Fatalf("manager submit: %v", err)
	}
	if fromManager.Status != models.RequestStatusPendingAccounting || fromManager.ResponsibleID == nil || *fromManager.ResponsibleID != e.manager.ID {
		t.Fatalf("unexpected manager request %+v", fromManager)
	}
	if fromManager.RequestType != models.RequestTypeCustom {
		t.Fatalf("expected custom type for 7000, got %s", fromManager.RequestType)
	}

	fromAdmin, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.admin.ID, Amount: 10000})
	if err != nil {
		t.Fatalf("admin submit: %v", err)
	}
	if fromAdmin.Status != models.RequestStatusPendingAccounting || fromAdmin.ResponsibleID != nil {
		t.Fatalf("unexpected admin request %+v", fromAdmin)
	}

	submitted := e.notifier.ofKind(notify.EventRequestSubmitted)
	if len(submitted) != 2 {
		t.Fatalf("expected 2 submit notifications, got %d", len(submitted))
	}
	if submitted[0].Recipients[0] != e.manager.ID {
		t.Fatalf("member request should notify manager, got %v", submitted[0].Recipients)
	}
	if submitted[1].Recipients[0] != e.admin.ID {
		t.Fatalf("manager request should notify admins, got %v", submitted[1].Recipients)
	}
}

func TestSubmitWithoutManagerPersistsNothing(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	if _, err := e.dir.DeactivateUser(ctx, e.manager.ID); err != nil {
		t.Fatalf("deactivate manager: %v", err)
	}
	_, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.member.ID, Amount: 5000})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var count int64
	if errCount := e.conn.Model(&models.RechargeRequest{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no request, got %d", count)
	}
	if _, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.member.ID, Amount: 0}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
}

func TestManagerThenAccountingApproval(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	cards := e.addCards(t, models.CardTypeAsia, 5000, 2)

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.member.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err = e.svc.ManagerApprove(ctx, req.ID, e.manager.ID); err != nil {
		t.Fatalf("manager approve: %v", err)
	}
	res, err := e.svc.AccountingApprove(ctx, req.ID, e.admin.ID, nil)
	if err != nil {
		t.Fatalf("accounting approve: %v", err)
	}

	if res.Card.ID != cards[0].ID || res.Card.Status != models.CardStatusSent {
		t.Fatalf("expected oldest card sent, got %+v", res.Card)
	}
	got, err := e.flow.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != models.RequestStatusApproved || got.FinalCardID == nil || *got.FinalCardID != cards[0].ID {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.ApproverID == nil || *got.ApproverID != e.admin.ID || got.AccountingID == nil || *got.AccountingID != e.admin.ID {
		t.Fatalf("expected admin as approver and accounting, got %+v", got)
	}

	history, err := e.flow.History(ctx, req.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	wantTo := []models.RequestStatus{
		models.RequestStatusPendingManager,
		models.RequestStatusPendingAccounting,
		models.RequestStatusPendingAccounting,
		models.RequestStatusApproved,
	}
	if len(history) != len(wantTo) {
		t.Fatalf("expected %d history rows, got %d", len(wantTo), len(history))
	}
	for i, want := range wantTo {
		if history[i].ToStatus != want {
			t.Fatalf("history[%d] to=%s want %s", i, history[i].ToStatus, want)
		}
	}
	if history[3].FromStatus == nil || *history[3].FromStatus != models.RequestStatusPendingAccounting {
		t.Fatalf("expected approval from pending_accounting, got %v", history[3].FromStatus)
	}

	if e.deliverer.count() != 1 || e.deliverer.got[0].TelegramID != 103 || e.deliverer.got[0].RequestID != req.ID {
		t.Fatalf("unexpected deliveries %+v", e.deliverer.got)
	}
	if e.available(t, models.CardTypeAsia, 5000) != 1 {
		t.Fatalf("expected one card left")
	}
	if len(e.notifier.ofKind(notify.EventRequestApproved)) != 1 {
		t.Fatalf("expected approval notification")
	}
}

func TestAccountingApproveRestoresCardWhenDeliveryFails(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	cards := e.addCards(t, models.CardTypeAsia, 5000, 1)

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.manager.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.deliverer.fail = errors.New("messaging down")

	if _, err = e.svc.AccountingApprove(ctx, req.ID, e.admin.ID, ptr(models.CardTypeAsia)); err == nil {
		t.Fatalf("expected delivery failure")
	}
	if e.available(t, models.CardTypeAsia, 5000) != 1 {
		t.Fatalf("card should be available again")
	}
	logs, err := e.ledger.CardLogs(ctx, cards[0].ID)
	if err != nil {
		t.Fatalf("card logs: %v", err)
	}
	wantActions := []models.InventoryAction{models.InventoryActionAdd, models.InventoryActionReserve, models.InventoryActionRestore}
	if len(logs) != len(wantActions) {
		t.Fatalf("expected %d logs, got %d", len(wantActions), len(logs))
	}
	for i, want := range wantActions {
		if logs[i].Action != want {
			t.Fatalf("log[%d] action=%s want %s", i, logs[i].Action, want)
		}
	}
	got, _ := e.flow.GetRequest(ctx, req.ID)
	if got.Status != models.RequestStatusPendingAccounting || got.FinalCardID != nil {
		t.Fatalf("request should still await accounting, got %+v", got)
	}

	e.deliverer.fail = nil
	if _, err = e.svc.AccountingApprove(ctx, req.ID, e.admin.ID, ptr(models.CardTypeAsia)); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
}

func TestAccountingApproveWithoutStock(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAthir, 5000, 1)

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.manager.ID, Amount: 5000, CardType: ptr(models.CardTypeAsia)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err = e.svc.AccountingApprove(ctx, req.ID, e.admin.ID, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if e.available(t, models.CardTypeAthir, 5000) != 1 {
		t.Fatalf("other type must be untouched")
	}
	pending, err := e.flow.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if pending.Status != models.RequestStatusPendingAccounting || pending.AccountingID != nil || pending.ApproverID != nil {
		t.Fatalf("failed approval must leave no accounting actor, got %+v", pending)
	}
	res, err := e.svc.AccountingApprove(ctx, req.ID, e.admin.ID, ptr(models.CardTypeAthir))
	if err != nil {
		t.Fatalf("approve with explicit type: %v", err)
	}
	if res.Card.Type != models.CardTypeAthir {
		t.Fatalf("expected athir card, got %s", res.Card.Type)
	}
}

func TestAccountingApproveNeedsCardType(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.manager.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err = e.svc.AccountingApprove(ctx, req.ID, e.admin.ID, nil); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReleaseRequiresLinkedAccount(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAsia, 5000, 1)

	asia := models.CardTypeAsia
	unlinked := e.createUser(t, directory.CreateUserParams{FullName: "Unlinked", Phone: "0799", Role: models.UserRoleUser, ManagerID: e.manager.ID, LineType: &asia}, 0)
	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: unlinked.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err = e.svc.ManagerApprove(ctx, req.ID, e.manager.ID); err != nil {
		t.Fatalf("manager approve: %v", err)
	}
	if _, err = e.svc.AccountingApprove(ctx, req.ID, e.admin.ID, nil); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if e.available(t, models.CardTypeAsia, 5000) != 1 {
		t.Fatalf("no card should be reserved")
	}
}

func TestManagerSendFastPath(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAthir, 10000, 1)

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.directee.ID, Amount: 10000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := e.svc.ManagerSend(ctx, req.ID, e.direct.ID)
	if err != nil {
		t.Fatalf("manager send: %v", err)
	}
	if res.Card.Type != models.CardTypeAthir {
		t.Fatalf("expected fallback to stocked type, got %s", res.Card.Type)
	}
	history, _ := e.flow.History(ctx, req.ID)
	last := history[len(history)-1]
	if last.FromStatus == nil || *last.FromStatus != models.RequestStatusPendingManager || last.ToStatus != models.RequestStatusApproved {
		t.Fatalf("expected pending_manager -> approved, got %v -> %s", last.FromStatus, last.ToStatus)
	}
	if res.Request.ApproverID == nil || *res.Request.ApproverID != e.direct.ID {
		t.Fatalf("expected manager as approver, got %v", res.Request.ApproverID)
	}
}

func TestManagerSendRequiresDirectPermission(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAsia, 5000, 1)

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.member.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err = e.svc.ManagerSend(ctx, req.ID, e.manager.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if e.available(t, models.CardTypeAsia, 5000) != 1 {
		t.Fatalf("no card should be reserved")
	}
}

func TestManagerDecisionsCheckAssignmentAndState(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.member.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err = e.svc.ManagerApprove(ctx, req.ID, e.direct.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for another manager, got %v", err)
	}
	rejected, err := e.svc.ManagerReject(ctx, req.ID, e.manager.ID, "over budget")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != models.RequestStatusRejected || rejected.Reason != "over budget" {
		t.Fatalf("unexpected rejected request %+v", rejected)
	}
	if _, err = e.svc.ManagerApprove(ctx, req.ID, e.manager.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state after rejection, got %v", err)
	}
	if len(e.notifier.ofKind(notify.EventRequestRejected)) != 1 {
		t.Fatalf("expected rejection notification")
	}
}

func TestAccountingDecisionsRequireAdmin(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()

	pending, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.member.ID, Amount: 5000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err = e.svc.AccountingApprove(ctx, pending.ID, e.admin.ID, nil); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state before manager decision, got %v", err)
	}
	if _, err = e.svc.ManagerApprove(ctx, pending.ID, e.manager.ID); err != nil {
		t.Fatalf("manager approve: %v", err)
	}
	if _, err = e.svc.AccountingReject(ctx, pending.ID, e.manager.ID, "no"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
	rejected, err := e.svc.AccountingReject(ctx, pending.ID, e.admin.ID, "duplicate")
	if err != nil {
		t.Fatalf("accounting reject: %v", err)
	}
	if rejected.AccountingID == nil || *rejected.AccountingID != e.admin.ID || rejected.Reason != "duplicate" {
		t.Fatalf("unexpected rejected request %+v", rejected)
	}
}

func TestConcurrentAccountingApproveReleasesOneCard(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAsia, 5000, 3)

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.manager.ID, Amount: 5000, CardType: ptr(models.CardTypeAsia)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errApprove := e.svc.AccountingApprove(ctx, req.ID, e.admin.ID, nil)
			errs <- errApprove
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for errApprove := range errs {
		switch {
		case errApprove == nil:
			wins++
		case errors.Is(errApprove, apperr.ErrInvalidState):
		default:
			t.Fatalf("unexpected error %v", errApprove)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one approval, got %d", wins)
	}
	if e.available(t, models.CardTypeAsia, 5000) != 2 {
		t.Fatalf("expected two cards left")
	}
	if e.deliverer.count() != 1 {
		t.Fatalf("expected one delivery, got %d", e.deliverer.count())
	}
}

func TestDirectSendByAdmin(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAsia, 2000, 2)
	other := e.createUser(t, directory.CreateUserParams{FullName: "Second admin", Phone: "0710", Role: models.UserRoleAdmin}, 110)

	res, err := e.svc.DirectSend(ctx, DirectSendParams{ActorID: e.admin.ID, TargetUserID: e.member.ID, CardType: models.CardTypeAsia, Amount: 2000})
	if err != nil {
		t.Fatalf("direct send: %v", err)
	}
	if res.Request.Status != models.RequestStatusApproved || res.Request.RequesterID != e.member.ID {
		t.Fatalf("unexpected request %+v", res.Request)
	}
	if res.Request.ApproverID == nil || *res.Request.ApproverID != e.admin.ID {
		t.Fatalf("expected admin approver, got %v", res.Request.ApproverID)
	}
	if res.Card.Status != models.CardStatusSent {
		t.Fatalf("expected sent card, got %s", res.Card.Status)
	}

	history, _ := e.flow.History(ctx, res.Request.ID)
	last := history[len(history)-1]
	if last.ToStatus != models.RequestStatusApproved || last.Note != NoteDirectSend {
		t.Fatalf("unexpected final history row %+v", last)
	}
	sentDirectly := e.notifier.ofKind(notify.EventCardSentDirectly)
	if len(sentDirectly) != 1 || len(sentDirectly[0].Recipients) != 1 || sentDirectly[0].Recipients[0] != other.ID {
		t.Fatalf("expected the other admin notified, got %+v", sentDirectly)
	}
}

func TestDirectSendPermissions(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAsia, 2000, 3)

	if _, err := e.svc.DirectSend(ctx, DirectSendParams{ActorID: e.direct.ID, TargetUserID: e.directee.ID, CardType: models.CardTypeAsia, Amount: 2000}); err != nil {
		t.Fatalf("direct responsible to own member: %v", err)
	}
	if _, err := e.svc.DirectSend(ctx, DirectSendParams{ActorID: e.direct.ID, TargetUserID: e.member.ID, CardType: models.CardTypeAsia, Amount: 2000}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for foreign member, got %v", err)
	}
	if _, err := e.svc.DirectSend(ctx, DirectSendParams{ActorID: e.manager.ID, TargetUserID: e.member.ID, CardType: models.CardTypeAsia, Amount: 2000}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden without direct permission, got %v", err)
	}
	if _, err := e.svc.DirectSend(ctx, DirectSendParams{ActorID: e.member.ID, TargetUserID: e.member.ID, CardType: models.CardTypeAsia, Amount: 2000}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for plain user, got %v", err)
	}
	if e.available(t, models.CardTypeAsia, 2000) != 2 {
		t.Fatalf("expected two cards left")
	}
}

func TestDirectSendGate(t *testing.T) {
	e := setupService(t, WithDirectSendGate(func() bool { return false }))
	e.addCards(t, models.CardTypeAsia, 2000, 1)
	_, err := e.svc.DirectSend(context.Background(), DirectSendParams{ActorID: e.admin.ID, TargetUserID: e.member.ID, CardType: models.CardTypeAsia, Amount: 2000})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestDirectSendDeliveryFailureRestores(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAsia, 2000, 1)
	e.deliverer.fail = errors.New("messaging down")

	if _, err := e.svc.DirectSend(ctx, DirectSendParams{ActorID: e.admin.ID, TargetUserID: e.member.ID, CardType: models.CardTypeAsia, Amount: 2000}); err == nil {
		t.Fatalf("expected failure")
	}
	if e.available(t, models.CardTypeAsia, 2000) != 1 {
		t.Fatalf("card should be available again")
	}
	var count int64
	e.conn.Model(&models.RechargeRequest{}).Count(&count)
	if count != 0 {
		t.Fatalf("no request should be recorded, got %d", count)
	}
}

func TestThresholdAlertAfterRelease(t *testing.T) {
	e := setupService(t, WithThreshold(func() int64 { return 1 }))
	ctx := context.Background()
	e.addCards(t, models.CardTypeAsia, 5000, 3)
	other := e.createUser(t, directory.CreateUserParams{FullName: "Second admin", Phone: "0710", Role: models.UserRoleAdmin}, 110)

	if _, err := e.svc.DirectSend(ctx, DirectSendParams{ActorID: e.admin.ID, TargetUserID: e.member.ID, CardType: models.CardTypeAsia, Amount: 5000}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if len(e.notifier.ofKind(notify.EventInventoryLow)) != 0 {
		t.Fatalf("no alert expected with two cards left")
	}
	res, err := e.svc.DirectSend(ctx, DirectSendParams{ActorID: e.admin.ID, TargetUserID: e.member.ID, CardType: models.CardTypeAsia, Amount: 5000})
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	alerts := e.notifier.ofKind(notify.EventInventoryLow)
	if len(alerts) != 1 || alerts[0].Remaining == nil || *alerts[0].Remaining != 1 {
		t.Fatalf("expected one low-stock alert with 1 remaining, got %+v", alerts)
	}
	if len(alerts[0].Recipients) != 1 || alerts[0].Recipients[0] != other.ID {
		t.Fatalf("expected only the other admin alerted, got %v", alerts[0].Recipients)
	}
	logs, err := e.ledger.CardLogs(ctx, res.Card.ID)
	if err != nil {
		t.Fatalf("card logs: %v", err)
	}
	if logs[len(logs)-1].Action != models.InventoryActionThresholdAlert {
		t.Fatalf("expected threshold alert logged on the sent card, got %s", logs[len(logs)-1].Action)
	}
}

// nestingDeliverer runs hook once, before recording its first delivery.
type nestingDeliverer struct {
	fakeDeliverer
	once sync.Once
	hook func()
}

func (n *nestingDeliverer) Deliver(ctx context.Context, d notify.Delivery) error {
	n.once.Do(n.hook)
	return n.fakeDeliverer.Deliver(ctx, d)
}

func TestSecondInstanceCannotReleaseClaimedRequest(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	cards := e.addCards(t, models.CardTypeAsia, 5000, 3)

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.manager.ID, Amount: 5000, CardType: ptr(models.CardTypeAsia)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	threshold := WithThreshold(func() int64 { return 0 })
	rivalDeliverer := &fakeDeliverer{}
	rival := New(e.ledger, e.flow, e.dir, rivalDeliverer, e.notifier, e.logger, threshold)
	var rivalErr error
	first := &nestingDeliverer{hook: func() {
		_, rivalErr = rival.AccountingApprove(ctx, req.ID, e.admin.ID, nil)
	}}
	svc := New(e.ledger, e.flow, e.dir, first, e.notifier, e.logger, threshold)

	res, err := svc.AccountingApprove(ctx, req.ID, e.admin.ID, nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !errors.Is(rivalErr, apperr.ErrInvalidState) {
		t.Fatalf("expected the second instance to see invalid state, got %v", rivalErr)
	}
	if rivalDeliverer.count() != 0 || first.count() != 1 {
		t.Fatalf("expected one delivery, got first=%d rival=%d", first.count(), rivalDeliverer.count())
	}
	if res.Card.ID != cards[0].ID || res.Request.FinalCardID == nil || *res.Request.FinalCardID != cards[0].ID {
		t.Fatalf("expected the first card released, got card=%d request=%+v", res.Card.ID, res.Request)
	}
	if e.available(t, models.CardTypeAsia, 5000) != 2 {
		t.Fatalf("the rival's card should be back in stock")
	}
	logs, err := e.ledger.CardLogs(ctx, cards[1].ID)
	if err != nil {
		t.Fatalf("card logs: %v", err)
	}
	wantActions := []models.InventoryAction{models.InventoryActionAdd, models.InventoryActionReserve, models.InventoryActionRestore}
	if len(logs) != len(wantActions) {
		t.Fatalf("expected %d logs on the rival's card, got %d", len(wantActions), len(logs))
	}
	for i, want := range wantActions {
		if logs[i].Action != want {
			t.Fatalf("log[%d] action=%s want %s", i, logs[i].Action, want)
		}
	}
}

func TestRejectWhileCardClaimedFails(t *testing.T) {
	e := setupService(t)
	ctx := context.Background()
	e.addCards(t, models.CardTypeAsia, 5000, 1)

	req, err := e.svc.Submit(ctx, SubmitParams{RequesterID: e.manager.ID, Amount: 5000, CardType: ptr(models.CardTypeAsia)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	rival := New(e.ledger, e.flow, e.dir, e.deliverer, e.notifier, e.logger)
	var rejectErr error
	first := &nestingDeliverer{hook: func() {
		_, rejectErr = rival.AccountingReject(ctx, req.ID, e.admin.ID, "late")
	}}
	svc := New(e.ledger, e.flow, e.dir, first, e.notifier, e.logger, WithThreshold(func() int64 { return 0 }))

	res, err := svc.AccountingApprove(ctx, req.ID, e.admin.ID, nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !errors.Is(rejectErr, apperr.ErrInvalidState) {
		t.Fatalf("expected reject to fail while the card is claimed, got %v", rejectErr)
	}
	if res.Request.Status != models.RequestStatusApproved || res.Request.Reason != "" {
		t.Fatalf("unexpected request %+v", res.Request)
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int
		peak    int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := k.Lock(7)
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()
			mu.Lock()
			running--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected serialized access, peak=%d", peak)
	}
	if len(k.locks) != 0 {
		t.Fatalf("expected lock table drained, got %d", len(k.locks))
	}
}

func ptr[T any](v T) *T { return &v }
