package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/apperr"
	"github.com/rasidhq/recharge/internal/approval"
	"github.com/rasidhq/recharge/internal/models"
	"github.com/rasidhq/recharge/internal/workflow"
)

// RequestHandler exposes the recharge request flows.
type RequestHandler struct {
	flow     *workflow.Workflow
	approval *approval.Service
}

// NewRequestHandler constructs a RequestHandler.
func NewRequestHandler(flow *workflow.Workflow, svc *approval.Service) *RequestHandler {
	return &RequestHandler{flow: flow, approval: svc}
}

// submitRequest captures a recharge request raised by the acting user.
type submitRequest struct {
	Amount      int64  `json:"amount"`       // Requested denomination.
	RequestType string `json:"request_type"` // Optional, fixed or custom.
	CardType    string `json:"card_type"`    // Optional, defaults to the line type.
}

// Submit creates a request for the acting user.
func (h *RequestHandler) Submit(c *gin.Context) {
	var body submitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	params := approval.SubmitParams{RequesterID: getUserID(c), Amount: body.Amount}
	if raw := strings.TrimSpace(body.RequestType); raw != "" {
		reqType, errType := models.ParseRequestType(raw)
		if errType != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request_type"})
			return
		}
		params.Type = reqType
	}
	cardType, errCardType := parseOptionalCardType(body.CardType)
	if errCardType != nil {
		writeError(c, errCardType, "submit request")
		return
	}
	params.CardType = cardType

	req, errSubmit := h.approval.Submit(c.Request.Context(), params)
	if errSubmit != nil {
		writeError(c, errSubmit, "submit request")
		return
	}
	c.JSON(http.StatusCreated, newRequestDTO(req))
}

// List returns requests visible to the acting user, newest first. Admins may filter
// freely; responsibles see their team (scope=team, default) or their own (scope=mine);
// users see their own.
func (h *RequestHandler) List(c *gin.Context) {
	filter := workflow.ListFilter{Limit: parseLimit(c, 100, 1000)}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, errStatus := models.ParseRequestStatus(raw)
		if errStatus != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = &status
	}

	userID := getUserID(c)
	switch getUserRole(c) {
	case models.UserRoleAdmin:
		if raw := c.Query("responsible_id"); raw != "" {
			id, errParse := parseUintParam(raw)
			if errParse != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid responsible_id"})
				return
			}
			filter.ResponsibleID = id
		}
		if raw := c.Query("requester_id"); raw != "" {
			id, errParse := parseUintParam(raw)
			if errParse != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid requester_id"})
				return
			}
			filter.RequesterID = id
		}
	case models.UserRoleResponsible:
		if c.Query("scope") == "mine" {
			filter.RequesterID = userID
		} else {
			filter.ResponsibleID = userID
		}
	default:
		filter.RequesterID = userID
	}

	rows, errList := h.flow.ListRequests(c.Request.Context(), filter)
	if errList != nil {
		writeError(c, errList, "list requests")
		return
	}
	out := make([]requestDTO, 0, len(rows))
	for i := range rows {
		out = append(out, newRequestDTO(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

// Get returns one request.
func (h *RequestHandler) Get(c *gin.Context) {
	req, ok := h.visibleRequest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newRequestDTO(req))
}

// History returns the status history of one request.
func (h *RequestHandler) History(c *gin.Context) {
	req, ok := h.visibleRequest(c)
	if !ok {
		return
	}
	rows, errHistory := h.flow.History(c.Request.Context(), req.ID)
	if errHistory != nil {
		writeError(c, errHistory, "request history")
		return
	}
	out := make([]historyDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, historyDTO{
			ID:         row.ID,
			ActorID:    row.ActorID,
			FromStatus: row.FromStatus,
			ToStatus:   row.ToStatus,
			Note:       row.Note,
			CreatedAt:  row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": out})
}

// visibleRequest loads the :id request when the acting user may see it.
func (h *RequestHandler) visibleRequest(c *gin.Context) (*models.RechargeRequest, bool) {
	id, ok := pathID(c)
	if !ok {
		return nil, false
	}
	req, errGet := h.flow.GetRequest(c.Request.Context(), id)
	if errGet != nil {
		writeError(c, errGet, "get request")
		return nil, false
	}
	userID := getUserID(c)
	if getUserRole(c) == models.UserRoleAdmin || req.RequesterID == userID ||
		(req.ResponsibleID != nil && *req.ResponsibleID == userID) {
		return req, true
	}
	writeError(c, apperr.Forbidden("request %d is not visible to user %d", id, userID), "get request")
	return nil, false
}

// decisionRequest carries an optional reason and card type.
type decisionRequest struct {
	Reason   string `json:"reason"`
	CardType string `json:"card_type"`
}

func bindDecision(c *gin.Context) (decisionRequest, bool) {
	var body decisionRequest
	if c.Request.ContentLength == 0 {
		return body, true
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return body, false
	}
	body.Reason = strings.TrimSpace(body.Reason)
	return body, true
}

// ManagerApprove forwards a member's request to accounting.
func (h *RequestHandler) ManagerApprove(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	req, errApprove := h.approval.ManagerApprove(c.Request.Context(), id, getUserID(c))
	if errApprove != nil {
		writeError(c, errApprove, "approve request")
		return
	}
	c.JSON(http.StatusOK, newRequestDTO(req))
}

// ManagerReject rejects a member's request.
func (h *RequestHandler) ManagerReject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	body, ok := bindDecision(c)
	if !ok {
		return
	}
	req, errReject := h.approval.ManagerReject(c.Request.Context(), id, getUserID(c), body.Reason)
	if errReject != nil {
		writeError(c, errReject, "reject request")
		return
	}
	c.JSON(http.StatusOK, newRequestDTO(req))
}

// ManagerSend approves a member's request and releases a card immediately.
func (h *RequestHandler) ManagerSend(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, errSend := h.approval.ManagerSend(c.Request.Context(), id, getUserID(c))
	if errSend != nil {
		writeError(c, errSend, "send card")
		return
	}
	c.JSON(http.StatusOK, resultBody(res))
}

// AccountingApprove approves a request awaiting accounting and releases a card.
func (h *RequestHandler) AccountingApprove(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	body, ok := bindDecision(c)
	if !ok {
		return
	}
	cardType, errCardType := parseOptionalCardType(body.CardType)
	if errCardType != nil {
		writeError(c, errCardType, "approve request")
		return
	}
	res, errApprove := h.approval.AccountingApprove(c.Request.Context(), id, getUserID(c), cardType)
	if errApprove != nil {
		writeError(c, errApprove, "approve request")
		return
	}
	c.JSON(http.StatusOK, resultBody(res))
}

// AccountingReject rejects a request awaiting accounting.
func (h *RequestHandler) AccountingReject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	body, ok := bindDecision(c)
	if !ok {
		return
	}
	req, errReject := h.approval.AccountingReject(c.Request.Context(), id, getUserID(c), body.Reason)
	if errReject != nil {
		writeError(c, errReject, "reject request")
		return
	}
	c.JSON(http.StatusOK, newRequestDTO(req))
}

// directSendRequest captures a card sent without a prior request.
type directSendRequest struct {
	UserID   uint64 `json:"user_id"`   // Recipient.
	CardType string `json:"card_type"` // Carrier of the card.
	Amount   int64  `json:"amount"`    // Denomination.
}

// DirectSend delivers a card straight to a user.
func (h *RequestHandler) DirectSend(c *gin.Context) {
	var body directSendRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	cardType, errType := models.ParseCardType(body.CardType)
	if errType != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card_type"})
		return
	}
	res, errSend := h.approval.DirectSend(c.Request.Context(), approval.DirectSendParams{
		ActorID:      getUserID(c),
		TargetUserID: body.UserID,
		CardType:     cardType,
		Amount:       body.Amount,
	})
	if errSend != nil {
		writeError(c, errSend, "direct send")
		return
	}
	c.JSON(http.StatusCreated, resultBody(res))
}

func resultBody(res *approval.Result) gin.H {
	return gin.H{"request": newRequestDTO(res.Request), "card": newCardDTO(res.Card)}
}
