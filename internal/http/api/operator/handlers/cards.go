package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rasidhq/recharge/internal/ledger"
	"github.com/rasidhq/recharge/internal/models"
)

// maxBatchCards bounds a single batch insert.
const maxBatchCards = 500

// CardHandler exposes the card inventory ledger.
type CardHandler struct {
	ledger *ledger.Ledger
}

// NewCardHandler constructs a CardHandler.
func NewCardHandler(l *ledger.Ledger) *CardHandler {
	return &CardHandler{ledger: l}
}

// addCardRequest captures one card entering inventory.
type addCardRequest struct {
	CardType     string `json:"card_type"`     // Carrier of the card.
	Amount       int64  `json:"amount"`        // Denomination.
	SerialNumber string `json:"serial_number"` // Optional unique serial.
	ImageFileID  string `json:"image_file_id"` // Messaging platform file reference.
	ImagePath    string `json:"image_path"`    // Local image path.
	Note         string `json:"note"`          // Optional audit note.
}

func (r addCardRequest) params(actorID uint64) ledger.AddCardParams {
	return ledger.AddCardParams{
		Type:         models.CardType(strings.ToLower(strings.TrimSpace(r.CardType))),
		Amount:       r.Amount,
		ActorID:      actorID,
		ImageFileID:  r.ImageFileID,
		ImagePath:    r.ImagePath,
		SerialNumber: r.SerialNumber,
		Note:         r.Note,
	}
}

// Create adds one card.
func (h *CardHandler) Create(c *gin.Context) {
	var body addCardRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	card, errAdd := h.ledger.AddCard(c.Request.Context(), body.params(getUserID(c)))
	if errAdd != nil {
		writeError(c, errAdd, "add card")
		return
	}
	c.JSON(http.StatusCreated, newCardDTO(card))
}

// batchCreateRequest captures several cards inserted atomically.
type batchCreateRequest struct {
	Cards []addCardRequest `json:"cards"`
}

// BatchCreate adds several cards in one transaction.
func (h *CardHandler) BatchCreate(c *gin.Context) {
	var body batchCreateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Cards) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing cards"})
		return
	}
	if len(body.Cards) > maxBatchCards {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many cards, max " + strconv.Itoa(maxBatchCards)})
		return
	}
	actorID := getUserID(c)
	batch := make([]ledger.AddCardParams, 0, len(body.Cards))
	for _, item := range body.Cards {
		batch = append(batch, item.params(actorID))
	}
	cards, errAdd := h.ledger.AddCards(c.Request.Context(), batch)
	if errAdd != nil {
		writeError(c, errAdd, "add cards")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cards": newCardDTOs(cards)})
}

// Summary returns AVAILABLE counts grouped by type and amount.
func (h *CardHandler) Summary(c *gin.Context) {
	summary, errSummary := h.ledger.AvailableSummary(c.Request.Context())
	if errSummary != nil {
		writeError(c, errSummary, "inventory summary")
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "total": summary.Total()})
}

// Count returns the AVAILABLE count for one type and amount.
func (h *CardHandler) Count(c *gin.Context) {
	cardType, errType := models.ParseCardType(c.Query("card_type"))
	if errType != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card_type"})
		return
	}
	amount, errAmount := strconv.ParseInt(strings.TrimSpace(c.Query("amount")), 10, 64)
	if errAmount != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	count, errCount := h.ledger.CountAvailable(c.Request.Context(), cardType, amount)
	if errCount != nil {
		writeError(c, errCount, "count cards")
		return
	}
	c.JSON(http.StatusOK, gin.H{"card_type": cardType, "amount": amount, "available": count})
}

// Available lists AVAILABLE cards oldest first.
func (h *CardHandler) Available(c *gin.Context) {
	cardType, errType := parseOptionalCardType(c.Query("card_type"))
	if errType != nil {
		writeError(c, errType, "list cards")
		return
	}
	cards, errList := h.ledger.ListAvailable(c.Request.Context(), cardType, parseLimit(c, 50, 500))
	if errList != nil {
		writeError(c, errList, "list cards")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": newCardDTOs(cards)})
}

// Types lists the card types with stock for an amount.
func (h *CardHandler) Types(c *gin.Context) {
	amount, errAmount := strconv.ParseInt(strings.TrimSpace(c.Query("amount")), 10, 64)
	if errAmount != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	types, errTypes := h.ledger.AvailableTypes(c.Request.Context(), amount)
	if errTypes != nil {
		writeError(c, errTypes, "available types")
		return
	}
	c.JSON(http.StatusOK, gin.H{"amount": amount, "card_types": types})
}

// Denominations returns the menu amounts per card type.
func (h *CardHandler) Denominations(c *gin.Context) {
	out := make(map[models.CardType][]int64, len(models.CardTypes))
	for _, t := range models.CardTypes {
		out[t] = ledger.Denominations(t)
	}
	c.JSON(http.StatusOK, gin.H{"denominations": out})
}

// Get returns one card.
func (h *CardHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	card, errGet := h.ledger.GetCard(c.Request.Context(), id)
	if errGet != nil {
		writeError(c, errGet, "get card")
		return
	}
	c.JSON(http.StatusOK, newCardDTO(card))
}

// Logs returns the audit trail of one card.
func (h *CardHandler) Logs(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rows, errLogs := h.ledger.CardLogs(c.Request.Context(), id)
	if errLogs != nil {
		writeError(c, errLogs, "card logs")
		return
	}
	out := make([]cardLogDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, cardLogDTO{
			ID:        row.ID,
			CardID:    row.CardID,
			ActorID:   row.ActorID,
			Action:    row.Action,
			Note:      row.Note,
			CreatedAt: row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

type archiveCardRequest struct {
	Note string `json:"note"`
}

// Archive retires a card from circulation.
func (h *CardHandler) Archive(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body archiveCardRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	card, errArchive := h.ledger.ArchiveCard(c.Request.Context(), id, getUserID(c), strings.TrimSpace(body.Note))
	if errArchive != nil {
		writeError(c, errArchive, "archive card")
		return
	}
	c.JSON(http.StatusOK, newCardDTO(card))
}

// Reserve holds a specific card.
func (h *CardHandler) Reserve(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	card, errReserve := h.ledger.ReserveCard(c.Request.Context(), id, getUserID(c))
	if errReserve != nil {
		writeError(c, errReserve, "reserve card")
		return
	}
	c.JSON(http.StatusOK, newCardDTO(card))
}

// Restore returns a reserved card to stock.
func (h *CardHandler) Restore(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	card, errRestore := h.ledger.RestoreCard(c.Request.Context(), id, getUserID(c))
	if errRestore != nil {
		writeError(c, errRestore, "restore card")
		return
	}
	c.JSON(http.StatusOK, newCardDTO(card))
}
