package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Suraj08832/collabstudy/export"
	"github.com/Suraj08832/collabstudy/models"
	"github.com/Suraj08832/collabstudy/service"
	"github.com/Suraj08832/collabstudy/store"
)

// Kicker closes a participant's live connections on this instance.
type Kicker interface {
	Kick(participantId string)
}

type Handler struct {
	Service *service.Service
	Kicker  Kicker
}

func NewHandler(svc *service.Service, kicker Kicker) *Handler {
	return &Handler{Service: svc, Kicker: kicker}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) HandleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

type roomsResponse struct {
	Rooms []models.RoomInfo `json:"rooms"`
}

func (h *Handler) HandleListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, roomsResponse{Rooms: h.Service.ListRooms(c.Request.Context())})
}

func (h *Handler) HandleSnapshot(c *gin.Context) {
	snap, ok := h.Service.Relay.Snapshot(c.Param("roomId"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "room is not live on this relay"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) HandleExportPDF(c *gin.Context) {
	roomId := c.Param("roomId")
	snap, ok := h.Service.Relay.Snapshot(roomId)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "room is not live on this relay"})
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="`+sanitizeFilename(roomId)+`.pdf"`)
	c.Status(http.StatusOK)
	if err := export.WritePDF(c.Writer, snap); err != nil {
		log.Error().Str("module", "api.rest").Str("roomId", roomId).Err(err).Msg("pdf export failed")
	}
}

func (h *Handler) HandleStats(c *gin.Context) {
	stats, err := h.Service.GetRoomStats(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		log.Error().Str("module", "api.rest").Err(err).Msg("get room stats failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) HandleArchivedEvents(c *gin.Context) {
	q := service.ArchiveQuery{
		RoomId: c.Param("roomId"),
		Epoch:  c.Query("epoch"),
	}

	if s := c.Query("after"); s != "" {
		after, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid after"})
			return
		}
		q.After = after
	}
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		q.Limit = limit
	}

	page, err := h.Service.GetArchivedEvents(c.Request.Context(), q)
	if errors.Is(err, store.ErrItemNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no archive for room"})
		return
	}
	if err != nil {
		log.Error().Str("module", "api.rest").Err(err).Msg("get archived events failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, page)
}

type tokenResponse struct {
	ParticipantId string `json:"participantId"`
	Token         string `json:"token"`
}

// HandleDevToken issues a token for a fresh participant. It is only routed in
// dev mode.
func (h *Handler) HandleDevToken(c *gin.Context) {
	participantId, token, err := h.Service.IssueDevToken()
	if err != nil {
		c.JSON(http.StatusForbidden, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, tokenResponse{ParticipantId: participantId, Token: token})
}

type revokeResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) HandleRevoke(c *gin.Context) {
	token := getTokenFromAuthHeader(c.Request)
	participantId, err := h.Service.AuthenticateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		return
	}
	_, expiry, err := h.Service.VerifyJWT(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		return
	}

	if err := h.Service.RevokeParticipant(c.Request.Context(), participantId, expiry); err != nil {
		log.Error().Str("module", "api.rest").Str("participant", participantId).Err(err).Msg("revoke failed")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to revoke"})
		return
	}
	if h.Kicker != nil {
		h.Kicker.Kick(participantId)
	}
	c.JSON(http.StatusOK, revokeResponse{Success: true})
}

func getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
