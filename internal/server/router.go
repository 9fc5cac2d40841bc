package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/drawr/internal/auth"
	"github.com/MarcoPoloResearchLab/drawr/internal/protocol"
	"github.com/MarcoPoloResearchLab/drawr/internal/rooms"
	"github.com/MarcoPoloResearchLab/drawr/internal/shapes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const claimsContextKey = "drawr_session_claims"

var (
	errMissingValidator     = errors.New("session validator dependency required")
	errMissingRoomsService  = errors.New("rooms service dependency required")
	errMissingRoomHub       = errors.New("room hub dependency required")
	errInvalidAuthorization = errors.New("authorization missing or invalid")
)

// SessionValidator authenticates relay requests.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

type Dependencies struct {
	Validator SessionValidator
	Rooms     *rooms.Service
	Hub       *RoomHub
	Logger    *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Validator == nil {
		return nil, errMissingValidator
	}
	if deps.Rooms == nil {
		return nil, errMissingRoomsService
	}
	if deps.Hub == nil {
		return nil, errMissingRoomHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		validator: deps.Validator,
		rooms:     deps.Rooms,
		hub:       deps.Hub,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/room/:slug", handler.handleRoomBySlug)
	protected.GET("/rooms", handler.handleListRooms)
	protected.POST("/rooms", handler.handleRooms)
	protected.GET("/rooms/:roomId/shapes", handler.handleRoomShapes)
	protected.POST("/guest/convert", handler.handleGuestConvert)
	protected.POST("/drawings/import", handler.handleImportDrawings)
	protected.GET("/ws", handler.handleWebsocket)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	validator SessionValidator
	rooms     *rooms.Service
	hub       *RoomHub
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

type roomPayload struct {
	RoomID  protocol.RoomID `json:"roomId"`
	Slug    string          `json:"slug"`
	OwnerID string          `json:"ownerId,omitempty"`
}

type roomsRequestPayload struct {
	RoomID protocol.RoomID `json:"roomId"`
	Slug   string          `json:"slug"`
}

type convertRequestPayload struct {
	GuestID string `json:"guestId"`
	Slug    string `json:"slug"`
}

type convertResponsePayload struct {
	RoomID protocol.RoomID `json:"roomId"`
}

type importRequestPayload struct {
	RoomID   protocol.RoomID `json:"roomId"`
	Drawings []shapes.Shape  `json:"drawings"`
}

type importResponsePayload struct {
	Imported int `json:"imported"`
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	claims := sessionClaims(c)
	list, err := h.rooms.ListRoomsForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]roomPayload, 0, len(list))
	for _, room := range list {
		response = append(response, toRoomPayload(room))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleRoomBySlug(c *gin.Context) {
	room, err := h.rooms.RoomBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomPayload(room))
}

// handleRooms joins an existing room when roomId is set and creates one from slug otherwise.
func (h *httpHandler) handleRooms(c *gin.Context) {
	claims := sessionClaims(c)
	var request roomsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if request.RoomID != 0 {
		if err := h.rooms.EnsureMembership(c.Request.Context(), request.RoomID.Int64(), claims.UserID); err != nil {
			h.respondError(c, err)
			return
		}
		room, err := h.rooms.RoomByID(c.Request.Context(), request.RoomID.Int64())
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, toRoomPayload(room))
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), request.Slug, claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRoomPayload(room))
}

func (h *httpHandler) handleRoomShapes(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("roomId"), 10, 64)
	if err != nil || roomID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_room_id"})
		return
	}
	if _, err := h.rooms.RoomByID(c.Request.Context(), roomID); err != nil {
		h.respondError(c, err)
		return
	}
	list, err := h.rooms.ListShapes(c.Request.Context(), roomID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *httpHandler) handleGuestConvert(c *gin.Context) {
	claims := sessionClaims(c)
	var request convertRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	room, err := h.rooms.ConvertGuestRoom(c.Request.Context(), request.GuestID, request.Slug, claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convertResponsePayload{RoomID: protocol.RoomID(room.ID)})
}

// handleImportDrawings appends the drawings and relays each one to members already in the room.
func (h *httpHandler) handleImportDrawings(c *gin.Context) {
	claims := sessionClaims(c)
	var request importRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.RoomID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	imported, err := h.rooms.ImportDrawings(c.Request.Context(), request.RoomID.Int64(), claims.UserID, request.Drawings)
	if err != nil {
		h.respondError(c, err)
		return
	}
	for _, drawing := range request.Drawings {
		frame, err := protocol.EncodeChat(request.RoomID, drawing)
		if err != nil {
			continue
		}
		h.hub.Broadcast(request.RoomID.Int64(), nil, frame)
	}
	c.JSON(http.StatusOK, importResponsePayload{Imported: imported})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.validator.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(claimsContextKey, claims)
	c.Next()
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
	case errors.Is(err, rooms.ErrSlugTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "slug_taken"})
	case errors.Is(err, rooms.ErrInvalidSlug), errors.Is(err, rooms.ErrInvalidUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, shapes.ErrMissingGeometry), errors.Is(err, shapes.ErrEmptyPencil), errors.Is(err, shapes.ErrUnknownKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_shape"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func sessionClaims(c *gin.Context) auth.SessionClaims {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return auth.SessionClaims{}
	}
	claims, _ := value.(auth.SessionClaims)
	return claims
}

func toRoomPayload(room rooms.Room) roomPayload {
	return roomPayload{
		RoomID:  protocol.RoomID(room.ID),
		Slug:    room.Slug,
		OwnerID: strings.TrimSpace(room.OwnerID),
	}
}
