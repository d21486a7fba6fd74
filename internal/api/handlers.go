package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"vpn-subscription-backend/internal/auth"
	"vpn-subscription-backend/internal/db"
	"vpn-subscription-backend/internal/logger"
	"vpn-subscription-backend/internal/subscription"
	"vpn-subscription-backend/internal/vless"
)

type SubscriptionService interface {
	SummaryForUser(ctx context.Context, user *db.User) (subscription.Summary, error)
	SummaryByTgID(ctx context.Context, tgID int64) (subscription.Summary, error)
}

type PayloadBuilder interface {
	Build(ctx context.Context, token string) (string, error)
}

type ServerStore interface {
	List(ctx context.Context) ([]db.Server, error)
	Get(ctx context.Context, id uint) (*db.Server, error)
	Create(ctx context.Context, server *db.Server) error
	Update(ctx context.Context, id uint, patch db.ServerPatch) (*db.Server, error)
	Delete(ctx context.Context, id uint) error
}

type PayloadObserver interface {
	ObservePayload(result string)
}

// probeUUID подставляется вместо id клиента при проверке, что сервер рендерится.
const probeUUID = "00000000-0000-0000-0000-000000000000"

type Handler struct {
	authenticator Authenticator
	subs          SubscriptionService
	payloads      PayloadBuilder
	servers       ServerStore
	validate      *validator.Validate
	observer      PayloadObserver
	authObserver  AuthObserver
	log           *zap.Logger
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Payload обрабатывает GET /sub/:token.
func (h *Handler) Payload(c *gin.Context) {
	token := c.Param("token")
	body, err := h.payloads.Build(c.Request.Context(), token)
	if err != nil {
		h.observePayload(err)
		status, _ := statusFor(err)
		if status == http.StatusInternalServerError {
			h.log.Error("payload build failed",
				zap.String("token_prefix", logger.TokenPrefix(token)),
				zap.Error(err))
		}
		abortWithError(c, err)
		return
	}
	h.observePayload(nil)
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
}

func (h *Handler) observePayload(err error) {
	if h.observer == nil {
		return
	}
	switch {
	case err == nil:
		h.observer.ObservePayload("ok")
	case errors.Is(err, subscription.ErrSubscriptionUnavailable):
		h.observer.ObservePayload("unavailable")
	case errors.Is(err, subscription.ErrNoActiveServers):
		h.observer.ObservePayload("no_servers")
	case vless.IsConfigError(err):
		h.observer.ObservePayload("config_error")
	default:
		h.observer.ObservePayload("error")
	}
}

type authRequest struct {
	InitData string `json:"initData"`
}

type authResponse struct {
	TgID int64  `json:"tg_id"`
	Role string `json:"role"`
}

// AuthTelegram обрабатывает POST /api/auth/telegram.
func (h *Handler) AuthTelegram(c *gin.Context) {
	var req authRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		err := &auth.AuthError{Reason: auth.ReasonMalformed}
		observeAuth(h.authObserver, err)
		abortWithError(c, err)
		return
	}
	result, err := h.authenticator.Authenticate(c.Request.Context(), req.InitData)
	observeAuth(h.authObserver, err)
	if err != nil {
		if auth.IsAuthError(err) {
			h.log.Warn("telegram auth rejected", zap.Error(err))
		} else {
			h.log.Error("telegram auth failed", zap.Error(err))
		}
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{TgID: result.User.TgID, Role: result.Role})
}

// MySubscription обрабатывает GET /api/me/subscription.
func (h *Handler) MySubscription(c *gin.Context) {
	result := authResult(c)
	summary, err := h.subs.SummaryForUser(c.Request.Context(), &result.User)
	if err != nil {
		h.log.Error("subscription summary failed", zap.Int64("tg_id", result.User.TgID), zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type botSubscriptionRequest struct {
	TgID int64 `json:"tg_id" validate:"required"`
}

// BotSubscription обрабатывает POST /api/bot/subscription.
func (h *Handler) BotSubscription(c *gin.Context) {
	var req botSubscriptionRequest
	if err := h.bind(c, &req); err != nil {
		abortWithError(c, err)
		return
	}
	summary, err := h.subs.SummaryByTgID(c.Request.Context(), req.TgID)
	if err != nil {
		h.log.Error("subscription summary failed", zap.Int64("tg_id", req.TgID), zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type serverRequest struct {
	CountryCode string  `json:"country_code" validate:"required,max=8"`
	Name        *string `json:"name" validate:"omitempty,max=255"`
	Host        string  `json:"host" validate:"required"`
	Port        int     `json:"port" validate:"required,min=1,max=65535"`
	Protocol    string  `json:"protocol" validate:"omitempty,eq=vless"`
	Network     string  `json:"network" validate:"required,oneof=tcp ws xhttp"`
	PublicKey   string  `json:"public_key" validate:"required"`
	SNI         *string `json:"sni"`
	ShortID     string  `json:"short_id"`
	Enabled     *bool   `json:"enabled"`
	InboundID   *int    `json:"inbound_id" validate:"omitempty,min=1"`
}

func (r serverRequest) toServer() db.Server {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return db.Server{
		CountryCode: r.CountryCode,
		Name:        r.Name,
		Host:        r.Host,
		Port:        r.Port,
		Protocol:    r.Protocol,
		Network:     r.Network,
		PublicKey:   r.PublicKey,
		SNI:         r.SNI,
		ShortID:     r.ShortID,
		Enabled:     enabled,
		InboundID:   r.InboundID,
	}
}

func (h *Handler) ListServers(c *gin.Context) {
	servers, err := h.servers.List(c.Request.Context())
	if err != nil {
		h.log.Error("list servers failed", zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (h *Handler) CreateServer(c *gin.Context) {
	var req serverRequest
	if err := h.bind(c, &req); err != nil {
		abortWithError(c, err)
		return
	}
	server := req.toServer()
	if server.Protocol == "" {
		server.Protocol = db.ProtocolVLESS
	}
	if err := checkRenderable(server); err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.servers.Create(c.Request.Context(), &server); err != nil {
		h.log.Error("create server failed", zap.Error(err))
		abortWithError(c, err)
		return
	}
	h.logAdmin(c, "create_server", fmt.Sprintf("id=%d host=%s", server.ID, server.Host))
	c.JSON(http.StatusCreated, server)
}

// UpdateServer обрабатывает PUT и PATCH: меняются только переданные поля.
func (h *Handler) UpdateServer(c *gin.Context) {
	id, err := serverID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	var patch db.ServerPatch
	if err := h.bind(c, &patch); err != nil {
		abortWithError(c, err)
		return
	}
	current, err := h.servers.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := checkRenderable(patch.Apply(*current)); err != nil {
		abortWithError(c, err)
		return
	}
	updated, err := h.servers.Update(c.Request.Context(), id, patch)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.log.Error("update server failed", zap.Uint("server_id", id), zap.Error(err))
		}
		abortWithError(c, err)
		return
	}
	h.logAdmin(c, "update_server", fmt.Sprintf("id=%d", id))
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteServer(c *gin.Context) {
	id, err := serverID(c)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.servers.Delete(c.Request.Context(), id); err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.log.Error("delete server failed", zap.Uint("server_id", id), zap.Error(err))
		}
		abortWithError(c, err)
		return
	}
	h.logAdmin(c, "delete_server", fmt.Sprintf("id=%d", id))
	c.Status(http.StatusNoContent)
}

func (h *Handler) bind(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return h.validate.Struct(dst)
}

func (h *Handler) logAdmin(c *gin.Context, action, params string) {
	if result := authResult(c); result != nil {
		logger.LogAdminAction(h.log, result.User.TgID, action, params)
	}
}

// checkRenderable отклоняет включённый сервер, для которого нельзя собрать ссылку.
func checkRenderable(server db.Server) error {
	if !server.Enabled {
		return nil
	}
	if _, err := vless.BuildURI(server, probeUUID); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

func serverID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad server id", errInvalidRequest)
	}
	return uint(id), nil
}
