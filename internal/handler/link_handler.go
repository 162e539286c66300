// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/moolawar/moolabot/internal/middleware"
	"github.com/moolawar/moolabot/internal/model"
)

// LinkServiceInterface は連携ハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	// Redeem はトークンを消費してDiscordアカウントとアドレスを紐付け、
	// 紐付けられたDiscord IDを返す。
	Redeem(ctx context.Context, tokenValue, address string) (string, error)
}

// linkRequest はPOST /api/linkのリクエストボディ。
type linkRequest struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

// linkResponse はPOST /api/linkの成功レスポンス。
type linkResponse struct {
	DiscordID string `json:"discord_id"`
	Address   string `json:"address"`
}

// LinkHandler はアカウント連携のHTTPハンドラー。
type LinkHandler struct {
	service LinkServiceInterface
}

// NewLinkHandler はLinkHandlerを生成する。
func NewLinkHandler(service LinkServiceInterface) *LinkHandler {
	return &LinkHandler{
		service: service,
	}
}

// Redeem は連携トークンを消費してアドレスを紐付ける。
// POST /api/link
func (h *LinkHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidArgumentError("request body must be valid JSON"))
		return
	}

	discordID, err := h.service.Redeem(r.Context(), req.Token, req.Address)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(linkResponse{
		DiscordID: discordID,
		Address:   req.Address,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNotFound, model.ErrCodeTokenNotFound:
		return http.StatusNotFound
	case model.ErrCodeTokenUsed, model.ErrCodeAlreadyLinked:
		return http.StatusConflict
	case model.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case model.ErrCodeInsufficientFunds:
		return http.StatusConflict
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeExternalProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
