package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/http/dto"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/middleware"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/models"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/wallet"
	"go.uber.org/zap"
)

type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	UpdateWallet(ctx context.Context, id uuid.UUID, address string) error
}

type SignerSource interface {
	Signer(userID uuid.UUID) wallet.Signer
	Connected(userID uuid.UUID) bool
}

// Sessions builds the wallet session of the acting user from the address
// stored on their profile and the signing bridge.
type Sessions struct {
	profiles ProfileStore
	signers  SignerSource
}

func NewSessions(profiles ProfileStore, signers SignerSource) *Sessions {
	return &Sessions{profiles: profiles, signers: signers}
}

// For returns a session without an address when the user has no profile or
// no wallet; the coordinator then refuses with a wallet error.
func (s *Sessions) For(ctx context.Context, userID uuid.UUID) (wallet.Session, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return wallet.NewSession(userID, "", s.signers.Signer(userID)), nil
		}
		return wallet.Session{}, err
	}
	addr := ""
	if p.WalletAddress != nil {
		addr = *p.WalletAddress
	}
	return wallet.NewSession(userID, addr, s.signers.Signer(userID)), nil
}

type WalletHandler struct {
	profiles ProfileStore
	signers  SignerSource
	log      *zap.Logger
}

func NewWalletHandler(profiles ProfileStore, signers SignerSource, log *zap.Logger) *WalletHandler {
	return &WalletHandler{profiles: profiles, signers: signers, log: log}
}

type walletState struct {
	Address    *string `json:"address"`
	SocketOpen bool    `json:"socket_open"`
	CanSign    bool    `json:"can_sign"`
}

// GetWallet reports the stored address and whether a signing socket is open.
// GET /me/wallet
func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	p, err := h.profiles.GetByID(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "profile not found")
		}
		return fail(c, fiber.StatusInternalServerError, "internal error")
	}
	open := h.signers.Connected(userID)
	return c.JSON(dto.SuccessResponse{OK: true, Data: walletState{
		Address:    p.WalletAddress,
		SocketOpen: open,
		CanSign:    open && p.WalletAddress != nil,
	}})
}

// ConnectWallet stores the Stellar address the browser wallet reported.
// PUT /me/wallet
func (h *WalletHandler) ConnectWallet(c *fiber.Ctx) error {
	var req dto.ConnectWalletRequest
	if err := bind(c, &req); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	userID := middleware.GetUserID(c)
	if err := h.profiles.UpdateWallet(c.UserContext(), userID, req.Address); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "profile not found")
		}
		h.log.Error("wallet update failed", zap.String("user_id", userID.String()), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "failed to connect wallet")
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"address": req.Address}})
}

// DisconnectWallet clears the stored address.
// DELETE /me/wallet
func (h *WalletHandler) DisconnectWallet(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if err := h.profiles.UpdateWallet(c.UserContext(), userID, ""); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		h.log.Error("wallet clear failed", zap.String("user_id", userID.String()), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "failed to disconnect wallet")
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
