package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/crestfund/crestfund/internal/wallet"
)

// RegisterWalletRoutes wires balance, transfer, and lock endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, transferLimit fiber.Handler) {
	r.Get("/wallets/balances", h.Balances)
	r.Get("/wallets/balances/:walletType", h.Balance)
	r.Get("/transfers", h.History)
	r.Post("/transfers/validate", h.Validate)
	r.Post("/transfers", transferLimit, h.Transfer)
	r.Post("/wallets/:walletType/lock", h.Lock)
	r.Post("/wallets/:walletType/unlock", h.Unlock)
}
