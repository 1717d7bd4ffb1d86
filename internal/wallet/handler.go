package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/crestfund/crestfund/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func authedUser(c *fiber.Ctx) (string, error) {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing user identity")
	}
	return uid, nil
}

type transferRequest struct {
	From   string          `json:"from_wallet_type"`
	To     string          `json:"to_wallet_type"`
	Amount decimal.Decimal `json:"amount"`
}

func (r transferRequest) toDomain() (TransferRequest, error) {
	from, err := ParseType(r.From)
	if err != nil {
		return TransferRequest{}, err
	}
	to, err := ParseType(r.To)
	if err != nil {
		return TransferRequest{}, err
	}
	return TransferRequest{From: from, To: to, Amount: r.Amount}, nil
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Balances returns every wallet of the authenticated user.
func (h *Handler) Balances(c *fiber.Ctx) error {
	userID, err := authedUser(c)
	if err != nil {
		return err
	}
	snap, err := h.service.Balances(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, "no wallets for user")
		}
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	wallets := make([]Wallet, 0, len(snap))
	for _, t := range Types() {
		if w, ok := snap[t]; ok {
			wallets = append(wallets, w)
		}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallets": wallets})
}

// Balance returns one wallet of the authenticated user by type.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID, err := authedUser(c)
	if err != nil {
		return err
	}
	t, err := ParseType(c.Params("walletType"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Balance(c.UserContext(), userID, t)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.Status(http.StatusOK).JSON(w)
}

// History returns the authenticated user's transfer records.
func (h *Handler) History(c *fiber.Ctx) error {
	userID, err := authedUser(c)
	if err != nil {
		return err
	}
	transfers, err := h.service.History(c.UserContext(), userID)
	if err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transfers": transfers})
}

// Validate runs the transfer validator without mutating anything, serving
// live pre-submission feedback.
func (h *Handler) Validate(c *fiber.Ctx) error {
	userID, err := authedUser(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	domainReq, err := req.toDomain()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Validate(c.UserContext(), userID, domainReq)
	if err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}

	// Optional pre-check against the authority itself, which remains the
	// final arbiter either way.
	if c.QueryBool("remote") {
		remote, err := h.service.ValidateRemote(c.UserContext(), userID, domainReq)
		if err != nil {
			return fiber.NewError(http.StatusBadGateway, err.Error())
		}
		if !remote.Valid {
			res.Valid = false
			res.Errors = append(res.Errors, remote.Reason)
		}
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Transfer executes an optimistic transfer between two of the user's wallets.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	userID, err := authedUser(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	domainReq, err := req.toDomain()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	transfer, res, err := h.service.Transfer(c.UserContext(), userID, domainReq)
	switch {
	case errors.Is(err, ErrTransferRejected):
		return c.Status(http.StatusUnprocessableEntity).JSON(res)
	case errors.Is(err, ErrInvariantViolation):
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	case err != nil:
		// Remote failure after rollback: local state is restored, the
		// transfer record is terminal failed.
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{
			"transfer": transfer,
			"error":    err.Error(),
		})
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"transfer":   transfer,
		"validation": res,
	})
}

// Lock reserves funds on one wallet for a pending operation.
func (h *Handler) Lock(c *fiber.Ctx) error {
	return h.adjustLock(c, true)
}

// Unlock releases previously reserved funds.
func (h *Handler) Unlock(c *fiber.Ctx) error {
	return h.adjustLock(c, false)
}

func (h *Handler) adjustLock(c *fiber.Ctx, lock bool) error {
	userID, err := authedUser(c)
	if err != nil {
		return err
	}
	t, err := ParseType(c.Params("walletType"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	var w Wallet
	if lock {
		w, err = h.service.Lock(c.UserContext(), userID, t, req.Amount)
	} else {
		w, err = h.service.Unlock(c.UserContext(), userID, t, req.Amount)
	}
	switch {
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientLocked):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case err != nil:
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.Status(http.StatusOK).JSON(w)
}
