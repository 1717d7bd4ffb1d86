package wallet

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHandlerApp(t *testing.T) (*fiber.App, *stubAuthority, string) {
	t.Helper()
	svc, stub, _, userID := newTestService(t)
	seed(stub, userID, TypeAccount, 500, 0)
	seed(stub, userID, TypeTrading, 200, 0)

	h := NewHandler(svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		return c.Next()
	})
	app.Get("/wallets/balances", h.Balances)
	app.Get("/wallets/balances/:walletType", h.Balance)
	app.Get("/transfers", h.History)
	app.Post("/transfers/validate", h.Validate)
	app.Post("/transfers", h.Transfer)
	app.Post("/wallets/:walletType/lock", h.Lock)
	app.Post("/wallets/:walletType/unlock", h.Unlock)
	return app, stub, userID
}

func postJSON(t *testing.T, app *fiber.App, path string, payload any) (int, []byte) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(fiber.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestHandlerBalances(t *testing.T) {
	app, _, _ := setupHandlerApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/wallets/balances", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Wallets []Wallet `json:"wallets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Wallets, 2)
	assert.Equal(t, TypeAccount, body.Wallets[0].Type)
	assert.True(t, body.Wallets[0].Balance.Equal(d(500)))
}

func TestHandlerSingleBalance(t *testing.T) {
	app, _, _ := setupHandlerApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/wallets/balances/trading", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var w Wallet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&w))
	assert.Equal(t, TypeTrading, w.Type)
	assert.True(t, w.Balance.Equal(d(200)))

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/wallets/balances/savings", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandlerTransferLifecycle(t *testing.T) {
	app, _, _ := setupHandlerApp(t)

	status, body := postJSON(t, app, "/transfers", transferRequest{From: "account", To: "trading", Amount: d(100)})
	require.Equal(t, fiber.StatusCreated, status)

	var created struct {
		Transfer   Transfer         `json:"transfer"`
		Validation ValidationResult `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, TransferCompleted, created.Transfer.Status)
	assert.True(t, created.Validation.Valid)

	// Over-draw is rejected with the validator's verdict.
	status, body = postJSON(t, app, "/transfers", transferRequest{From: "account", To: "trading", Amount: d(1000)})
	require.Equal(t, fiber.StatusUnprocessableEntity, status)

	var res ValidationResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "insufficient balance")

	// History shows the one committed transfer.
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/transfers", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var history struct {
		Transfers []Transfer `json:"transfers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history.Transfers, 1)
}

func TestHandlerValidateEndpoint(t *testing.T) {
	app, _, _ := setupHandlerApp(t)

	status, body := postJSON(t, app, "/transfers/validate", transferRequest{From: "trading", To: "account", Amount: d(50)})
	require.Equal(t, fiber.StatusOK, status)

	var res ValidationResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Valid)
	assert.True(t, res.AvailableBalance.Equal(d(200)))
}

func TestHandlerLockUnlock(t *testing.T) {
	app, _, _ := setupHandlerApp(t)

	status, body := postJSON(t, app, "/wallets/account/lock", amountRequest{Amount: d(50)})
	require.Equal(t, fiber.StatusOK, status)
	var w Wallet
	require.NoError(t, json.Unmarshal(body, &w))
	assert.True(t, w.LockedBalance.Equal(d(50)))

	status, _ = postJSON(t, app, "/wallets/account/unlock", amountRequest{Amount: d(70)})
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
}

func TestHandlerRejectsUnknownUser(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	h := NewHandler(svc)
	app := fiber.New()
	app.Get("/wallets/balances", h.Balances)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/wallets/balances", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
