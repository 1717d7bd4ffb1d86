package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresAuthority persists wallet accounts and transfers in PostgreSQL.
// The wallets table carries balance and locked_balance as numeric columns
// with a CHECK mirroring the locked <= balance invariant.
type PostgresAuthority struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed authority implementation.
func NewPostgres(db *pgxpool.Pool) *PostgresAuthority {
	return &PostgresAuthority{db: db}
}

const accountColumns = `id, user_id, wallet_type, balance::text, locked_balance::text, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		acct       Account
		id, userID uuid.UUID
		balance    string
		locked     string
	)
	if err := row.Scan(&id, &userID, &acct.WalletType, &balance, &locked, &acct.UpdatedAt); err != nil {
		return Account{}, err
	}
	acct.WalletID = id.String()
	acct.UserID = userID.String()
	var err error
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return Account{}, fmt.Errorf("parse balance: %w", err)
	}
	if acct.Locked, err = decimal.NewFromString(locked); err != nil {
		return Account{}, fmt.Errorf("parse locked balance: %w", err)
	}
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return acct, nil
}

// FetchBalances returns every wallet account owned by the user.
func (p *PostgresAuthority) FetchBalances(ctx context.Context, userID string) ([]Account, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `SELECT `+accountColumns+`
        FROM wallets WHERE user_id = $1 ORDER BY wallet_type`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrAccountNotFound
	}
	return out, nil
}

// FetchBalance returns one wallet account by user and type.
func (p *PostgresAuthority) FetchBalance(ctx context.Context, userID, walletType string) (Account, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Account{}, err
	}
	row := p.db.QueryRow(ctx, `SELECT `+accountColumns+`
        FROM wallets WHERE user_id = $1 AND wallet_type = $2`, uid, walletType)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return acct, err
}

// ExecuteTransfer atomically moves amount between two wallets of one user.
// Rows are locked in wallet_type order so two transfers over the same pair
// cannot deadlock. Replays of the same client transfer id return the stored
// record with ErrDuplicateTransfer.
func (p *PostgresAuthority) ExecuteTransfer(ctx context.Context, req TransferRequest) (TransferRecord, error) {
	if req.Amount.Sign() <= 0 {
		return TransferRecord{}, ErrInsufficientFunds
	}
	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		return TransferRecord{}, err
	}

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransferRecord{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if req.ClientTxID != "" {
		if rec, err := p.findByClientTxID(ctx, tx, req.ClientTxID); err == nil {
			return rec, ErrDuplicateTransfer
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return TransferRecord{}, err
		}
	}

	rows, err := tx.Query(ctx, `SELECT `+accountColumns+`
        FROM wallets WHERE user_id = $1 AND wallet_type = ANY($2)
        ORDER BY wallet_type FOR UPDATE`, uid, []string{req.FromType, req.ToType})
	if err != nil {
		return TransferRecord{}, err
	}
	accounts := map[string]Account{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return TransferRecord{}, err
		}
		accounts[acct.WalletType] = acct
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return TransferRecord{}, err
	}

	from, ok := accounts[req.FromType]
	if !ok {
		return TransferRecord{}, ErrAccountNotFound
	}
	to, ok := accounts[req.ToType]
	if !ok {
		return TransferRecord{}, ErrAccountNotFound
	}
	if from.Balance.Sub(from.Locked).LessThan(req.Amount) {
		return TransferRecord{}, ErrInsufficientFunds
	}

	now := time.Now().UTC()
	fromBalance := from.Balance.Sub(req.Amount)
	toBalance := to.Balance.Add(req.Amount)

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`,
		fromBalance.String(), now, from.WalletID); err != nil {
		return TransferRecord{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`,
		toBalance.String(), now, to.WalletID); err != nil {
		return TransferRecord{}, err
	}

	transferID := uuid.New()
	clientTxID := req.ClientTxID
	if clientTxID == "" {
		clientTxID = transferID.String()
	}
	if _, err := tx.Exec(ctx, `INSERT INTO transfers
        (id, user_id, from_type, to_type, amount, status, client_tx_id, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, 'completed', $6, $7, $7)`,
		transferID, uid, req.FromType, req.ToType, req.Amount.String(), clientTxID, now); err != nil {
		return TransferRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransferRecord{}, err
	}

	return TransferRecord{
		TransferID:  transferID.String(),
		UserID:      req.UserID,
		FromType:    req.FromType,
		ToType:      req.ToType,
		Amount:      req.Amount,
		Status:      "completed",
		CreatedAt:   now,
		CompletedAt: now,
		FromBalance: fromBalance,
		ToBalance:   toBalance,
	}, nil
}

func (p *PostgresAuthority) findByClientTxID(ctx context.Context, tx pgx.Tx, clientTxID string) (TransferRecord, error) {
	row := tx.QueryRow(ctx, `SELECT id, user_id, from_type, to_type, amount::text, status, created_at, completed_at
        FROM transfers WHERE client_tx_id = $1`, clientTxID)
	return scanTransfer(row)
}

func scanTransfer(row rowScanner) (TransferRecord, error) {
	var (
		rec        TransferRecord
		id, userID uuid.UUID
		amount     string
	)
	if err := row.Scan(&id, &userID, &rec.FromType, &rec.ToType, &amount, &rec.Status, &rec.CreatedAt, &rec.CompletedAt); err != nil {
		return TransferRecord{}, err
	}
	rec.TransferID = id.String()
	rec.UserID = userID.String()
	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return TransferRecord{}, fmt.Errorf("parse amount: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.CompletedAt = rec.CompletedAt.UTC()
	return rec, nil
}

// ValidateTransfer checks the proposed transfer against current rows without
// mutating anything.
func (p *PostgresAuthority) ValidateTransfer(ctx context.Context, req TransferRequest) (RemoteValidation, error) {
	if req.Amount.Sign() <= 0 {
		return RemoteValidation{Valid: false, Reason: "amount must be positive"}, nil
	}
	from, err := p.FetchBalance(ctx, req.UserID, req.FromType)
	if errors.Is(err, ErrAccountNotFound) {
		return RemoteValidation{Valid: false, Reason: "source wallet not found"}, nil
	}
	if err != nil {
		return RemoteValidation{}, err
	}
	if from.Balance.Sub(from.Locked).LessThan(req.Amount) {
		return RemoteValidation{Valid: false, Reason: "insufficient funds"}, nil
	}
	return RemoteValidation{Valid: true}, nil
}

// TransferHistory lists the user's transfers, newest first.
func (p *PostgresAuthority) TransferHistory(ctx context.Context, userID string) ([]TransferRecord, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.Query(ctx, `SELECT id, user_id, from_type, to_type, amount::text, status, created_at, completed_at
        FROM transfers WHERE user_id = $1 ORDER BY created_at DESC`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LockBalance reserves amount on the wallet without changing its total.
func (p *PostgresAuthority) LockBalance(ctx context.Context, userID, walletType string, amount decimal.Decimal) (Account, error) {
	return p.adjustLock(ctx, userID, walletType, amount, false)
}

// UnlockBalance releases a prior reservation.
func (p *PostgresAuthority) UnlockBalance(ctx context.Context, userID, walletType string, amount decimal.Decimal) (Account, error) {
	return p.adjustLock(ctx, userID, walletType, amount, true)
}

func (p *PostgresAuthority) adjustLock(ctx context.Context, userID, walletType string, amount decimal.Decimal, release bool) (Account, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Account{}, err
	}

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Account{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT `+accountColumns+`
        FROM wallets WHERE user_id = $1 AND wallet_type = $2 FOR UPDATE`, uid, walletType)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}

	if release {
		if acct.Locked.LessThan(amount) {
			return Account{}, ErrLockExceeded
		}
		acct.Locked = acct.Locked.Sub(amount)
	} else {
		if acct.Balance.Sub(acct.Locked).LessThan(amount) {
			return Account{}, ErrInsufficientFunds
		}
		acct.Locked = acct.Locked.Add(amount)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE wallets SET locked_balance = $1, updated_at = $2 WHERE id = $3`,
		acct.Locked.String(), now, acct.WalletID); err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	acct.UpdatedAt = now
	return acct, nil
}
