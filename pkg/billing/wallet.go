package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// WalletMutation describes one balance change on a user's wallet.
type WalletMutation struct {
	UserID         UserID
	OrganizationID OrganizationID
	Type           TransactionType
	Amount         decimal.Decimal
	Description    string
}

func (mutation WalletMutation) validate() error {
	if mutation.UserID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if mutation.OrganizationID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidOrganizationID)
	}
	if _, err := ParseTransactionType(mutation.Type.String()); err != nil {
		return err
	}
	if !mutation.Amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return nil
}

// DebitOrCredit applies a deposit or api_charge to the wallet under a row lock and
// appends the matching transaction in the same database transaction.
func (service *Service) DebitOrCredit(ctx context.Context, mutation WalletMutation) (WalletTransaction, error) {
	var transaction WalletTransaction
	operationError := mutation.validate()
	if operationError == nil {
		operationError = service.withTx(ctx, func(ctx context.Context, transactionStore Store) error {
			_, applied, err := service.applyWalletMutation(ctx, transactionStore, mutation)
			if err != nil {
				return err
			}
			transaction = applied
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationWalletMutation,
		UserID:         mutation.UserID,
		OrganizationID: mutation.OrganizationID,
		Channel:        ChannelPlatform,
		Amount:         mutation.Amount,
		Error:          operationError,
	})
	if operationError != nil {
		return WalletTransaction{}, operationError
	}
	return transaction, nil
}

func (service *Service) applyWalletMutation(ctx context.Context, transactionStore Store, mutation WalletMutation) (Wallet, WalletTransaction, error) {
	wallet, err := transactionStore.LockWallet(ctx, mutation.UserID, mutation.OrganizationID)
	if err != nil {
		return Wallet{}, WalletTransaction{}, err
	}
	switch mutation.Type {
	case TransactionDeposit:
		wallet.Balance = wallet.Balance.Add(mutation.Amount)
	case TransactionAPICharge:
		wallet.Balance = wallet.Balance.Sub(mutation.Amount)
		if wallet.Balance.IsNegative() && !service.config.AllowNegativeBalance {
			return Wallet{}, WalletTransaction{}, fmt.Errorf("%w: charge %s exceeds balance", ErrInsufficientWalletBalance, mutation.Amount.String())
		}
	default:
		return Wallet{}, WalletTransaction{}, fmt.Errorf("%w: %q", ErrInvalidTransactionType, mutation.Type)
	}
	now := service.now()
	wallet.UpdatedAt = now
	if err := transactionStore.UpdateWalletBalance(ctx, wallet.ID, wallet.Balance, now); err != nil {
		return Wallet{}, WalletTransaction{}, err
	}
	transactionID, err := GenerateRecordID()
	if err != nil {
		return Wallet{}, WalletTransaction{}, err
	}
	transaction := WalletTransaction{
		ID:          transactionID,
		WalletID:    wallet.ID,
		Amount:      mutation.Amount,
		Type:        mutation.Type,
		Description: strings.TrimSpace(mutation.Description),
		CreatedAt:   now,
	}
	if err := transactionStore.InsertWalletTransaction(ctx, transaction); err != nil {
		return Wallet{}, WalletTransaction{}, err
	}
	return wallet, transaction, nil
}

// OpenWallet returns the wallet of the pair, creating an empty one on first use.
// An empty currency selects the configured default.
func (service *Service) OpenWallet(ctx context.Context, userID UserID, organizationID OrganizationID, currency string) (Wallet, error) {
	var wallet Wallet
	operationError := func() error {
		if userID.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidUserID)
		}
		if organizationID.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidOrganizationID)
		}
		normalizedCurrency, err := service.normalizeCurrency(currency)
		if err != nil {
			return err
		}
		walletID, err := GenerateRecordID()
		if err != nil {
			return err
		}
		now := service.now()
		wallet, err = service.store.GetOrCreateWallet(ctx, Wallet{
			ID:             walletID,
			UserID:         userID,
			OrganizationID: organizationID,
			Balance:        decimal.Zero,
			Currency:       normalizedCurrency,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
		return err
	}()
	service.logOperation(ctx, OperationLog{
		Operation:      operationOpenWallet,
		UserID:         userID,
		OrganizationID: organizationID,
		Channel:        ChannelPlatform,
		Error:          operationError,
	})
	if operationError != nil {
		return Wallet{}, operationError
	}
	return wallet, nil
}

// Deposit credits the wallet of the pair.
func (service *Service) Deposit(ctx context.Context, userID UserID, organizationID OrganizationID, amount decimal.Decimal, description string) (WalletTransaction, error) {
	return service.DebitOrCredit(ctx, WalletMutation{
		UserID:         userID,
		OrganizationID: organizationID,
		Type:           TransactionDeposit,
		Amount:         amount,
		Description:    description,
	})
}

// Wallet returns the wallet of the pair or ErrWalletNotFound.
func (service *Service) Wallet(ctx context.Context, userID UserID, organizationID OrganizationID) (Wallet, error) {
	return service.store.GetWallet(ctx, userID, organizationID)
}

// WalletByID returns a wallet by its id or ErrWalletNotFound.
func (service *Service) WalletByID(ctx context.Context, walletID RecordID) (Wallet, error) {
	if walletID.IsZero() {
		return Wallet{}, fmt.Errorf("%w: empty value", ErrInvalidRecordID)
	}
	return service.store.GetWalletByID(ctx, walletID)
}

// ListWalletTransactions pages a wallet's ledger newest first.
func (service *Service) ListWalletTransactions(ctx context.Context, walletID RecordID, page Page) ([]WalletTransaction, error) {
	if walletID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidRecordID)
	}
	return service.store.ListWalletTransactions(ctx, walletID, page.normalized())
}

func (service *Service) normalizeCurrency(raw string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		return service.config.DefaultCurrency, nil
	}
	if len(currency) != 3 {
		return "", fmt.Errorf("%w: currency %q", ErrInvalidAmount, raw)
	}
	return currency, nil
}
