package session

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/anchorageoss/turnkey-sdk-go/api"
)

// UserReader is the query surface FetchUser needs. *api.Client implements it.
type UserReader interface {
	GetWhoami(ctx context.Context, organizationID string) (*api.WhoamiResponse, error)
	GetWallets(ctx context.Context, organizationID string) (*api.GetWalletsResponse, error)
	GetWalletAccounts(ctx context.Context, organizationID, walletID string) (*api.GetWalletAccountsResponse, error)
	GetUser(ctx context.Context, organizationID, userID string) (*api.GetUserResponse, error)
}

// FetchUser resolves the caller with whoami and then loads its user record,
// wallets and wallet accounts. Any failed read fails the whole projection.
func FetchUser(ctx context.Context, r UserReader, organizationID string) (*User, error) {
	who, err := r.GetWhoami(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if who.UserID == "" || who.OrganizationID == "" {
		return nil, ErrUserNotFound
	}
	orgID := who.OrganizationID

	var (
		wallets *api.GetWalletsResponse
		detail  *api.GetUserResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wallets, err = r.GetWallets(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		detail, err = r.GetUser(gctx, orgID, who.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Wallet, len(wallets.Wallets))
	g, gctx = errgroup.WithContext(ctx)
	for i, w := range wallets.Wallets {
		g.Go(func() error {
			resp, err := r.GetWalletAccounts(gctx, orgID, w.WalletID)
			if err != nil {
				return err
			}
			accounts := make([]WalletAccount, 0, len(resp.Accounts))
			for _, a := range resp.Accounts {
				accounts = append(accounts, WalletAccount{
					ID:            a.WalletAccountID,
					Curve:         a.Curve,
					PathFormat:    a.PathFormat,
					Path:          a.Path,
					AddressFormat: a.AddressFormat,
					Address:       a.Address,
					CreatedAt:     a.CreatedAt,
					UpdatedAt:     a.UpdatedAt,
				})
			}
			out[i] = Wallet{ID: w.WalletID, Name: w.WalletName, Accounts: accounts}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load wallet accounts: %w", err)
	}

	return &User{
		ID:             who.UserID,
		UserName:       detail.User.UserName,
		Email:          detail.User.UserEmail,
		PhoneNumber:    detail.User.UserPhoneNumber,
		OrganizationID: orgID,
		Wallets:        out,
	}, nil
}
