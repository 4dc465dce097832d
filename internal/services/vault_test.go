package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/devflowfix/devflowfix/internal/db/models"
	"github.com/devflowfix/devflowfix/internal/scm"
)

func TestCredentialsFor(t *testing.T) {
	kr := testKeyring()
	store := newFakeOAuthStore()
	expires := time.Now().Add(2 * time.Hour)

	refresh := seal(kr, "refresh-plain")
	conn := &models.OAuthConnection{
		ID:                    uuid.New(),
		UserID:                "user-1",
		Provider:              "gitlab",
		AccessTokenEncrypted:  seal(kr, "access-plain"),
		RefreshTokenEncrypted: &refresh,
		TokenType:             "Bearer",
		ExpiresAt:             &expires,
		IsActive:              true,
	}
	if err := store.Save(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	vault := NewTokenVault(store, kr)
	creds, got, err := vault.CredentialsFor(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("CredentialsFor() error = %v", err)
	}
	if creds.AccessToken != "access-plain" {
		t.Errorf("AccessToken = %q, want %q", creds.AccessToken, "access-plain")
	}
	if creds.RefreshToken != "refresh-plain" {
		t.Errorf("RefreshToken = %q, want %q", creds.RefreshToken, "refresh-plain")
	}
	if creds.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", creds.TokenType)
	}
	if got.ID != conn.ID {
		t.Errorf("connection ID = %v, want %v", got.ID, conn.ID)
	}
}

func TestCredentialsForMissingConnection(t *testing.T) {
	vault := NewTokenVault(newFakeOAuthStore(), testKeyring())
	_, _, err := vault.CredentialsFor(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestCredentialsForInactiveConnection(t *testing.T) {
	kr := testKeyring()
	store := newFakeOAuthStore()
	conn := &models.OAuthConnection{
		ID:                   uuid.New(),
		UserID:               "user-1",
		Provider:             "github",
		AccessTokenEncrypted: seal(kr, "access"),
		IsActive:             false,
	}
	if err := store.Save(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	vault := NewTokenVault(store, kr)
	if _, _, err := vault.CredentialsFor(context.Background(), conn.ID); !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestRefreshPersistsRenewedTokens(t *testing.T) {
	kr := testKeyring()
	store := newFakeOAuthStore()
	refresh := seal(kr, "refresh-old")
	conn := &models.OAuthConnection{
		ID:                    uuid.New(),
		UserID:                "user-1",
		Provider:              "gitlab",
		AccessTokenEncrypted:  seal(kr, "access-old"),
		RefreshTokenEncrypted: &refresh,
		IsActive:              true,
	}
	if err := store.Save(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	expires := time.Now().Add(time.Hour)
	connector := &fakeConnector{
		kind: scm.KindGitLab,
		renewToken: func(got string) (*scm.AccessToken, error) {
			if got != "refresh-old" {
				t.Errorf("renew called with %q, want refresh-old", got)
			}
			return &scm.AccessToken{AccessToken: "access-new", RefreshToken: "refresh-new", ExpiresAt: &expires}, nil
		},
	}

	vault := NewTokenVault(store, kr)
	renewed, err := vault.Refresh(context.Background(), conn, connector, &scm.AccessToken{
		AccessToken: "access-old", RefreshToken: "refresh-old",
	})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if renewed.AccessToken != "access-new" {
		t.Errorf("renewed access = %q, want access-new", renewed.AccessToken)
	}

	// Next read must see the rotated material.
	creds, _, err := vault.CredentialsFor(context.Background(), conn.ID)
	if err != nil {
		t.Fatalf("CredentialsFor() after refresh error = %v", err)
	}
	if creds.AccessToken != "access-new" || creds.RefreshToken != "refresh-new" {
		t.Errorf("persisted creds = %q/%q, want access-new/refresh-new", creds.AccessToken, creds.RefreshToken)
	}
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	vault := NewTokenVault(newFakeOAuthStore(), testKeyring())
	_, err := vault.Refresh(context.Background(), &models.OAuthConnection{}, &fakeConnector{}, &scm.AccessToken{AccessToken: "a"})
	if !errors.Is(err, scm.ErrNoRefreshToken) {
		t.Errorf("error = %v, want ErrNoRefreshToken", err)
	}
}
