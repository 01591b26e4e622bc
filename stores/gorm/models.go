//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	auth "github.com/gvinokur/qatar-prode-sub000"
)

// AccountModel is the GORM model for accounts
type AccountModel struct {
	ID               string `gorm:"primaryKey;size:64"`
	Email            string `gorm:"size:255;uniqueIndex"`
	DisplayName      string `gorm:"size:255"`
	NicknameRequired bool   `gorm:"default:false"`
	PasswordHash     string `gorm:"size:128"`
	EmailVerified    bool   `gorm:"default:false"`
	OTPUsed          bool   `gorm:"default:false"`

	VerificationToken     string `gorm:"size:128;index"`
	VerificationExpiresAt *time.Time
	ResetToken            string `gorm:"size:128;index"`
	ResetExpiresAt        *time.Time

	OTPCode          string `gorm:"size:16"`
	OTPExpiresAt     *time.Time
	OTPAttempts      int `gorm:"default:0"`
	OTPLastRequestAt *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	OAuthLinks []OAuthLinkModel `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

// OAuthLinkModel is the GORM model for provider links. The composite unique
// index on (provider, subject) is the backstop for concurrent callbacks.
type OAuthLinkModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	AccountID string `gorm:"size:64;index"`
	Provider  string `gorm:"size:32;uniqueIndex:idx_provider_subject"`
	Subject   string `gorm:"size:255;uniqueIndex:idx_provider_subject"`
	Email     string `gorm:"size:255"`
	LinkedAt  time.Time
}

func (OAuthLinkModel) TableName() string {
	return "oauth_links"
}

func (m *AccountModel) ToAccount() *auth.Account {
	links := make([]auth.OAuthLink, len(m.OAuthLinks))
	for i, l := range m.OAuthLinks {
		links[i] = auth.OAuthLink{
			Provider: l.Provider,
			Subject:  l.Subject,
			Email:    l.Email,
			LinkedAt: l.LinkedAt,
		}
	}
	return &auth.Account{
		ID:                    m.ID,
		Email:                 m.Email,
		DisplayName:           m.DisplayName,
		NicknameRequired:      m.NicknameRequired,
		PasswordHash:          m.PasswordHash,
		EmailVerified:         m.EmailVerified,
		OTPUsed:               m.OTPUsed,
		VerificationToken:     m.VerificationToken,
		VerificationExpiresAt: m.VerificationExpiresAt,
		ResetToken:            m.ResetToken,
		ResetExpiresAt:        m.ResetExpiresAt,
		OTPCode:               m.OTPCode,
		OTPExpiresAt:          m.OTPExpiresAt,
		OTPAttempts:           m.OTPAttempts,
		OTPLastRequestAt:      m.OTPLastRequestAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
		OAuthLinks:            links,
	}
}

func AccountToModel(a *auth.Account) *AccountModel {
	links := make([]OAuthLinkModel, len(a.OAuthLinks))
	for i, l := range a.OAuthLinks {
		links[i] = OAuthLinkModel{
			AccountID: a.ID,
			Provider:  l.Provider,
			Subject:   l.Subject,
			Email:     l.Email,
			LinkedAt:  l.LinkedAt,
		}
	}
	return &AccountModel{
		ID:                    a.ID,
		Email:                 a.Email,
		DisplayName:           a.DisplayName,
		NicknameRequired:      a.NicknameRequired,
		PasswordHash:          a.PasswordHash,
		EmailVerified:         a.EmailVerified,
		OTPUsed:               a.OTPUsed,
		VerificationToken:     a.VerificationToken,
		VerificationExpiresAt: a.VerificationExpiresAt,
		ResetToken:            a.ResetToken,
		ResetExpiresAt:        a.ResetExpiresAt,
		OTPCode:               a.OTPCode,
		OTPExpiresAt:          a.OTPExpiresAt,
		OTPAttempts:           a.OTPAttempts,
		OTPLastRequestAt:      a.OTPLastRequestAt,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
		OAuthLinks:            links,
	}
}
