//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of the account store.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite,
// etc.) and is suitable for production deployments requiring relational
// database storage.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - accounts: account records with credentials, tokens and OTP state
//   - oauth_links: provider links with a unique (provider, subject) index
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	store := gormstore.NewAccountStore(db)
package gorm
