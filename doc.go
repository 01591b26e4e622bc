// Package prodeauth provides identity resolution and OTP lifecycle management
// for applications that let users sign in with a password, an OAuth provider,
// or a one-time code emailed to them.
//
// The central entity is the Account: one account per email address, no matter
// how many ways the user signs in. Which providers an account can use is
// never stored; it is derived from the account's state (a password hash means
// credentials work, each OAuth link means that provider works, a redeemed OTP
// means codes have worked before).
//
// # Architecture
//
// AccountStore: persistence contract. Lookups by ID, email, OAuth link and
// token, plus UpdateAccount, an atomic read-modify-write that every state
// transition goes through. A mutate callback that returns an error aborts
// the update with nothing written.
//
// IdentityResolver: maps successful authentication events onto canonical
// accounts. Credentials logins fail opaquely; OAuth callbacks find, merge or
// create accounts, with the store's uniqueness constraints breaking ties
// between concurrent callbacks.
//
// OTPEngine: issues and verifies short-lived numeric codes with per-account
// rate limiting and a bounded number of attempts.
//
// TokenLifecycle: single-use, time-bounded tokens for email verification and
// password reset.
//
// # Basic Usage
//
// Set up a store and the engines:
//
//	import (
//	    auth "github.com/gvinokur/qatar-prode-sub000"
//	    "github.com/gvinokur/qatar-prode-sub000/stores/fs"
//	)
//
//	store := fs.NewFSAccountStore("/path/to/storage")
//	hasher := &auth.BcryptHasher{}
//	resolver := auth.NewIdentityResolver(store, hasher)
//	otp := auth.NewOTPEngine(store)
//	tokens := auth.NewTokenLifecycle(store)
//
// Configure the HTTP front doors:
//
//	localAuth := &auth.LocalAuth{
//	    Store:       store,
//	    Resolver:    resolver,
//	    OTP:         otp,
//	    Tokens:      tokens,
//	    Hasher:      hasher,
//	    EmailSender: &auth.ConsoleEmailSender{},
//	    BaseURL:     "https://yourapp.com",
//	    HandleAccount: func(authtype, provider string, account *auth.Account,
//	        w http.ResponseWriter, r *http.Request) {
//	        // Create session and respond
//	    },
//	}
//
//	mux := http.NewServeMux()
//	mux.Handle("/auth/login", localAuth)
//	mux.Handle("/auth/signup", http.HandlerFunc(localAuth.HandleSignup))
//	mux.Handle("/auth/otp/request", http.HandlerFunc(localAuth.HandleRequestOTP))
//	mux.Handle("/auth/otp/verify", http.HandlerFunc(localAuth.HandleVerifyOTP))
//	mux.Handle("/auth/verify-email", http.HandlerFunc(localAuth.HandleVerifyEmail))
//	mux.Handle("/auth/forgot-password", http.HandlerFunc(localAuth.HandleForgotPassword))
//	mux.Handle("/auth/reset-password", http.HandlerFunc(localAuth.HandleResetPassword))
//
// # Store Implementations
//
// The stores/fs package stores accounts as JSON files, suitable for
// development and tests. stores/gorm targets relational databases and
// stores/gae targets Google Cloud Datastore; both enforce email and
// (provider, subject) uniqueness at the database so concurrent requests
// cannot create duplicate accounts.
//
// # Security
//
// Passwords are hashed with bcrypt. Verification and reset tokens are
// cryptographically secure 32-byte values, hex-encoded to 64 characters,
// expiring after 24 hours and 1 hour respectively and cleared on first use.
// OTP codes are 6 uniformly random digits, live for 3 minutes, allow 3
// attempts and can be requested at most once a minute per account. Login
// failures never reveal whether the email exists.
package prodeauth
