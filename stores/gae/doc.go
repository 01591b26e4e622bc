//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of the
// account store. It is designed for deployment on Google Cloud Platform and
// supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - Account: account records with credentials, tokens and OTP state
//   - EmailIndex: normalized email -> account ID, enforcing email uniqueness
//   - OAuthIndex: provider:subject -> account ID, enforcing link uniqueness
//
// # Namespacing
//
// Pass a namespace when creating the store to isolate data between tenants:
//
//	store := gae.NewAccountStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewAccountStore(client, "") // default namespace
package gae
