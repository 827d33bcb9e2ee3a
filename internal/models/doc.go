// Package models defines the core domain models for the lost-and-found board.
//
// # Models
//
//   - Credential: a registered account (username -> password hash)
//   - Item: a reported lost item, keyed by its name
//   - Message: one entry in an item's message thread
//
// # Persisted layout
//
// Models are serialized as JSON values inside two keyed collections:
//
//	users: {"alice": "<bcrypt hash>", ...}
//	items: {"Wallet": {"location": "Lobby", "contact_info": "bob", ..., "messages": [...]}, ...}
//
// The item layout matches the files written by the first version of the
// board, so existing data directories load without migration.
//
// # Design Principles
//
//  1. Items are keyed by name; the name is not repeated inside the value.
//  2. Messages have no identity outside their parent item.
//  3. Usernames are plain strings; there is no separate user ID.
package models
