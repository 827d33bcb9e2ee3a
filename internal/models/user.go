package models

// Credential represents a registered user account.
//
// Only Username and PasswordHash are persisted: the users collection maps
// the username directly to the hash string.
type Credential struct {
	// Username is the unique, case-sensitive account name.
	Username string

	// PasswordHash is the bcrypt hash of the password.
	// Entries written by older versions hold the raw password instead;
	// those are upgraded on the next successful login.
	PasswordHash string
}
