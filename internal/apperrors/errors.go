package apperrors

import "errors"

// Portal authentication errors. The portal reports these in an otherwise
// successful login response; none of them is fixed by retrying.
var (
	// ErrPasswordExpired indicates the MeroShare password must be changed on the portal.
	ErrPasswordExpired = errors.New("password has expired")

	// ErrAccountExpired indicates the MeroShare account subscription has lapsed.
	ErrAccountExpired = errors.New("account has expired")

	// ErrDematExpired indicates the demat account itself has expired.
	ErrDematExpired = errors.New("demat has expired")

	// ErrSessionExpired indicates the portal rejected a previously issued token.
	ErrSessionExpired = errors.New("session expired")

	// ErrMissingCredentials indicates username, password or capital id is not set.
	ErrMissingCredentials = errors.New("username, password and capital id are required")
)

// Application errors represent failures of the apply flow.
var (
	// ErrNoMatchingIssue indicates the share id is not among the applicable issues.
	ErrNoMatchingIssue = errors.New("no matching applicable issue")

	// ErrInvalidApplication indicates a zero share id or quantity.
	ErrInvalidApplication = errors.New("share id and quantity must be provided")

	// ErrIssueNotFound indicates no application report exists for a share id.
	ErrIssueNotFound = errors.New("issue not found in application history")

	// ErrUnexpectedStatus indicates the portal answered with a status code the caller did not expect.
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// Vault errors represent failures reading or mutating the encrypted store.
var (
	// ErrVaultExists indicates a vault file is already present at the target path.
	ErrVaultExists = errors.New("vault: vault already exists at this path")

	// ErrVaultNotFound indicates no vault file exists at the target path.
	ErrVaultNotFound = errors.New("vault: vault not found at this path")

	// ErrWrongPassword indicates the derived key could not decrypt the account blob.
	ErrWrongPassword = errors.New("vault: incorrect password")

	// ErrVaultCorrupted indicates the envelope or decrypted payload could not be decoded.
	ErrVaultCorrupted = errors.New("vault: vault is corrupted")

	// ErrNoAccounts indicates an operation needed an account but none is selected.
	ErrNoAccounts = errors.New("vault: no accounts found")

	// ErrDuplicateAccount indicates an account with the same demat is already stored.
	ErrDuplicateAccount = errors.New("vault: account already exists")

	// ErrInvalidLogLevel indicates a log level outside the supported set.
	ErrInvalidLogLevel = errors.New("vault: invalid log level")

	// ErrAccountIndex indicates an account index outside the stored list.
	ErrAccountIndex = errors.New("vault: account index out of range")

	// ErrCapitalNotFound indicates the DP code is missing from a freshly refreshed capital list.
	ErrCapitalNotFound = errors.New("vault: capital id not found for dp code")

	// ErrShortPassword indicates an account password shorter than the portal minimum.
	ErrShortPassword = errors.New("password too short")
)
