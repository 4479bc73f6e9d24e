package models

// User is a credential record owned by the credential store.
// Password holds a bcrypt hash, or a legacy plain value for seed data that
// has not been upgraded yet. It is never serialised back to clients.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`
	Type     string `json:"type"`
}

// PasswordResetToken links a one-time reset token to its user.
// A user may hold several live tokens at once.
type PasswordResetToken struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}
