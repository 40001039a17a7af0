// Package smtp sends security alert mail. Settings come from the
// environment; the password is never returned by the API, only whether one
// is configured.
package smtp

// Encryption modes.
const (
	EncryptionStartTLS = "starttls"
	EncryptionSSL      = "ssl"
	EncryptionNone     = "none"
)

// Settings is the redacted view of the mail configuration.
type Settings struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	HasPassword bool   `json:"has_password"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	Encryption  string `json:"encryption"`
	Enabled     bool   `json:"enabled"`
}

// Mail is one outgoing message.
type Mail struct {
	To      []string
	Subject string
	Body    string
}
