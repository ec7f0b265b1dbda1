package model

import "time"

// PasswordPlaceholder is the literal value stored in place of a plaintext
// password. Credentials live only in memory for the lifetime of a batch and
// must never reach the database.
const PasswordPlaceholder = "*****"

// JumpServerConfig describes an optional bastion host a row's SSH session is
// tunneled through. When Enabled is true, IP and User are required; the jump
// host itself always authenticates with local key material, never a password.
type JumpServerConfig struct {
	Enabled bool   `json:"enabled"`
	IP      string `json:"ip,omitempty"`
	User    string `json:"user,omitempty"`
	Port    int    `json:"port,omitempty"`
}

// PortOrDefault returns the configured jump port, defaulting to 22.
func (j *JumpServerConfig) PortOrDefault() int {
	if j == nil || j.Port == 0 {
		return 22
	}
	return j.Port
}

// Row is one target host plus the commands to run on it. RowID is a
// client-chosen opaque identifier echoed in every frame produced for this row.
type Row struct {
	RowID      string            `json:"rowId"`
	IP         string            `json:"ip"`
	User       string            `json:"user"`
	Password   string            `json:"password"`
	Port       int               `json:"port"`
	Commands   []string          `json:"commands"`
	JumpServer *JumpServerConfig `json:"jumpServer,omitempty"`
}

// UsesJump reports whether this row's session must be established through a
// jump host.
func (r Row) UsesJump() bool {
	return r.JumpServer != nil && r.JumpServer.Enabled
}

// Batch is one accepted execute request, held by the room registry until a
// subscriber drains it or the TTL expires.
type Batch struct {
	RequestID    string    `json:"request_id"`
	Room         string    `json:"room"`
	Rows         []Row     `json:"rows"`
	CreatedAt    time.Time `json:"created_at"`
	ServerCount  int       `json:"server_count"`
	CommandCount int       `json:"command_count"`
}

// CommandResult is one persisted command outcome. Password is always
// PasswordPlaceholder by the time a value reaches the store.
type CommandResult struct {
	IP         string
	User       string
	Password   string
	Port       int
	Command    string
	Output     string
	ExitStatus *int
	Timestamp  time.Time
}
