package model

// Frames are the JSON objects pushed on a result stream. Each frame carries
// exactly the fields its kind requires; field presence (including an explicit
// null exitStatus) is part of the wire contract with the frontend.

// ResultFrame reports one successfully executed command. ExitStatus is null
// when the remote side terminated without reporting a status.
type ResultFrame struct {
	RowID      string `json:"rowId"`
	Command    string `json:"command"`
	Output     string `json:"output"`
	ExitStatus *int   `json:"exitStatus"`
}

// CommandErrorFrame reports a command that failed after all retries.
type CommandErrorFrame struct {
	RowID   string `json:"rowId"`
	Command string `json:"command"`
	Error   string `json:"error"`
}

// RowErrorFrame reports a host whose connect phase failed; no command frames
// follow for that row.
type RowErrorFrame struct {
	RowID string `json:"rowId"`
	Error string `json:"error"`
}

// StatusFrame is the terminal marker, sent exactly once when the whole batch
// has been processed.
type StatusFrame struct {
	Status string `json:"status"`
}

// ErrorFrame is a stream-level error: unknown room, or a scheduler failure
// that prevented normal completion.
type ErrorFrame struct {
	Error string `json:"error"`
}

// StatusCompleted is the Status value of the terminal frame.
const StatusCompleted = "completed"

// Completed returns the terminal frame for a finished batch.
func Completed() StatusFrame {
	return StatusFrame{Status: StatusCompleted}
}
