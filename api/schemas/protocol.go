package schemas

// Command is the "cmd" discriminator of a control or observer message.
type Command string

const (
	CmdStartRecording Command = "START_RECORDING"
	CmdStopRecording  Command = "STOP_RECORDING"
	CmdPushAction     Command = "PUSH_ACTION"
)

// Message is one envelope on the recorder's messaging channel.
type Message struct {
	Cmd    Command `json:"cmd"`
	Action *Action `json:"action,omitempty"`
}

// Reply answers START_RECORDING and STOP_RECORDING.
type Reply struct {
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Saved   *SaveResult `json:"saved,omitempty"`
}

// SaveResult is the storage service's answer to a save request.
type SaveResult struct {
	OK    bool   `json:"ok"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error,omitempty"`
}

// RunRequest is the body of a playback dispatch request.
type RunRequest struct {
	File string `json:"file"`
	Mode string `json:"mode,omitempty"`
}

// RunResult reports the outcome of a playback run.
type RunResult struct {
	OK       bool   `json:"ok"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Playback modes understood by the engine.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)
