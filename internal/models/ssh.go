package models

// SSHShutdownConfig holds settings for powering the storage host off after a run.
type SSHShutdownConfig struct {
	Host           string
	Port           int
	Username       string
	PrivateKey     []byte // loaded from KeyPath when nil
	KeyPath        string
	KnownHostsPath string // host keys are not verified when empty
	ShutdownDelay  int    // minutes
	OnlyOnSuccess  bool   // skip shutdown when any VM failed
}

// SSHResult holds the result of an SSH command.
type SSHResult struct {
	CommandRun bool
	Output     string
	Error      error
}
