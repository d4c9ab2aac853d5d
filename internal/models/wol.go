package models

import "time"

// WOLConfig holds Wake-on-LAN settings for the storage host that receives downloads.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	ReadyPath     string        // path that appears once the storage host is up (e.g. a NAS mount)
	Timeout       time.Duration // max time to wait for ReadyPath
	PollInterval  time.Duration // how often to check ReadyPath
	StabilizeWait time.Duration // wait after ReadyPath appears
}

// WOLResult holds the result of waking the storage host.
type WOLResult struct {
	PacketSent   bool
	HostReady    bool
	WaitDuration time.Duration
	Error        error
}
