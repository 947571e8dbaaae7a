// Package version holds build identity. Version and BuildDate are meant to be
// overridden at link time:
//
//	go build -ldflags "-X guildbot/internal/version.Version=1.4.0"
package version

import "time"

var (
	AppName   = "guildbot"
	Version   = "dev"
	BuildDate = "unknown"
)

// StartedAt is set once at process start and anchors the uptime command.
var StartedAt = time.Now()
