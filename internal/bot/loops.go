package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guildbot/internal/tasks"
	"guildbot/internal/version"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// activities rotate through the bot's presence line.
var activities = []func() string{
	func() string { return "with " + version.Version },
	func() string { return fmt.Sprintf("since %s", version.StartedAt.Format("Jan 2")) },
	func() string { return "!help" },
}

// addSystemLoops registers the loops that belong to the bot itself rather
// than to any cog.
func (b *Bot) addSystemLoops() {
	next := 0
	b.runner.Add(&tasks.Loop{
		Name:   "activity-rotation",
		Period: 30 * time.Second,
		Run: func(ctx context.Context) error {
			line := activities[next%len(activities)]()
			next++
			return b.session.UpdateGameStatus(0, line)
		},
	})

	b.runner.Add(&tasks.Loop{
		Name:   "stats-flush",
		Period: 5 * time.Minute,
		Run: func(ctx context.Context) error {
			return b.stats.Flush()
		},
		After: func(ctx context.Context) error {
			return b.stats.Flush()
		},
	})

	b.runner.Add(&tasks.Loop{
		Name:   "diagnostics",
		Period: 24 * time.Hour,
		Run:    b.runDiagnostics,
	})
}

// runDiagnostics inspects disk, memory and CPU; crossing any configured
// threshold DMs the owner a report.
func (b *Bot) runDiagnostics(ctx context.Context) error {
	var warnings []string

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil && du.UsedPercent > b.cfg.DiskWarnPercent {
		warnings = append(warnings, fmt.Sprintf("disk at %.1f%% (threshold %.0f%%)", du.UsedPercent, b.cfg.DiskWarnPercent))
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.UsedPercent > b.cfg.MemWarnPercent {
		warnings = append(warnings, fmt.Sprintf("memory at %.1f%% (threshold %.0f%%)", vm.UsedPercent, b.cfg.MemWarnPercent))
	}
	if loads, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(loads) > 0 && loads[0] > b.cfg.CPUWarnPercent {
		warnings = append(warnings, fmt.Sprintf("cpu at %.1f%% (threshold %.0f%%)", loads[0], b.cfg.CPUWarnPercent))
	}

	if len(warnings) == 0 || b.cfg.OwnerID == "" {
		return nil
	}

	dm, err := b.session.UserChannelCreate(b.cfg.OwnerID)
	if err != nil {
		return fmt.Errorf("open owner DM: %w", err)
	}
	report := fmt.Sprintf("**%s diagnostics**\n%s", version.AppName, strings.Join(warnings, "\n"))
	_, err = b.session.ChannelMessageSend(dm.ID, report)
	return err
}
