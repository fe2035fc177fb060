package relay

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Process is a spawned child and the pipe to its stdio.
type Process struct {
	ProcessID int32
	Channel   *PipeChannel

	cmd *exec.Cmd
}

// Spawn starts count copies of name with args. Each child learns its place
// from CRUST_PROCESS_ID and CRUST_PROCESS_COUNT, is told by CRUST_RELAY_MODE
// to speak the relay protocol on its stdin and stdout, and logs to the
// inherited stderr.
func Spawn(ctx context.Context, logger zerolog.Logger, count int32, name string, args ...string) ([]*Process, error) {
	processes := make([]*Process, 0, count)

	for processID := int32(0); processID < count; processID++ {
		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Env = append(os.Environ(),
			"CRUST_PROCESS_ID="+strconv.Itoa(int(processID)),
			"CRUST_PROCESS_COUNT="+strconv.Itoa(int(count)),
			"CRUST_RELAY_MODE=pipe",
		)
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			killAll(processes)

			return nil, fmt.Errorf("failed to create stdin of process %d: %w", processID, err)
		}

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			killAll(processes)

			return nil, fmt.Errorf("failed to create stdout of process %d: %w", processID, err)
		}

		if err := cmd.Start(); err != nil {
			killAll(processes)

			return nil, fmt.Errorf("failed to start process %d: %w", processID, err)
		}

		logger.Info().Int32("process_id", processID).Int("pid", cmd.Process.Pid).Msg("Started process")

		processes = append(processes, &Process{
			ProcessID: processID,
			Channel:   NewPipeChannel(stdout, stdin),
			cmd:       cmd,
		})
	}

	return processes, nil
}

// Channels returns the channel of every process in order.
func Channels(processes []*Process) []Channel {
	channels := make([]Channel, 0, len(processes))

	for _, process := range processes {
		channels = append(channels, process.Channel)
	}

	return channels
}

// WaitAll waits for every process to exit.
func WaitAll(processes []*Process) error {
	var group errgroup.Group

	for _, process := range processes {
		group.Go(func() error {
			if err := process.cmd.Wait(); err != nil {
				return fmt.Errorf("process %d exited: %w", process.ProcessID, err)
			}

			return nil
		})
	}

	return group.Wait()
}

func killAll(processes []*Process) {
	for _, process := range processes {
		_ = process.cmd.Process.Kill()
	}
}
