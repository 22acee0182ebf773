package engine

import (
	"time"

	"github.com/zjrosen/deepfocus/internal/actor"
)

// Command types routed by the engine's processor.
const (
	cmdStart         actor.CommandType = "start"
	cmdStop          actor.CommandType = "stop"
	cmdTick          actor.CommandType = "tick"
	cmdAttempt       actor.CommandType = "attempt"
	cmdBlockComplete actor.CommandType = "block_complete"
	cmdCancelStart   actor.CommandType = "cancel_start"
	cmdLateBlock     actor.CommandType = "late_block"
	cmdRecover       actor.CommandType = "recover"
	cmdStatus        actor.CommandType = "status"
)

type startCommand struct {
	actor.BaseCommand
	minutes uint
	appIDs  []string
}

func newStartCommand(minutes uint, appIDs []string) *startCommand {
	return &startCommand{
		BaseCommand: actor.NewBaseCommand(cmdStart, actor.SourceUser),
		minutes:     minutes,
		appIDs:      appIDs,
	}
}

type stopCommand struct {
	actor.BaseCommand
}

func newStopCommand() *stopCommand {
	return &stopCommand{BaseCommand: actor.NewBaseCommand(cmdStop, actor.SourceUser)}
}

type tickCommand struct {
	actor.BaseCommand
}

func newTickCommand(source actor.Source) *tickCommand {
	return &tickCommand{BaseCommand: actor.NewBaseCommand(cmdTick, source)}
}

type attemptCommand struct {
	actor.BaseCommand
	appID string
	at    time.Time
}

func newAttemptCommand(appID string, at time.Time) *attemptCommand {
	return &attemptCommand{
		BaseCommand: actor.NewBaseCommand(cmdAttempt, actor.SourceAdapter),
		appID:       appID,
		at:          at,
	}
}

// blockCompleteCommand carries the outcome of an asynchronous block call
// back onto the processing goroutine.
type blockCompleteCommand struct {
	actor.BaseCommand
	sessionID string
	err       error
}

func newBlockCompleteCommand(sessionID string, err error) *blockCompleteCommand {
	return &blockCompleteCommand{
		BaseCommand: actor.NewBaseCommand(cmdBlockComplete, actor.SourceInternal),
		sessionID:   sessionID,
		err:         err,
	}
}

// cancelStartCommand withdraws a pending start whose caller stopped waiting.
type cancelStartCommand struct {
	actor.BaseCommand
	sessionID string
}

func newCancelStartCommand(sessionID string) *cancelStartCommand {
	return &cancelStartCommand{
		BaseCommand: actor.NewBaseCommand(cmdCancelStart, actor.SourceUser),
		sessionID:   sessionID,
	}
}

// lateBlockCommand reports a block call that engaged after it was given up on.
type lateBlockCommand struct {
	actor.BaseCommand
	sessionID string
}

func newLateBlockCommand(sessionID string) *lateBlockCommand {
	return &lateBlockCommand{
		BaseCommand: actor.NewBaseCommand(cmdLateBlock, actor.SourceAdapter),
		sessionID:   sessionID,
	}
}

type recoverCommand struct {
	actor.BaseCommand
}

func newRecoverCommand() *recoverCommand {
	return &recoverCommand{BaseCommand: actor.NewBaseCommand(cmdRecover, actor.SourceInternal)}
}

type statusCommand struct {
	actor.BaseCommand
}

func newStatusCommand() *statusCommand {
	return &statusCommand{BaseCommand: actor.NewBaseCommand(cmdStatus, actor.SourceUser)}
}
