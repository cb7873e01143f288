package client

import (
	"fmt"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// CommandKind enumerates the CLI subcommands.
type CommandKind string

const (
	CmdPut   CommandKind = "put"
	CmdGet   CommandKind = "get"
	CmdStat  CommandKind = "stat"
	CmdList  CommandKind = "ls"
	CmdMove  CommandKind = "mv"
	CmdCopy  CommandKind = "cp"
	CmdRm    CommandKind = "rm"
	CmdStats CommandKind = "stats"
)

// Command is a validated CLI invocation.
type Command struct {
	Kind CommandKind

	LocalPath  string // put: local file to upload
	RemotePath string // put/get/stat/rm: path on the server
	SourcePath string // mv/cp
	DestPath   string // mv/cp
	Prefix     string // ls
}

// ParseArgs validates a raw argument vector into a Command. The put
// command's local path must name an existing regular file.
func ParseArgs(args []string) (*Command, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<command>", Cause: "no command provided"}
	}

	kind := CommandKind(args[0])
	rest := args[1:]

	switch kind {
	case CmdPut:
		if len(rest) != 2 {
			return nil, &ValidationError{Arg: string(kind), Cause: "usage: put <local-file> <remote-path>"}
		}
		local := filepath.Clean(rest[0])
		info, err := os.Stat(local)
		if err != nil {
			return nil, &ValidationError{Arg: rest[0], Cause: "not found or not accessible"}
		}
		if info.IsDir() {
			return nil, &ValidationError{Arg: rest[0], Cause: "is a directory"}
		}
		return &Command{Kind: kind, LocalPath: local, RemotePath: rest[1]}, nil

	case CmdGet, CmdStat, CmdRm:
		if len(rest) != 1 {
			return nil, &ValidationError{Arg: string(kind), Cause: fmt.Sprintf("usage: %s <remote-path>", kind)}
		}
		return &Command{Kind: kind, RemotePath: rest[0]}, nil

	case CmdMove, CmdCopy:
		if len(rest) != 2 {
			return nil, &ValidationError{Arg: string(kind), Cause: fmt.Sprintf("usage: %s <source> <dest>", kind)}
		}
		if rest[0] == rest[1] {
			return nil, &ValidationError{Arg: rest[1], Cause: "source and destination are the same"}
		}
		return &Command{Kind: kind, SourcePath: rest[0], DestPath: rest[1]}, nil

	case CmdList:
		if len(rest) > 1 {
			return nil, &ValidationError{Arg: string(kind), Cause: "usage: ls [prefix]"}
		}
		cmd := &Command{Kind: kind}
		if len(rest) == 1 {
			cmd.Prefix = rest[0]
		}
		return cmd, nil

	case CmdStats:
		if len(rest) != 0 {
			return nil, &ValidationError{Arg: string(kind), Cause: "usage: stats"}
		}
		return &Command{Kind: kind}, nil
	}

	return nil, &ValidationError{Arg: args[0], Cause: "unknown command"}
}
