// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/waldo-labs/waldo/cmd/waldo/cli"
	"github.com/waldo-labs/waldo/lib/codec"
	"github.com/waldo-labs/waldo/lib/config"
	"github.com/waldo-labs/waldo/lib/secret"
	"github.com/waldo-labs/waldo/lib/transcript"
)

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:    "archive",
		Summary: "Inspect archived execution transcripts",
		Description: `Read the transcript archive the daemon writes: one record per
finished execution, with the input, the captured output, and the
terminal status.

The archive is read offline from the state directory; the daemon does
not need to be running. Sealed records are opened with the machine
identity from "waldo setup".`,
		Subcommands: []*cli.Command{
			archiveListCommand(),
			archiveShowCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "List the newest ten records",
				Command:     "waldo archive list --limit 10",
			},
			{
				Description: "Read one record by ID prefix",
				Command:     "waldo archive show b2f1",
			},
		},
	}
}

type archiveListParams struct {
	cli.JSONOutput
	Config string `flag:"config,c" desc:"config file path"`
	Limit  int    `flag:"limit,n" desc:"show only the newest N records (0 = all)"`
}

// archiveEntryResult is the JSON shape of one "waldo archive list" row.
type archiveEntryResult struct {
	ID        string    `json:"id"`
	WrittenAt time.Time `json:"written_at"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"`
}

func archiveListCommand() *cli.Command {
	var params archiveListParams

	return &cli.Command{
		Name:    "list",
		Summary: "List archived records",
		Description: `List archive records in chronological order: when each was written,
its ID, and its size on disk. Listing reads only filenames, so it
works without the machine identity even when records are sealed.`,
		Usage: "waldo archive list [flags]",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("list", &params) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument: %s", args[0])
			}

			cfg, err := config.Load(params.Config)
			if err != nil {
				return cli.Validation("loading config: %w", err)
			}

			archive, err := openArchive(cfg, false)
			if err != nil {
				return err
			}
			defer archive.Close()

			entries, err := archive.List()
			if err != nil {
				return cli.Internal("listing archive: %w", err)
			}
			if params.Limit > 0 && len(entries) > params.Limit {
				entries = entries[len(entries)-params.Limit:]
			}

			results := make([]archiveEntryResult, 0, len(entries))
			for _, entry := range entries {
				results = append(results, archiveEntryResult{
					ID:        entry.ID,
					WrittenAt: entry.WrittenAt,
					Size:      entry.Size,
					Path:      entry.Path,
				})
			}
			if done, err := params.EmitJSON(results); done {
				return err
			}
			renderEntries(os.Stdout, entries)
			return nil
		},
	}
}

// renderEntries writes the human-readable archive listing.
func renderEntries(w io.Writer, entries []transcript.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "Archive is empty.")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "WRITTEN\tID\tSIZE\n")
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\n",
			entry.WrittenAt.Local().Format("2006-01-02 15:04:05"),
			entry.ID,
			entry.Size,
		)
	}
	tw.Flush()
}

type archiveShowParams struct {
	cli.JSONOutput
	Config string `flag:"config,c" desc:"config file path"`
	Diag   bool   `flag:"diag" desc:"print the raw record in CBOR diagnostic notation"`
}

// recordResult is the JSON shape of "waldo archive show --json".
type recordResult struct {
	ID               string    `json:"id"`
	ThreadID         string    `json:"thread_id"`
	Kind             string    `json:"kind"`
	Input            string    `json:"input"`
	Output           string    `json:"output,omitempty"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
	WorkingDirectory string    `json:"working_directory"`
	Mode             string    `json:"mode,omitempty"`
	Model            string    `json:"model,omitempty"`
	AgentSessionID   string    `json:"agent_session_id,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	Duration         string    `json:"duration"`
}

func archiveShowCommand() *cli.Command {
	var params archiveShowParams

	return &cli.Command{
		Name:    "show",
		Summary: "Show one archived record",
		Description: `Decode and print one archive record. The record is named by its ID,
an unambiguous ID prefix, or a path to the .wtr file.`,
		Usage: "waldo archive show <id|path> [flags]",
		Examples: []cli.Example{
			{
				Description: "By ID prefix",
				Command:     "waldo archive show b2f1",
			},
			{
				Description: "Raw CBOR diagnostic for a record that will not decode",
				Command:     "waldo archive show b2f1 --diag",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("show", &params) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return cli.Validation("exactly one record ID or path is required")
			}

			cfg, err := config.Load(params.Config)
			if err != nil {
				return cli.Validation("loading config: %w", err)
			}

			archive, err := openArchive(cfg, true)
			if err != nil {
				return err
			}
			defer archive.Close()

			path, err := resolveRecordPath(archive, args[0])
			if err != nil {
				return err
			}

			if params.Diag {
				plaintext, err := archive.ReadRaw(path)
				if err != nil {
					return cli.Internal("reading record: %w", err)
				}
				diagnostic, err := codec.Diagnose(plaintext)
				if err != nil {
					return cli.Internal("diagnosing record: %w", err)
				}
				fmt.Println(diagnostic)
				return nil
			}

			record, err := archive.Read(path)
			if err != nil {
				return cli.Internal("reading record: %w", err)
			}
			if done, err := params.EmitJSON(recordJSON(record)); done {
				return err
			}
			renderRecord(os.Stdout, record)
			return nil
		},
	}
}

// resolveRecordPath turns a show argument into an archive file path.
// Anything with a path separator or the record extension is used
// directly; everything else matches against record IDs, accepting a
// prefix when it is unambiguous.
func resolveRecordPath(archive *transcript.Archive, arg string) (string, error) {
	if strings.ContainsRune(arg, os.PathSeparator) || strings.HasSuffix(arg, ".wtr") {
		if _, err := os.Stat(arg); err != nil {
			return "", cli.NotFound("no record file at %s: %v", arg, err)
		}
		return arg, nil
	}

	entries, err := archive.List()
	if err != nil {
		return "", cli.Internal("listing archive: %w", err)
	}

	var matches []transcript.Entry
	for _, entry := range entries {
		if entry.ID == arg {
			return entry.Path, nil
		}
		if strings.HasPrefix(entry.ID, arg) {
			matches = append(matches, entry)
		}
	}
	switch len(matches) {
	case 0:
		return "", cli.NotFound("no archive record matches %q", arg).
			WithHint("Run 'waldo archive list' to see what is archived.")
	case 1:
		return matches[0].Path, nil
	default:
		ids := make([]string, 0, len(matches))
		for _, match := range matches {
			ids = append(ids, match.ID)
		}
		return "", cli.Validation("%q matches %d records: %s", arg, len(matches), strings.Join(ids, ", "))
	}
}

// recordJSON maps an archive record onto the CLI's JSON output shape.
func recordJSON(record *transcript.Record) recordResult {
	return recordResult{
		ID:               record.ID,
		ThreadID:         record.ThreadID,
		Kind:             record.Kind,
		Input:            record.Input,
		Output:           record.Output,
		Status:           record.Status,
		Error:            record.Error,
		WorkingDirectory: record.WorkingDirectory,
		Mode:             record.Mode,
		Model:            record.Model,
		AgentSessionID:   record.AgentSessionID,
		StartedAt:        record.StartedAt,
		Duration:         record.Duration.String(),
	}
}

// renderRecord writes the human-readable record view.
func renderRecord(w io.Writer, record *transcript.Record) {
	fmt.Fprintf(w, "Record %s\n", record.ID)
	fmt.Fprintf(w, "  thread:  %s\n", record.ThreadID)
	fmt.Fprintf(w, "  kind:    %s\n", record.Kind)
	fmt.Fprintf(w, "  status:  %s\n", record.Status)
	fmt.Fprintf(w, "  cwd:     %s\n", record.WorkingDirectory)
	if record.Mode != "" {
		fmt.Fprintf(w, "  mode:    %s\n", record.Mode)
	}
	if record.Model != "" {
		fmt.Fprintf(w, "  model:   %s\n", record.Model)
	}
	if record.AgentSessionID != "" {
		fmt.Fprintf(w, "  session: %s\n", record.AgentSessionID)
	}
	fmt.Fprintf(w, "  started: %s (%s)\n",
		record.StartedAt.Local().Format("2006-01-02 15:04:05"),
		record.Duration.Truncate(time.Millisecond),
	)
	if record.Error != "" {
		fmt.Fprintf(w, "  error:   %s\n", record.Error)
	}

	fmt.Fprintf(w, "\nInput:\n%s\n", record.Input)
	if record.Output != "" {
		fmt.Fprintf(w, "\nOutput:\n%s\n", record.Output)
	}
}

// openArchive opens the transcript archive from the state directory.
// The sealing key is resolved only when withKey is set: listing never
// needs it, and skipping the resolution lets list work on a machine
// whose identity is elsewhere. An explicit archive.key_file wins over
// identity derivation, matching the daemon's write path.
func openArchive(cfg *config.Config, withKey bool) (*transcript.Archive, error) {
	options := transcript.Options{Compression: cfg.Archive.Compression}

	if withKey && cfg.Archive.Encrypt {
		key, err := resolveArchiveKey(cfg)
		if err != nil {
			return nil, err
		}
		options.Key = key
	}

	archive, err := transcript.NewArchive(cfg.ArchiveDir(), options)
	if err != nil {
		if options.Key != nil {
			options.Key.Close()
		}
		return nil, cli.Internal("opening archive: %w", err)
	}
	return archive, nil
}

func resolveArchiveKey(cfg *config.Config) (*secret.Buffer, error) {
	if cfg.Archive.KeyFile != "" {
		key, err := transcript.LoadKey(cfg.Archive.KeyFile)
		if err != nil {
			return nil, cli.NotFound("records are sealed and the key file cannot be read: %v", err).
				WithHint("archive.key_file must hold the 64-hex-character key the archive was sealed with.")
		}
		return key, nil
	}

	identity, err := secret.ReadFromPath(cfg.IdentityFile())
	if err != nil {
		return nil, cli.NotFound("records are sealed and the machine identity is missing: %v", err).
			WithHint("Sealed archives are read with the identity created by 'waldo setup'\non the machine that wrote them.")
	}
	key, err := transcript.DeriveIdentityKey(identity)
	identity.Close()
	if err != nil {
		return nil, cli.Internal("deriving archive key: %w", err)
	}
	return key, nil
}
