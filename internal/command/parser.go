package command

import (
	"strings"
)

// KillAll is the wildcard accepted by KILL_WORKER. It expands at parse time
// to one kill command per currently active worker.
const KillAll = "*"

const (
	markerSpawn           = "SPAWN_WORKER:"
	markerSpawnPrivileged = "SPAWN_PRIVILEGED_WORKER:"
	markerSendEmail       = "SEND_EMAIL:"
	markerSendSMS         = "SEND_SMS:"
	markerDeliverFile     = "DELIVER_FILE:"
	markerListWorkers     = "LIST_WORKERS"
	markerKillWorker      = "KILL_WORKER:"
)

// Parse scans conductor output line by line and returns the commands found,
// in order, plus any issues for lines that matched a marker but could not be
// decoded. Non-matching lines are ignored silently. activeWorkers is the
// current active worker set, used to expand the KILL_WORKER wildcard.
func Parse(text string, activeWorkers []string) ([]Command, []ParseIssue) {
	var (
		cmds   []Command
		issues []ParseIssue
	)

	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); i++ {
		head := stripEmphasis(strings.TrimSpace(lines[i]))

		switch {
		case strings.HasPrefix(head, markerSpawnPrivileged):
			marker := i
			body, next := collectContinuation(lines, i, strings.TrimSpace(afterMarker(head, markerSpawnPrivileged)))
			i = next
			if body == "" {
				issues = append(issues, ParseIssue{Line: marker + 1, Text: lines[marker], Reason: "spawn command has no task body"})
				continue
			}
			cmds = append(cmds, Command{Kind: KindSpawnPrivileged, Instructions: body})

		case strings.HasPrefix(head, markerSpawn):
			marker := i
			body, next := collectContinuation(lines, i, strings.TrimSpace(afterMarker(head, markerSpawn)))
			i = next
			if body == "" {
				issues = append(issues, ParseIssue{Line: marker + 1, Text: lines[marker], Reason: "spawn command has no task body"})
				continue
			}
			cmds = append(cmds, Command{Kind: KindSpawnWorker, Instructions: body})

		case strings.HasPrefix(head, markerSendEmail):
			marker := i
			payload, next := collectContinuation(lines, i, strings.TrimSpace(afterMarker(head, markerSendEmail)))
			i = next
			cmd, ok := parseEmail(payload)
			if !ok {
				issues = append(issues, ParseIssue{Line: marker + 1, Text: lines[marker], Reason: "send-email needs 'to | subject | body'"})
				continue
			}
			cmds = append(cmds, cmd)

		case strings.HasPrefix(head, markerSendSMS):
			payload := strings.TrimSpace(afterMarker(head, markerSendSMS))
			cmd, ok := parseSMS(payload)
			if !ok {
				issues = append(issues, ParseIssue{Line: i + 1, Text: payload, Reason: "send-sms needs 'to | message'"})
				continue
			}
			cmds = append(cmds, cmd)

		case strings.HasPrefix(head, markerDeliverFile):
			payload := strings.TrimSpace(afterMarker(head, markerDeliverFile))
			cmd, ok := parseDeliverFile(payload)
			if !ok {
				issues = append(issues, ParseIssue{Line: i + 1, Text: payload, Reason: "deliver-file needs 'to | paths | subject | message'"})
				continue
			}
			cmds = append(cmds, cmd)

		case strings.HasPrefix(head, markerKillWorker):
			target := strings.TrimSpace(stripEmphasis(afterMarker(head, markerKillWorker)))
			if target == "" {
				issues = append(issues, ParseIssue{Line: i + 1, Text: lines[i], Reason: "kill-worker has no target"})
				continue
			}
			if target == KillAll {
				for _, id := range activeWorkers {
					cmds = append(cmds, Command{Kind: KindKillWorker, WorkerID: id})
				}
				continue
			}
			cmds = append(cmds, Command{Kind: KindKillWorker, WorkerID: target})

		case head == markerListWorkers || head == markerListWorkers+":":
			cmds = append(cmds, Command{Kind: KindListWorkers})
		}
	}

	return cmds, issues
}

// afterMarker returns the text following the marker on the same line.
func afterMarker(line, marker string) string {
	rest := line[len(marker):]
	// The closing half of emphasis markup may sit directly after the colon,
	// e.g. "**SPAWN_WORKER:** fix the build".
	return strings.TrimLeft(rest, "*_`")
}

// stripEmphasis removes conversational emphasis markup wrapped around a
// command line, such as "**SPAWN_WORKER: ...**" or "`KILL_WORKER: w1`".
func stripEmphasis(line string) string {
	return strings.Trim(line, "*_~` ")
}

// collectContinuation gathers indented lines following line idx into body.
// It returns the combined body and the index of the last consumed line.
func collectContinuation(lines []string, idx int, first string) (string, int) {
	parts := []string{}
	if first != "" {
		parts = append(parts, first)
	}

	last := idx
	for j := idx + 1; j < len(lines); j++ {
		raw := lines[j]
		trimmed := strings.TrimSpace(raw)
		indented := strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")
		if trimmed == "" || !indented {
			// Blank line or unindented line ends the continuation.
			break
		}
		parts = append(parts, trimmed)
		last = j
	}
	return strings.Join(parts, "\n"), last
}

func parseEmail(payload string) (Command, bool) {
	fields := splitFields(payload, 3)
	if len(fields) < 3 || fields[0] == "" {
		return Command{}, false
	}
	return Command{
		Kind:    KindSendEmail,
		To:      fields[0],
		Subject: fields[1],
		Body:    fields[2],
	}, true
}

func parseSMS(payload string) (Command, bool) {
	fields := splitFields(payload, 2)
	if len(fields) < 2 || fields[0] == "" {
		return Command{}, false
	}
	return Command{
		Kind:    KindSendSMS,
		To:      fields[0],
		Message: fields[1],
	}, true
}

func parseDeliverFile(payload string) (Command, bool) {
	fields := splitFields(payload, 4)
	if len(fields) < 4 || fields[0] == "" || fields[1] == "" {
		return Command{}, false
	}

	var paths []string
	for _, p := range strings.Split(fields[1], ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return Command{}, false
	}

	return Command{
		Kind:    KindDeliverFile,
		To:      fields[0],
		Paths:   paths,
		Subject: fields[2],
		Message: fields[3],
	}, true
}

// splitFields splits a pipe-delimited payload into at most n trimmed fields.
// The final field keeps any remaining pipes, so message bodies may contain
// the delimiter.
func splitFields(payload string, n int) []string {
	raw := strings.SplitN(payload, "|", n)
	out := make([]string, len(raw))
	for i, f := range raw {
		out[i] = strings.TrimSpace(f)
	}
	return out
}
