// Package compress implements the history compressor: a pure function over
// a conversation's message slice that drops messages whose information has
// become redundant, without touching anything an in-flight tool_call_id
// pairing still needs. Grounded on the teacher's agent.ReadCache (stale
// file-read detection via write-tool invalidation) and agent.LoopDetector
// (repeated/failing tool-call detection), generalised from single-tool-call
// StepRecords to full Message history and from one-tool-call-per-turn to
// batches of tool calls per assistant message.
package compress

import (
	"crypto/md5"
	"encoding/json"
	"fmt"

	"github.com/ionforge/agentcore/internal/memory"
)

// Stats reports what each pass removed, counted in tool-call pairs (a
// request + its paired result, when present, count as one), plus the
// message-count delta the whole run produced.
type Stats struct {
	Original              int
	Compressed            int
	StaleFileReadsRemoved int
	StaleFileEditsRemoved int
	FailedBashRemoved     int
	StaleBashRemoved      int
	UnpairedRemoved       int
	TotalRemoved          int
}

var writeTools = map[string]bool{
	"file_write": true, "file_patch": true, "file_delete": true, "file_move": true,
}

var readTools = map[string]bool{
	"file_read": true, "file_list": true,
}

var shellTools = map[string]bool{"shell": true, "shell_exec": true}

// callInfo is one assistant tool_call's position and metadata.
type callInfo struct {
	name       string
	path       string
	args       json.RawMessage
	msgIdx     int // index of the assistant message containing this call
	resultIdx  int // index of the paired tool-result message, -1 if none yet
	resultErr  bool
}

// Compress runs all four passes over history in order and returns the
// surviving messages plus stats. It never mutates the input slice.
func Compress(history []memory.Message) ([]memory.Message, Stats) {
	var stats Stats
	stats.Original = len(history)
	working := append([]memory.Message(nil), history...)

	working, stats.StaleFileReadsRemoved = removeByPredicate(working, staleFileReadIDs)
	working, stats.StaleFileEditsRemoved = removeByPredicate(working, staleFileEditIDs)
	working, stats.FailedBashRemoved, stats.StaleBashRemoved = removeStaleBash(working)
	working, stats.UnpairedRemoved = removeUnpaired(working)

	stats.Compressed = len(working)
	stats.TotalRemoved = stats.StaleFileReadsRemoved + stats.StaleFileEditsRemoved +
		stats.FailedBashRemoved + stats.StaleBashRemoved + stats.UnpairedRemoved
	return working, stats
}

func indexCalls(history []memory.Message) map[string]*callInfo {
	idx := make(map[string]*callInfo)
	for i, m := range history {
		if m.Role == memory.RoleAssistant {
			for _, tc := range m.ToolCalls {
				idx[tc.ID] = &callInfo{
					name:      tc.Name,
					path:      extractPath(tc.Arguments),
					args:      tc.Arguments,
					msgIdx:    i,
					resultIdx: -1,
				}
			}
		}
		if m.Role == memory.RoleTool && m.ToolCallID != "" {
			if entry, ok := idx[m.ToolCallID]; ok {
				entry.resultIdx = i
				entry.resultErr = m.ErrorReason != ""
			}
		}
	}
	return idx
}

func extractPath(args json.RawMessage) string {
	var v struct {
		Path string `json:"path"`
	}
	if len(args) == 0 {
		return ""
	}
	if err := json.Unmarshal(args, &v); err != nil {
		return ""
	}
	return v.Path
}

// staleFileReadIDs returns tool_call_ids for file_read/file_list calls whose
// path was later overwritten by a write tool.
func staleFileReadIDs(idx map[string]*callInfo) map[string]bool {
	writeTimeByPath := make(map[string]int)
	for _, entry := range idx {
		if writeTools[entry.name] && entry.path != "" {
			if existing, ok := writeTimeByPath[entry.path]; !ok || entry.msgIdx > existing {
				writeTimeByPath[entry.path] = entry.msgIdx
			}
		}
	}
	stale := make(map[string]bool)
	for id, entry := range idx {
		if !readTools[entry.name] || entry.path == "" {
			continue
		}
		if writeIdx, ok := writeTimeByPath[entry.path]; ok && writeIdx > entry.msgIdx {
			stale[id] = true
		}
	}
	return stale
}

// staleFileEditIDs returns tool_call_ids for file_patch calls superseded by
// a strictly later file_patch on the same path: once a later edit has been
// applied, the earlier one's diff is no longer reconstructable context.
func staleFileEditIDs(idx map[string]*callInfo) map[string]bool {
	lastEditByPath := make(map[string]int)
	for _, entry := range idx {
		if entry.name == "file_patch" && entry.path != "" {
			if existing, ok := lastEditByPath[entry.path]; !ok || entry.msgIdx > existing {
				lastEditByPath[entry.path] = entry.msgIdx
			}
		}
	}
	stale := make(map[string]bool)
	for id, entry := range idx {
		if entry.name != "file_patch" || entry.path == "" {
			continue
		}
		if lastIdx, ok := lastEditByPath[entry.path]; ok && lastIdx > entry.msgIdx {
			stale[id] = true
		}
	}
	return stale
}

// removeStaleBash runs the combined failed/stale shell-call pass: a call is
// removed iff its result errored, or a later call with identical arguments
// exists — the two conditions are independent, but each call is counted
// under exactly one stat bucket, with "failed" taking precedence when both
// hold at once.
func removeStaleBash(history []memory.Message) ([]memory.Message, int, int) {
	idx := indexCalls(history)

	lastByHash := make(map[string]int)
	for _, entry := range idx {
		if !shellTools[entry.name] {
			continue
		}
		h := fmt.Sprintf("%s:%x", entry.name, md5.Sum(entry.args))
		if existing, ok := lastByHash[h]; !ok || entry.msgIdx > existing {
			lastByHash[h] = entry.msgIdx
		}
	}

	failed := make(map[string]bool)
	stale := make(map[string]bool)
	for id, entry := range idx {
		if !shellTools[entry.name] {
			continue
		}
		if entry.resultErr {
			failed[id] = true
			continue
		}
		h := fmt.Sprintf("%s:%x", entry.name, md5.Sum(entry.args))
		if lastByHash[h] > entry.msgIdx {
			stale[id] = true
		}
	}

	toRemove := make(map[string]bool, len(failed)+len(stale))
	for id := range failed {
		toRemove[id] = true
	}
	for id := range stale {
		toRemove[id] = true
	}
	if len(toRemove) == 0 {
		return history, 0, 0
	}

	dropResultMsg := make(map[int]bool)
	for id := range toRemove {
		if entry := idx[id]; entry.resultIdx >= 0 {
			dropResultMsg[entry.resultIdx] = true
		}
	}

	out := make([]memory.Message, 0, len(history))
	for i, m := range history {
		if dropResultMsg[i] {
			continue
		}
		if m.Role == memory.RoleAssistant && len(m.ToolCalls) > 0 {
			kept := m.ToolCalls[:0:0]
			for _, tc := range m.ToolCalls {
				if !toRemove[tc.ID] {
					kept = append(kept, tc)
				}
			}
			if len(kept) == 0 && m.Content == "" {
				continue
			}
			m.ToolCalls = kept
		}
		out = append(out, m)
	}
	return out, len(failed), len(stale)
}

// removeByPredicate drops the named tool_call_ids: the ToolCallDescriptor
// is stripped out of its assistant message's ToolCalls slice (other calls
// in the same batch are preserved), and the paired tool-result message, if
// present, is dropped entirely. Returns the count of call IDs removed.
func removeByPredicate(history []memory.Message, pick func(map[string]*callInfo) map[string]bool) ([]memory.Message, int) {
	idx := indexCalls(history)
	toRemove := pick(idx)
	if len(toRemove) == 0 {
		return history, 0
	}

	dropResultMsg := make(map[int]bool)
	for id := range toRemove {
		if entry := idx[id]; entry.resultIdx >= 0 {
			dropResultMsg[entry.resultIdx] = true
		}
	}

	out := make([]memory.Message, 0, len(history))
	for i, m := range history {
		if dropResultMsg[i] {
			continue
		}
		if m.Role == memory.RoleAssistant && len(m.ToolCalls) > 0 {
			kept := m.ToolCalls[:0:0]
			for _, tc := range m.ToolCalls {
				if !toRemove[tc.ID] {
					kept = append(kept, tc)
				}
			}
			if len(kept) == 0 && m.Content == "" {
				// Nothing left in this message at all; drop it.
				continue
			}
			m.ToolCalls = kept
		}
		out = append(out, m)
	}
	return out, len(toRemove)
}

// removeUnpaired drops any tool-result message whose tool_call_id no longer
// matches a surviving assistant tool_call, restoring the invariant that
// every remaining tool_call has exactly zero or one paired result.
func removeUnpaired(history []memory.Message) ([]memory.Message, int) {
	liveCallIDs := make(map[string]bool)
	for _, m := range history {
		if m.Role == memory.RoleAssistant {
			for _, tc := range m.ToolCalls {
				liveCallIDs[tc.ID] = true
			}
		}
	}

	out := make([]memory.Message, 0, len(history))
	removed := 0
	for _, m := range history {
		if m.Role == memory.RoleTool && m.ToolCallID != "" && !liveCallIDs[m.ToolCallID] {
			removed++
			continue
		}
		out = append(out, m)
	}
	return out, removed
}
