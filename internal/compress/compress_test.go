package compress

import (
	"encoding/json"
	"testing"

	"github.com/ionforge/agentcore/internal/memory"
)

func assistantCall(id, name string, args string) memory.Message {
	return memory.Message{
		Role: memory.RoleAssistant,
		ToolCalls: []memory.ToolCallDescriptor{
			{ID: id, Name: name, Arguments: json.RawMessage(args)},
		},
	}
}

func toolResult(id, content string) memory.Message {
	return memory.Message{Role: memory.RoleTool, ToolCallID: id, Content: content}
}

func TestCompress_RemovesStaleFileRead(t *testing.T) {
	history := []memory.Message{
		assistantCall("c1", "file_read", `{"path":"a.go"}`),
		toolResult("c1", "old contents"),
		assistantCall("c2", "file_write", `{"path":"a.go"}`),
		toolResult("c2", "ok"),
	}
	out, stats := Compress(history)
	if stats.StaleFileReadsRemoved != 1 {
		t.Fatalf("expected 1 stale read removed, got %d", stats.StaleFileReadsRemoved)
	}
	for _, m := range out {
		if m.Role == memory.RoleTool && m.ToolCallID == "c1" {
			t.Fatalf("stale file_read result should have been removed")
		}
	}
}

func TestCompress_PreservesOtherCallsInSameBatch(t *testing.T) {
	history := []memory.Message{
		{
			Role: memory.RoleAssistant,
			ToolCalls: []memory.ToolCallDescriptor{
				{ID: "c1", Name: "file_read", Arguments: json.RawMessage(`{"path":"a.go"}`)},
				{ID: "c2", Name: "file_read", Arguments: json.RawMessage(`{"path":"b.go"}`)},
			},
		},
		toolResult("c1", "contents a"),
		toolResult("c2", "contents b"),
		assistantCall("c3", "file_write", `{"path":"a.go"}`),
		toolResult("c3", "ok"),
	}
	out, stats := Compress(history)
	if stats.StaleFileReadsRemoved != 1 {
		t.Fatalf("expected 1 stale read removed, got %d", stats.StaleFileReadsRemoved)
	}
	foundC2Result := false
	foundC2Call := false
	for _, m := range out {
		if m.Role == memory.RoleTool && m.ToolCallID == "c2" {
			foundC2Result = true
		}
		if m.Role == memory.RoleAssistant {
			for _, tc := range m.ToolCalls {
				if tc.ID == "c2" {
					foundC2Call = true
				}
				if tc.ID == "c1" {
					t.Fatal("c1 tool call should have been stripped from the batch")
				}
			}
		}
	}
	if !foundC2Result || !foundC2Call {
		t.Fatal("c2 (file_read of b.go, never overwritten) should survive untouched")
	}
}

// A file_patch superseded by a strictly later file_patch on the same path is
// stale; a later file_write does not make an earlier file_patch stale (only
// another edit makes an edit's diff unreconstructable).
func TestCompress_RemovesStaleFileEditSupersededByLaterEdit(t *testing.T) {
	history := []memory.Message{
		assistantCall("c1", "file_patch", `{"path":"a.go"}`),
		toolResult("c1", "patched once"),
		assistantCall("c2", "file_patch", `{"path":"a.go"}`),
		toolResult("c2", "patched twice"),
	}
	out, stats := Compress(history)
	if stats.StaleFileEditsRemoved != 1 {
		t.Fatalf("expected 1 stale edit removed, got %d", stats.StaleFileEditsRemoved)
	}
	for _, m := range out {
		if m.Role == memory.RoleTool && m.ToolCallID == "c1" {
			t.Fatal("c1 (superseded by a later file_patch on the same path) should have been removed")
		}
	}
}

// A later file_write on the same path does NOT make an earlier file_patch
// stale under the corrected spec reading: only a later edit supersedes an
// edit's diff.
func TestCompress_FileEditSurvivesLaterFileWrite(t *testing.T) {
	history := []memory.Message{
		assistantCall("c1", "file_patch", `{"path":"a.go"}`),
		toolResult("c1", "patched"),
		assistantCall("c2", "file_write", `{"path":"a.go"}`),
		toolResult("c2", "rewritten"),
	}
	out, stats := Compress(history)
	if stats.StaleFileEditsRemoved != 0 {
		t.Fatalf("expected 0 stale edits (file_write doesn't supersede file_patch), got %d", stats.StaleFileEditsRemoved)
	}
	found := false
	for _, m := range out {
		if m.Role == memory.RoleTool && m.ToolCallID == "c1" {
			found = true
		}
	}
	if !found {
		t.Fatal("c1 (file_patch) should survive a later file_write on the same path")
	}
}

func TestCompress_RemovesFailedShell(t *testing.T) {
	history := []memory.Message{
		assistantCall("c1", "shell", `{"command":"go test"}`),
		{Role: memory.RoleTool, ToolCallID: "c1", ErrorReason: memory.ReasonUnknown, Content: "failed"},
		assistantCall("c2", "shell", `{"command":"go test"}`),
		toolResult("c2", "ok"),
	}
	out, stats := Compress(history)
	if stats.FailedBashRemoved != 1 {
		t.Fatalf("expected 1 failed shell call removed, got %d", stats.FailedBashRemoved)
	}
	for _, m := range out {
		if m.Role == memory.RoleTool && m.ToolCallID == "c1" {
			t.Fatal("failed shell call should be removed regardless of a later retry")
		}
	}
}

// A successful shell call later superseded by an identical command is
// removed even though neither attempt errored — the two conditions in the
// combined pass are independent.
func TestCompress_RemovesStaleSuccessfulShell(t *testing.T) {
	history := []memory.Message{
		assistantCall("c1", "shell", `{"command":"ls"}`),
		toolResult("c1", "a.go b.go"),
		assistantCall("c2", "shell", `{"command":"ls"}`),
		toolResult("c2", "a.go b.go c.go"),
	}
	out, stats := Compress(history)
	if stats.StaleBashRemoved != 1 {
		t.Fatalf("expected 1 stale shell call removed, got %d", stats.StaleBashRemoved)
	}
	if stats.FailedBashRemoved != 0 {
		t.Fatalf("neither call errored, expected 0 failed, got %d", stats.FailedBashRemoved)
	}
	for _, m := range out {
		if m.Role == memory.RoleTool && m.ToolCallID == "c1" {
			t.Fatal("shell call superseded by a later identical command should be removed")
		}
	}
}

// Mirrors the canonical compression scenario: a stale file_read, a
// file_edit with no later rewrite of the same path (so it survives), and a
// failed shell call with no retry. Only the read and the failed shell are
// removed.
func TestCompress_MixedHistoryRemovesOnlyStaleReadAndFailedShell(t *testing.T) {
	history := []memory.Message{
		assistantCall("c1", "file_read", `{"path":"x.go"}`),
		toolResult("c1", "old contents"),
		assistantCall("c2", "file_patch", `{"path":"x.go"}`),
		toolResult("c2", "patched"),
		assistantCall("c3", "shell", `{"command":"ls"}`),
		{Role: memory.RoleTool, ToolCallID: "c3", ErrorReason: memory.ReasonUnknown, Content: "no such file"},
	}
	out, stats := Compress(history)

	if stats.StaleFileReadsRemoved != 1 {
		t.Fatalf("expected 1 stale read, got %d", stats.StaleFileReadsRemoved)
	}
	if stats.StaleFileEditsRemoved != 0 {
		t.Fatalf("file_patch has no later rewrite, expected 0 stale edits, got %d", stats.StaleFileEditsRemoved)
	}
	if stats.FailedBashRemoved != 1 {
		t.Fatalf("expected 1 failed shell call, got %d", stats.FailedBashRemoved)
	}
	if stats.StaleBashRemoved != 0 {
		t.Fatalf("expected 0 stale (non-failed) shell calls, got %d", stats.StaleBashRemoved)
	}
	if stats.TotalRemoved != 2 {
		t.Fatalf("expected 2 tool-call pairs removed, got %d", stats.TotalRemoved)
	}

	foundC2Call, foundC2Result := false, false
	for _, m := range out {
		if m.Role == memory.RoleAssistant {
			for _, tc := range m.ToolCalls {
				if tc.ID == "c1" || tc.ID == "c3" {
					t.Fatalf("call %s should have been removed", tc.ID)
				}
				if tc.ID == "c2" {
					foundC2Call = true
				}
			}
		}
		if m.Role == memory.RoleTool {
			if m.ToolCallID == "c1" || m.ToolCallID == "c3" {
				t.Fatalf("result %s should have been removed", m.ToolCallID)
			}
			if m.ToolCallID == "c2" {
				foundC2Result = true
			}
		}
	}
	if !foundC2Call || !foundC2Result {
		t.Fatal("file_patch call and result should survive untouched")
	}
}

func TestCompress_IsIdempotent(t *testing.T) {
	history := []memory.Message{
		assistantCall("c1", "file_read", `{"path":"a.go"}`),
		toolResult("c1", "old contents"),
		assistantCall("c2", "file_write", `{"path":"a.go"}`),
		toolResult("c2", "ok"),
	}
	once, stats1 := Compress(history)
	twice, stats2 := Compress(once)
	if len(once) != len(twice) {
		t.Fatalf("second pass changed message count: %d vs %d", len(once), len(twice))
	}
	if stats2.TotalRemoved != 0 {
		t.Fatalf("second pass should remove nothing further, removed %d (first pass removed %d)", stats2.TotalRemoved, stats1.TotalRemoved)
	}
}

func TestCompress_RemoveUnpairedDrop(t *testing.T) {
	history := []memory.Message{
		toolResult("orphan", "dangling result with no matching call"),
	}
	out, stats := Compress(history)
	if stats.UnpairedRemoved != 1 {
		t.Fatalf("expected 1 unpaired message removed, got %d", stats.UnpairedRemoved)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(out))
	}
}
