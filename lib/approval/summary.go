// Copyright 2026 The Waldo Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"encoding/json"
	"strings"

	"github.com/waldo-labs/waldo/lib/markdown"
)

// summaryLimit bounds the rendered tool input shown in an approval
// message. Operators decide from the gist; the full input is in the
// agent's own transcript.
const summaryLimit = 600

// SummarizeToolInput renders a tool's input JSON for the approval
// message: the bare command for shell tools, the file path plus a
// content preview for file tools, compact JSON for everything else.
// The result is truncated and wrapped in a code block.
func SummarizeToolInput(toolName string, toolInput []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(toolInput, &fields); err != nil {
		return markdown.CodeBlock(markdown.Truncate(string(toolInput), summaryLimit))
	}

	var rendered string
	switch toolName {
	case "Bash":
		rendered, _ = fields["command"].(string)
	case "Write", "Edit", "NotebookEdit":
		path, _ := fields["file_path"].(string)
		content, _ := fields["content"].(string)
		if content == "" {
			content, _ = fields["new_string"].(string)
		}
		rendered = path
		if content != "" {
			rendered = path + "\n" + content
		}
	}
	if rendered == "" {
		compact, err := json.Marshal(fields)
		if err == nil {
			rendered = string(compact)
		} else {
			rendered = string(toolInput)
		}
	}

	return markdown.CodeBlock(markdown.Truncate(strings.TrimSpace(rendered), summaryLimit))
}
