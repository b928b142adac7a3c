// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"fmt"
	"strings"

	"github.com/codelift/codelift/pkg/errors"
)

// SegmentKind distinguishes prompt text from file references in the
// rendered input sequence.
type SegmentKind string

const (
	// SegmentPrompt is literal prompt text.
	SegmentPrompt SegmentKind = "prompt"

	// SegmentFile is a resolved file path whose contents are inlined when
	// the payload is materialized.
	SegmentFile SegmentKind = "file"
)

// Segment is one element of the ordered input sequence sent to the LLM.
// For SegmentPrompt, Value is the trimmed text; for SegmentFile, Value is
// the resolved file path.
type Segment struct {
	Kind  SegmentKind
	Value string
}

// renderSegments scans each prompt input's content left to right for
// {{name}} tokens and emits the interleaved prompt/file segment sequence,
// concatenated across prompt inputs in authored order. Text between tokens
// is trimmed; empty text segments are dropped. Unknown names fail.
//
// The interleaving is observable by the model: a file's contents land
// exactly where its token sat in the prompt text.
func renderSegments(promptInputs []PromptInput, nameToPath map[string]string) ([]Segment, error) {
	var segments []Segment

	for _, prompt := range promptInputs {
		content := prompt.Content

		for {
			open := strings.Index(content, "{{")
			if open < 0 {
				break
			}
			end := strings.Index(content[open:], "}}")
			if end < 0 {
				break
			}
			end += open

			if text := strings.TrimSpace(content[:open]); text != "" {
				segments = append(segments, Segment{Kind: SegmentPrompt, Value: text})
			}

			name := strings.TrimSpace(content[open+2 : end])
			path, ok := nameToPath[name]
			if !ok {
				return nil, &errors.ValidationError{
					Field:      "promptInputs",
					Message:    fmt.Sprintf("prompt references unknown file input %q", name),
					Suggestion: "declare the name under fileInputs or fix the {{...}} reference",
				}
			}
			segments = append(segments, Segment{Kind: SegmentFile, Value: path})

			content = content[end+2:]
		}

		if text := strings.TrimSpace(content); text != "" {
			segments = append(segments, Segment{Kind: SegmentPrompt, Value: text})
		}
	}

	return segments, nil
}
