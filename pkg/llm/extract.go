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

package llm

import "strings"

// ExtractCode returns the contents of the first triple-backtick fenced block
// in text, trimmed. The opening fence may carry a language tag ("```tsx").
// When no fenced block is found, the whole text is returned trimmed — model
// replies without fences are treated as pure code.
func ExtractCode(text string) string {
	const fence = "```"

	start := strings.Index(text, fence)
	if start < 0 {
		return strings.TrimSpace(text)
	}

	// Skip the opening fence and its language tag (everything up to the
	// first newline after the fence).
	body := text[start+len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		// Opening fence with no newline after it: nothing fenced.
		return strings.TrimSpace(text)
	}

	end := strings.Index(body, fence)
	if end < 0 {
		// Unterminated fence: take everything after the opening fence.
		return strings.TrimSpace(body)
	}

	return strings.TrimSpace(body[:end])
}
