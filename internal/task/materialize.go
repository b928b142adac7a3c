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

package task

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/codelift/codelift/pkg/workflow"
)

// SharedInputName is the sentinel file-input name ("API document") whose
// path is shared across tasks and left untouched by materialization.
const SharedInputName = "接口文档"

// Selection pairs a source root with one file (relative path) inside it.
type Selection struct {
	// SourcePath is the root directory of the source tree.
	SourcePath string `json:"sourcePath"`

	// File is the file identifier relative to SourcePath. May include
	// subdirectories; both separators are accepted.
	File string `json:"file"`
}

// MaterializeOptions controls naming of the produced tasks.
type MaterializeOptions struct {
	// NamePrefix prefixes output file names and, absent a pattern, task names.
	NamePrefix string `json:"namePrefix,omitempty"`

	// NamePattern names tasks with a {fileName} placeholder.
	NamePattern string `json:"namePattern,omitempty"`

	// Description describes tasks; {fileName} and {sourcePath} substitute.
	Description string `json:"description,omitempty"`
}

// Materialize expands one template across the selected source files: one
// task per selection, each holding a deep copy of the template with every
// step's file inputs and output fields rewritten for that file.
//
// Materialize is a pure function of its inputs — it performs no I/O, and
// two calls with identical inputs differ only in freshly minted ids and
// timestamps.
func Materialize(template *Template, selections []Selection, opts MaterializeOptions) []*Task {
	tasks := make([]*Task, 0, len(selections))
	now := time.Now()

	for _, sel := range selections {
		names := deriveNames(sel.File)

		copied := copyTemplate(template)
		for _, wf := range copied.Workflows {
			for i := range wf.Steps {
				rewriteStep(&wf.Steps[i], sel, names, opts.NamePrefix)
			}
		}

		tasks = append(tasks, &Task{
			ID:          uuid.New().String(),
			Name:        taskName(names, opts),
			Description: taskDescription(sel, names, opts),
			Template:    copied,
			Status:      StatusIdle,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	return tasks
}

// fileNames holds the naming facts derived from one selection's file.
type fileNames struct {
	// fullFilePath is the selection's file identifier, as given.
	fullFilePath string

	// fileName is the basename (last segment, either separator).
	fileName string

	// baseName is fileName without its final extension.
	baseName string

	// capitalizedBase is baseName with its first rune upper-cased.
	capitalizedBase string

	// relativePrefix is the directory portion of fullFilePath, empty when flat.
	relativePrefix string
}

// deriveNames splits a selection's file identifier into its naming parts.
// Both \ and / are treated as separators.
func deriveNames(fullFilePath string) fileNames {
	normalized := strings.ReplaceAll(fullFilePath, "\\", "/")

	fileName := normalized
	relativePrefix := ""
	if idx := strings.LastIndex(normalized, "/"); idx >= 0 {
		fileName = normalized[idx+1:]
		relativePrefix = normalized[:idx]
	}

	baseName := fileName
	if dot := strings.LastIndex(fileName, "."); dot > 0 {
		baseName = fileName[:dot]
	}

	return fileNames{
		fullFilePath:    fullFilePath,
		fileName:        fileName,
		baseName:        baseName,
		capitalizedBase: upperFirst(baseName),
		relativePrefix:  relativePrefix,
	}
}

// upperFirst upper-cases the first rune by Unicode rules, leaving the rest
// unchanged.
func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// rewriteStep applies the per-selection rewrites to one step's file inputs
// and output fields.
func rewriteStep(step *workflow.Step, sel Selection, names fileNames, namePrefix string) {
	for i := range step.Config.FileInputs {
		input := &step.Config.FileInputs[i]

		// Shared cross-task inputs keep their authored path.
		if input.Name == SharedInputName {
			continue
		}
		if input.DependsOn != "" {
			continue
		}

		dir, _, ext := splitPath(input.Path)

		if strings.EqualFold(ext, ".jsp") {
			// Raw source inputs consume the selection's own file, exact
			// original casing preserved.
			input.Path = joinLike(sel.SourcePath, names.fullFilePath)
			continue
		}

		finalDir := appendPrefix(dir, names.relativePrefix)
		input.Path = joinLike(finalDir, names.capitalizedBase+ext)
	}

	if step.Config.OutputFileName != "" {
		_, _, outExt := splitPath(step.Config.OutputFileName)
		step.Config.OutputFileName = namePrefix + names.capitalizedBase + outExt
	}

	if step.Config.OutputFolder != "" {
		step.Config.OutputFolder = appendPrefix(step.Config.OutputFolder, names.relativePrefix)
	}
}

// splitPath splits a path (either separator) into directory, base name
// without extension, and the final dot-extension.
func splitPath(path string) (dir, base, ext string) {
	sep := strings.LastIndexAny(path, "/\\")
	dir = ""
	file := path
	if sep >= 0 {
		dir = path[:sep]
		file = path[sep+1:]
	}

	base = file
	if dot := strings.LastIndex(file, "."); dot > 0 {
		base = file[:dot]
		ext = file[dot:]
	}
	return dir, base, ext
}

// appendPrefix appends the relative prefix to dir unless the directory
// already contains it. The prefix is joined with the directory's own
// separator style.
func appendPrefix(dir, prefix string) string {
	if prefix == "" || dir == "" {
		return dir
	}

	normalizedDir := strings.ReplaceAll(dir, "\\", "/")
	if strings.Contains(normalizedDir, prefix) {
		return dir
	}
	return joinLike(dir, prefix)
}

// joinLike joins two path fragments using the separator style of the first:
// a fragment containing backslashes joins with a backslash, everything else
// with a forward slash. The rewrite stays consistent within one output even
// when templates were authored on another platform.
func joinLike(head, tail string) string {
	if head == "" {
		return tail
	}
	sep := "/"
	if strings.Contains(head, "\\") {
		sep = "\\"
		tail = strings.ReplaceAll(tail, "/", "\\")
	}
	return strings.TrimRight(head, "/\\") + sep + tail
}

// taskName derives the task's name from the options.
func taskName(names fileNames, opts MaterializeOptions) string {
	if opts.NamePattern != "" {
		return strings.ReplaceAll(opts.NamePattern, "{fileName}", names.capitalizedBase)
	}
	prefix := opts.NamePrefix
	if prefix == "" {
		prefix = "task"
	}
	return strings.TrimRight(prefix, "-") + "-" + names.capitalizedBase
}

// taskDescription substitutes the placeholders in the description option.
func taskDescription(sel Selection, names fileNames, opts MaterializeOptions) string {
	desc := opts.Description
	desc = strings.ReplaceAll(desc, "{fileName}", names.fileName)
	desc = strings.ReplaceAll(desc, "{sourcePath}", sel.SourcePath)
	return desc
}

// copyTemplate deep-copies a template so rewrites never touch the original.
func copyTemplate(t *Template) *Template {
	copied := &Template{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}

	if t.WorkflowOrder != nil {
		copied.WorkflowOrder = append([]string{}, t.WorkflowOrder...)
	}

	copied.Workflows = make([]*workflow.Workflow, len(t.Workflows))
	for i, wf := range t.Workflows {
		copied.Workflows[i] = copyWorkflow(wf)
	}
	return copied
}

// copyWorkflow deep-copies a workflow definition, resetting runtime state.
func copyWorkflow(w *workflow.Workflow) *workflow.Workflow {
	copied := &workflow.Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Steps:       make([]workflow.Step, len(w.Steps)),
	}

	for i := range w.Steps {
		src := &w.Steps[i]
		dst := &copied.Steps[i]

		dst.ID = src.ID
		dst.Order = src.Order
		dst.Status = workflow.StepStatusPending
		if src.Dependencies != nil {
			dst.Dependencies = append([]string{}, src.Dependencies...)
		}

		dst.Config = workflow.StepConfig{
			OutputFolder:   src.Config.OutputFolder,
			OutputFileName: src.Config.OutputFileName,
			APIEndpoint:    src.Config.APIEndpoint,
		}
		if src.Config.FileInputs != nil {
			dst.Config.FileInputs = make([]workflow.FileInput, len(src.Config.FileInputs))
			copy(dst.Config.FileInputs, src.Config.FileInputs)
		}
		if src.Config.PromptInputs != nil {
			dst.Config.PromptInputs = make([]workflow.PromptInput, len(src.Config.PromptInputs))
			for j, p := range src.Config.PromptInputs {
				dst.Config.PromptInputs[j] = workflow.PromptInput{Content: p.Content}
				if p.FileReferences != nil {
					dst.Config.PromptInputs[j].FileReferences = append([]string{}, p.FileReferences...)
				}
			}
		}
	}

	return copied
}
