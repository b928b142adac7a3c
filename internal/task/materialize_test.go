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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelift/codelift/pkg/workflow"
)

// transformTemplate builds a one-workflow template whose single step
// converts a jsp page plus a shared API document into a tsx file.
func transformTemplate() *Template {
	return &Template{
		ID:   "tpl-1",
		Name: "jsp-to-react",
		Workflows: []*workflow.Workflow{{
			ID:   "wf-1",
			Name: "convert",
			Steps: []workflow.Step{{
				ID:    "s1",
				Order: 0,
				Config: workflow.StepConfig{
					FileInputs: []workflow.FileInput{
						{Name: "src", Path: "C:\\old\\Foo.jsp"},
						{Name: SharedInputName, Path: "C:\\docs\\api.md"},
						{Name: "helper", Path: "C:\\old\\Util.ts"},
					},
					PromptInputs:   []workflow.PromptInput{{Content: "convert {{src}} using {{helper}}"}},
					OutputFolder:   "C:\\out",
					OutputFileName: "Transformed.tsx",
					APIEndpoint:    workflow.EndpointQianwen,
				},
			}},
		}},
	}
}

func TestMaterializeRewrites(t *testing.T) {
	tasks := Materialize(transformTemplate(),
		[]Selection{{SourcePath: "C:\\root", File: "sub\\bar.jsp"}},
		MaterializeOptions{NamePrefix: "Task-"})

	require.Len(t, tasks, 1)
	task := tasks[0]

	assert.Equal(t, "Task-Bar", task.Name)
	assert.Equal(t, StatusIdle, task.Status)
	assert.NotEmpty(t, task.ID)

	require.Len(t, task.Template.Workflows, 1)
	step := task.Template.Workflows[0].Steps[0]

	// The jsp input consumes the selection's raw file.
	assert.Equal(t, "C:\\root\\sub\\bar.jsp", step.Config.FileInputs[0].Path)

	// The shared API-document input is untouched.
	assert.Equal(t, "C:\\docs\\api.md", step.Config.FileInputs[1].Path)

	// Other inputs are renamed to the capitalized base and suffixed with
	// the selection's relative directory.
	assert.Equal(t, "C:\\old\\sub\\Bar.ts", step.Config.FileInputs[2].Path)

	// Output fields: prefix + capitalized base, template extension kept;
	// folder gains the relative prefix.
	assert.Equal(t, "Task-Bar.tsx", step.Config.OutputFileName)
	assert.Equal(t, "C:\\out\\sub", step.Config.OutputFolder)
}

func TestMaterializeFlatSelection(t *testing.T) {
	tasks := Materialize(transformTemplate(),
		[]Selection{{SourcePath: "/src", File: "page.jsp"}},
		MaterializeOptions{NamePrefix: "conv-"})

	require.Len(t, tasks, 1)
	step := tasks[0].Template.Workflows[0].Steps[0]

	assert.Equal(t, "/src/page.jsp", step.Config.FileInputs[0].Path)
	// No relative prefix: folder unchanged.
	assert.Equal(t, "C:\\out", step.Config.OutputFolder)
	assert.Equal(t, "conv-Page.tsx", step.Config.OutputFileName)
	assert.Equal(t, "conv-Page", tasks[0].Name)
}

func TestMaterializeNamePattern(t *testing.T) {
	tasks := Materialize(transformTemplate(),
		[]Selection{{SourcePath: "/src", File: "widgets/chart.jsp"}},
		MaterializeOptions{
			NamePattern: "convert {fileName} now",
			Description: "from {fileName} under {sourcePath}",
		})

	require.Len(t, tasks, 1)
	assert.Equal(t, "convert Chart now", tasks[0].Name)
	assert.Equal(t, "from chart.jsp under /src", tasks[0].Description)
}

func TestMaterializeDefaultName(t *testing.T) {
	tasks := Materialize(transformTemplate(),
		[]Selection{{SourcePath: "/src", File: "a.jsp"}},
		MaterializeOptions{})

	require.Len(t, tasks, 1)
	assert.Equal(t, "task-A", tasks[0].Name)
}

func TestMaterializeDoesNotMutateTemplate(t *testing.T) {
	template := transformTemplate()

	Materialize(template,
		[]Selection{{SourcePath: "/src", File: "sub/x.jsp"}},
		MaterializeOptions{NamePrefix: "p-"})

	step := template.Workflows[0].Steps[0]
	assert.Equal(t, "C:\\old\\Foo.jsp", step.Config.FileInputs[0].Path)
	assert.Equal(t, "Transformed.tsx", step.Config.OutputFileName)
	assert.Equal(t, "C:\\out", step.Config.OutputFolder)
}

func TestMaterializePurity(t *testing.T) {
	selections := []Selection{
		{SourcePath: "/src", File: "one.jsp"},
		{SourcePath: "/src", File: "nested/two.jsp"},
	}
	opts := MaterializeOptions{NamePrefix: "x-"}

	first := Materialize(transformTemplate(), selections, opts)
	second := Materialize(transformTemplate(), selections, opts)

	require.Len(t, first, 2)
	require.Len(t, second, 2)

	for i := range first {
		// Identical modulo freshly minted ids and timestamps.
		assert.NotEqual(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Name, second[i].Name)
		assert.Equal(t, first[i].Description, second[i].Description)
		assert.Equal(t, first[i].Template.Workflows, second[i].Template.Workflows)
	}
}

func TestMaterializePrefixNotDuplicated(t *testing.T) {
	// A folder that already contains the relative prefix is left alone.
	template := transformTemplate()
	template.Workflows[0].Steps[0].Config.OutputFolder = "C:\\out\\sub"

	tasks := Materialize(template,
		[]Selection{{SourcePath: "C:\\root", File: "sub\\bar.jsp"}},
		MaterializeOptions{})

	step := tasks[0].Template.Workflows[0].Steps[0]
	assert.Equal(t, "C:\\out\\sub", step.Config.OutputFolder)
}

func TestMaterializeDependentInputsUntouched(t *testing.T) {
	template := transformTemplate()
	template.Workflows[0].Steps[0].Config.FileInputs = []workflow.FileInput{
		{Name: "up", DependsOn: "s0"},
	}

	tasks := Materialize(template,
		[]Selection{{SourcePath: "/src", File: "f.jsp"}},
		MaterializeOptions{})

	input := tasks[0].Template.Workflows[0].Steps[0].Config.FileInputs[0]
	assert.Equal(t, "s0", input.DependsOn)
	assert.Empty(t, input.Path)
}

func TestDeriveNames(t *testing.T) {
	cases := []struct {
		file    string
		base    string
		capital string
		prefix  string
	}{
		{"sub\\bar.jsp", "bar", "Bar", "sub"},
		{"a/b/page.jsp", "page", "Page", "a/b"},
		{"flat.jsp", "flat", "Flat", ""},
		{"noext", "noext", "Noext", ""},
		{"éclair.jsp", "éclair", "Éclair", ""},
	}

	for _, tc := range cases {
		names := deriveNames(tc.file)
		assert.Equal(t, tc.base, names.baseName, tc.file)
		assert.Equal(t, tc.capital, names.capitalizedBase, tc.file)
		assert.Equal(t, tc.prefix, names.relativePrefix, tc.file)
	}
}

func TestUpperFirst(t *testing.T) {
	assert.Equal(t, "", upperFirst(""))
	assert.Equal(t, "Abc", upperFirst("abc"))
	assert.Equal(t, "ABC", upperFirst("ABC"))
	assert.Equal(t, "中文", upperFirst("中文"))
}
