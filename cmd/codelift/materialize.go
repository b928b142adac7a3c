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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelift/codelift/internal/content"
	"github.com/codelift/codelift/internal/task"
)

func newMaterializeCommand() *cobra.Command {
	var (
		sourcePath  string
		filePattern string
		namePrefix  string
		namePattern string
		description string
	)

	cmd := &cobra.Command{
		Use:   "materialize <template.json>",
		Short: "Expand a template across discovered source files into tasks",
		Long:  "Discovers files under --source matching --pattern, expands the template once per file, and prints the produced tasks as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read template: %w", err)
			}

			var template task.Template
			if err := json.Unmarshal(data, &template); err != nil {
				return fmt.Errorf("failed to parse template: %w", err)
			}

			files, err := content.NewStore().ListFiles(sourcePath, filePattern)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no files under %s match %q", sourcePath, filePattern)
			}

			selections := make([]task.Selection, len(files))
			for i, f := range files {
				selections[i] = task.Selection{SourcePath: sourcePath, File: f}
			}

			tasks := task.Materialize(&template, selections, task.MaterializeOptions{
				NamePrefix:  namePrefix,
				NamePattern: namePattern,
				Description: description,
			})

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(tasks)
		},
	}

	cmd.Flags().StringVar(&sourcePath, "source", ".", "source tree to discover files in")
	cmd.Flags().StringVar(&filePattern, "pattern", "jsp", "extension or glob selecting source files")
	cmd.Flags().StringVar(&namePrefix, "prefix", "", "prefix for task names and output files")
	cmd.Flags().StringVar(&namePattern, "name-pattern", "", "task name pattern with {fileName}")
	cmd.Flags().StringVar(&description, "description", "", "task description with {fileName} and {sourcePath}")

	return cmd
}
