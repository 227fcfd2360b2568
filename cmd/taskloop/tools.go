package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"goa.design/taskloop/runtime/agent/model"
	"goa.design/taskloop/runtime/agent/tools"
)

// workdirParam receives the "workdir" tool context property.
const workdirParam = "_workdir"

// maxReadBytes caps the content returned by read_project_file.
const maxReadBytes = 256 << 10

// skippedDirs are never listed.
var skippedDirs = map[string]bool{".git": true, "node_modules": true, "vendor": true}

// catalogue returns the demo capabilities. generate_content writes prose
// through mc.
func catalogue(mc model.Client) []tools.Capability {
	list := tools.New("list_project_files",
		"Lists the files of the project, relative to the project root. Optionally restricted to a subdirectory.",
		listProjectFiles,
		tools.Param{Name: "dir", Description: "Subdirectory to list, relative to the project root."})
	list.ContextParams = []string{workdirParam}

	read := tools.New("read_project_file",
		"Reads a project file and returns its content.",
		readProjectFile,
		tools.Param{Name: "path", Description: "File path relative to the project root.", Required: true})
	read.ContextParams = []string{workdirParam}
	read.Tags = []string{"files"}
	list.Tags = []string{"files"}

	gen := tools.New("generate_content",
		"Writes text (summaries, explanations, drafts) from instructions.",
		func(ctx context.Context, args map[string]any) (any, error) {
			prompt, _ := args["prompt"].(string)
			resp, err := mc.Complete(ctx, model.UserText("", prompt))
			if err != nil {
				return nil, err
			}
			return strings.TrimSpace(resp.Text), nil
		},
		tools.Param{Name: "prompt", Description: "Instructions for the text to write.", Required: true})
	gen.Tags = []string{"writing"}

	term := tools.New("terminate",
		"Ends the task with the final answer.",
		func(_ context.Context, args map[string]any) (any, error) {
			return args["answer"], nil
		},
		tools.Param{Name: "answer", Description: "The final answer.", Required: true})
	term.Terminal = true

	return []tools.Capability{list, read, gen, term}
}

func listProjectFiles(ctx context.Context, args map[string]any) (any, error) {
	root, err := resolve(args, stringArg(args, "dir"))
	if err != nil {
		return nil, err
	}
	base, _ := args[workdirParam].(string)
	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func readProjectFile(_ context.Context, args map[string]any) (any, error) {
	rel := stringArg(args, "path")
	if rel == "" {
		return nil, errors.New("path is required")
	}
	path, err := resolve(args, rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

// resolve joins rel to the project root and refuses paths escaping it.
func resolve(args map[string]any, rel string) (string, error) {
	root, _ := args[workdirParam].(string)
	if root == "" {
		return "", errors.New("project root is not configured")
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside the project", rel)
	}
	return path, nil
}

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return strings.TrimSpace(s)
}
