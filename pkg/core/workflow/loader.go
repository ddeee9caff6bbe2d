package workflow

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loftcall/loftcall/pkg/core"
)

// Load reads one workflow from a JSONL file: the first non-empty line is
// the workflow object, with steps nested under "states".
func Load(path string) (*Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workflow: %w", err)
	}
	defer f.Close()

	defs, err := decodeAll(f)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, core.NewWorkflowError(fmt.Sprintf("no workflow found in %s", path))
	}
	return Compile(defs[0])
}

// LoadAll reads every workflow in a JSONL file (one object per line) and
// returns them keyed by workflow id.
func LoadAll(path string) (map[string]*Workflow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workflows: %w", err)
	}
	defer f.Close()

	defs, err := decodeAll(f)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Workflow, len(defs))
	for _, def := range defs {
		w, err := Compile(def)
		if err != nil {
			return nil, err
		}
		out[w.ID()] = w
	}
	return out, nil
}

// LoadDir loads every *.jsonl workflow file in a directory.
func LoadDir(dir string) (map[string]*Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	out := map[string]*Workflow{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		loaded, err := LoadAll(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		for id, w := range loaded {
			if _, dup := out[id]; dup {
				return nil, core.NewWorkflowError(fmt.Sprintf("duplicate workflow id %q in %s", id, e.Name()))
			}
			out[id] = w
		}
	}
	return out, nil
}

// Save writes a definition back as a single JSONL line.
func Save(def WorkflowDef, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create workflow dir: %w", err)
	}
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// decodeAll parses one WorkflowDef per non-empty line, filling in step
// ids from their map keys.
func decodeAll(r io.Reader) ([]WorkflowDef, error) {
	sc := bufio.NewScanner(r)
	// Workflow lines carry full prompts; allow up to 4MB per line.
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var defs []WorkflowDef
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var def WorkflowDef
		if err := json.Unmarshal([]byte(raw), &def); err != nil {
			return nil, core.NewWorkflowError(fmt.Sprintf("line %d: invalid workflow JSON: %v", line, err))
		}
		for id, sd := range def.States {
			if sd.ID == "" {
				sd.ID = id
				def.States[id] = sd
			}
		}
		defs = append(defs, def)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	return defs, nil
}
