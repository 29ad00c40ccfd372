// Package eval replays fixed thread histories against a gateway and scores
// the single tool call it returns against an expected one.
package eval

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/provider"
	"github.com/linanwx/supportbot/tools"
)

//go:embed scenarios/*.yaml
var builtinFS embed.FS

// Scenario is a named batch of tests.
type Scenario struct {
	Name        string
	Description string
	Tests       []Test
}

// Test is one fixture: a fixed event log, the tools offered, and the tool
// call the model is expected to make.
type Test struct {
	Name     string
	Events   []event.Event
	Tools    []ToolFixture
	Expected provider.ToolCall
}

// ToolFixture is a tool definition with a canned return value. A test
// without fixtures is offered the standard support tools.
type ToolFixture struct {
	Def     tools.Def
	Returns any
}

// Registry builds a fresh registry for one run of the test.
func (t Test) Registry() (*tools.Registry, error) {
	if len(t.Tools) == 0 {
		return tools.NewSupportRegistry(nil), nil
	}
	reg := tools.NewRegistry()
	for _, f := range t.Tools {
		if err := reg.Register(tools.Static(f.Def, f.Returns)); err != nil {
			return nil, fmt.Errorf("test %s: %w", t.Name, err)
		}
	}
	return reg, nil
}

type scenarioFile struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Tests       []testFile `yaml:"tests"`
}

type testFile struct {
	Name     string        `yaml:"name"`
	Events   []eventFile   `yaml:"events"`
	Tools    []fixtureFile `yaml:"tools"`
	Expected toolCallFile  `yaml:"expected"`
}

// fixtureFile keeps the result schema and the canned value under separate
// keys: result is the schema shown to the model, returns is what Run yields.
type fixtureFile struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Args        tools.Schema `yaml:"args"`
	Result      tools.Schema `yaml:"result"`
	Returns     any          `yaml:"returns"`
}

type eventFile struct {
	Type  string         `yaml:"type"`
	Actor string         `yaml:"actor"`
	Data  map[string]any `yaml:"data"`
}

type toolCallFile struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args"`
}

// ParseScenario decodes one YAML scenario document.
func ParseScenario(data []byte) (Scenario, error) {
	var f scenarioFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if strings.TrimSpace(f.Name) == "" {
		return Scenario{}, fmt.Errorf("parse scenario: name is required")
	}

	sc := Scenario{Name: f.Name, Description: f.Description}
	for i, tf := range f.Tests {
		name := tf.Name
		if name == "" {
			name = fmt.Sprintf("test-%d", i+1)
		}
		if tf.Expected.Name == "" {
			return Scenario{}, fmt.Errorf("scenario %s test %s: expected.name is required", f.Name, name)
		}
		t := Test{
			Name:     name,
			Expected: provider.ToolCall{Name: tf.Expected.Name, Args: tf.Expected.Args},
		}
		if t.Expected.Args == nil {
			t.Expected.Args = map[string]any{}
		}
		for j, ff := range tf.Tools {
			if strings.TrimSpace(ff.Name) == "" {
				return Scenario{}, fmt.Errorf("scenario %s test %s tool %d: name is required", f.Name, name, j)
			}
			t.Tools = append(t.Tools, ToolFixture{
				Def: tools.Def{
					Name:        ff.Name,
					Description: ff.Description,
					Args:        ff.Args,
					Result:      ff.Result,
				},
				Returns: ff.Returns,
			})
		}
		for j, ef := range tf.Events {
			actor := event.Actor(ef.Actor)
			if actor == "" {
				actor = event.ActorSystem
			}
			if !actor.Valid() {
				return Scenario{}, fmt.Errorf("scenario %s test %s event %d: unknown actor %q", f.Name, name, j, ef.Actor)
			}
			var data any
			if ef.Data != nil {
				data = ef.Data
			}
			e, err := event.New(ef.Type, actor, data)
			if err != nil {
				return Scenario{}, fmt.Errorf("scenario %s test %s event %d: %w", f.Name, name, j, err)
			}
			t.Events = append(t.Events, e)
		}
		sc.Tests = append(sc.Tests, t)
	}
	return sc, nil
}

// LoadScenarios reads a scenario file, or every *.yaml / *.yml file in a
// directory, sorted by file name.
func LoadScenarios(path string) ([]Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}

	var out []Scenario
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		sc, err := ParseScenario(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// BuiltinScenarios returns the scenarios shipped with the package.
func BuiltinScenarios() ([]Scenario, error) {
	entries, err := builtinFS.ReadDir("scenarios")
	if err != nil {
		return nil, err
	}
	var out []Scenario
	for _, e := range entries {
		data, err := builtinFS.ReadFile("scenarios/" + e.Name())
		if err != nil {
			return nil, err
		}
		sc, err := ParseScenario(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", e.Name(), err)
		}
		out = append(out, sc)
	}
	return out, nil
}
