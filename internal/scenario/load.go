package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kuitang/uiscenario/internal/errs"
)

// LookupFunc resolves ${NAME} references in scenario files.
type LookupFunc func(name string) (string, bool)

// Loader reads scenario YAML documents.
//
// A document looks like:
//
//	id: TC001_login
//	expect: passed
//	steps:
//	  - navigate: /
//	  - fill: {selector: "input[name=email]", value: "${EMAIL}"}
//	  - fill: {selector: "input[name=password]", value: "${PASSWORD}", secret: true}
//	  - click: {selector: "button[type=submit]", timeout: 5s}
//	  - wait_text: {text: "Welcome", timeout: 10s}
//
// permissions and geolocation configure the browser context:
//
//	permissions: [geolocation]
//	geolocation: {latitude: -15.6014, longitude: -56.0979}
//
// fill and click accept an inline selector, which expands to a locate step
// followed by the action.
type Loader struct {
	Lookup LookupFunc
}

// NewLoader returns a loader that expands variables from the environment.
func NewLoader() *Loader {
	return &Loader{Lookup: os.LookupEnv}
}

type fileDoc struct {
	ID          string       `yaml:"id"`
	Description string       `yaml:"description"`
	Tags        []string     `yaml:"tags"`
	Expect      Outcome      `yaml:"expect"`
	Permissions []string     `yaml:"permissions"`
	Geolocation *Geolocation `yaml:"geolocation"`
	Steps       []yaml.Node  `yaml:"steps"`
}

type stepFields struct {
	Label     string        `yaml:"label"`
	URL       string        `yaml:"url"`
	WaitUntil WaitCondition `yaml:"wait_until"`
	Selector  string        `yaml:"selector"`
	Index     int           `yaml:"index"`
	Value     string        `yaml:"value"`
	Secret    bool          `yaml:"secret"`
	Text      string        `yaml:"text"`
	State     ElementState  `yaml:"state"`
	Timeout   time.Duration `yaml:"timeout"`
	Kind      PredicateKind `yaml:"kind"`
	Expected  string        `yaml:"expected"`
	Message   string        `yaml:"message"`
}

// Parse decodes every YAML document in r. name is used in error messages.
func (l *Loader) Parse(name string, r io.Reader) ([]*Scenario, error) {
	dec := yaml.NewDecoder(r)
	var out []*Scenario
	for docIndex := 0; ; docIndex++ {
		var doc fileDoc
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("%s: document %d", name, docIndex), err)
		}
		s, err := l.build(doc)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("%s: document %d", name, docIndex), err)
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("%s: no scenarios", name))
	}
	return out, nil
}

// LoadFile parses one scenario file from disk.
func (l *Loader) LoadFile(filePath string) ([]*Scenario, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read scenario file %s: %w", filePath, err)
	}
	return l.Parse(filePath, bytes.NewReader(data))
}

// LoadFS parses every *.yaml / *.yml file under root in fsys, in lexical
// order. Scenario IDs must be unique across the set.
func (l *Loader) LoadFS(fsys fs.FS, root string) ([]*Scenario, error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk scenarios: %w", err)
	}
	sort.Strings(files)

	var out []*Scenario
	seen := make(map[string]string)
	for _, f := range files {
		data, err := fs.ReadFile(fsys, f)
		if err != nil {
			return nil, fmt.Errorf("read scenario file %s: %w", f, err)
		}
		parsed, err := l.Parse(f, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		for _, s := range parsed {
			if prev, dup := seen[s.ID()]; dup {
				return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("duplicate scenario id %q in %s and %s", s.ID(), prev, f))
			}
			seen[s.ID()] = f
			out = append(out, s)
		}
	}
	return out, nil
}

func (l *Loader) build(doc fileDoc) (*Scenario, error) {
	exp := &expander{lookup: l.Lookup}
	var steps []Step
	for i := range doc.Steps {
		decoded, err := decodeStep(&doc.Steps[i], exp)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, decoded...)
	}
	if err := exp.err(); err != nil {
		return nil, err
	}

	opts := []Option{WithDescription(doc.Description), WithTags(doc.Tags...)}
	if doc.Expect != "" {
		opts = append(opts, ExpectOutcome(doc.Expect))
	}
	if len(doc.Permissions) > 0 {
		opts = append(opts, WithPermissions(doc.Permissions...))
	}
	if doc.Geolocation != nil {
		opts = append(opts, WithGeolocation(*doc.Geolocation))
	}
	return New(doc.ID, steps, opts...)
}

func decodeStep(node *yaml.Node, exp *expander) ([]Step, error) {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return nil, fmt.Errorf("line %d: a step is a mapping with exactly one action key", node.Line)
	}
	kind := StepKind(node.Content[0].Value)
	body := node.Content[1]

	var f stepFields
	if body.Kind == yaml.ScalarNode {
		if err := shorthand(kind, body, &f); err != nil {
			return nil, err
		}
	} else if err := body.Decode(&f); err != nil {
		return nil, fmt.Errorf("line %d: %w", body.Line, err)
	}

	f.URL = exp.expand(f.URL)
	f.Selector = exp.expand(f.Selector)
	f.Value = exp.expand(f.Value)
	f.Text = exp.expand(f.Text)
	f.Expected = exp.expand(f.Expected)

	switch kind {
	case KindNavigate:
		s := Navigate(f.URL)
		if f.WaitUntil != "" {
			s.WaitUntil = f.WaitUntil
		}
		s.Timeout, s.Label = f.Timeout, f.Label
		return []Step{s}, nil
	case KindLocate:
		s := Locate(f.Selector, f.Index)
		s.Timeout, s.Label = f.Timeout, f.Label
		return []Step{s}, nil
	case KindFill:
		s := Fill(f.Value)
		s.Secret, s.Timeout, s.Label = f.Secret, f.Timeout, f.Label
		s.Selector = f.Selector
		return withInlineLocate(f, s), nil
	case KindClick:
		s := Click(f.Timeout)
		s.Label = f.Label
		s.Selector = f.Selector
		return withInlineLocate(f, s), nil
	case KindWaitText:
		s := WaitForText(f.Text, f.Timeout)
		s.Label = f.Label
		return []Step{s}, nil
	case KindWaitState:
		s := WaitForState(f.Selector, f.State, f.Timeout)
		s.Label = f.Label
		return []Step{s}, nil
	case KindAssert:
		s := Assert(Predicate{Kind: f.Kind, Selector: f.Selector, Expected: f.Expected}, f.Message)
		s.Timeout, s.Label = f.Timeout, f.Label
		return []Step{s}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown step %q", node.Content[0].Line, kind)
	}
}

func withInlineLocate(f stepFields, action Step) []Step {
	if f.Selector == "" {
		return []Step{action}
	}
	return []Step{Locate(f.Selector, f.Index), action}
}

func shorthand(kind StepKind, body *yaml.Node, f *stepFields) error {
	switch kind {
	case KindNavigate:
		f.URL = body.Value
	case KindFill:
		f.Value = body.Value
	case KindWaitText:
		f.Text = body.Value
	case KindLocate, KindClick:
		f.Selector = body.Value
	default:
		return fmt.Errorf("line %d: %s needs a mapping body", body.Line, kind)
	}
	return nil
}

type expander struct {
	lookup  LookupFunc
	missing map[string]struct{}
}

func (e *expander) expand(s string) string {
	if s == "" || !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if name == "$" {
			return "$"
		}
		if e.lookup != nil {
			if v, ok := e.lookup(name); ok {
				return v
			}
		}
		if e.missing == nil {
			e.missing = make(map[string]struct{})
		}
		e.missing[name] = struct{}{}
		return ""
	})
}

func (e *expander) err() error {
	if len(e.missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(e.missing))
	for n := range e.missing {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Errorf("undefined variables: %s", strings.Join(names, ", "))
}
