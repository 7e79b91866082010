package reminder

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Templates holds the message bodies per lesson kind, with exam-specific variants.
// Bodies are text/template strings over MessageData.
type Templates struct {
	Class       string `yaml:"class"`
	ClassExam   string `yaml:"class_exam"`
	Vehicle     string `yaml:"vehicle"`
	VehicleExam string `yaml:"vehicle_exam"`

	parsed map[string]*template.Template
}

// MessageData is what a template can reference.
type MessageData struct {
	Student string
	Title   string
	Date    string
	Time    string
}

// DefaultTemplates returns the built-in wording.
func DefaultTemplates() *Templates {
	t := &Templates{
		Class:       "Hi {{.Student}}, this is a reminder of your class on {{.Date}} at {{.Time}}. See you there!",
		ClassExam:   "Hi {{.Student}}, reminder: your exam is on {{.Date}} at {{.Time}}. Please arrive 15 minutes early and bring your ID.",
		Vehicle:     "Hi {{.Student}}, reminder: your driving lesson is tomorrow, {{.Date}} at {{.Time}}.",
		VehicleExam: "Hi {{.Student}}, reminder: your driving test is tomorrow, {{.Date}} at {{.Time}}. Bring your ID and learner permit.",
	}
	if err := t.compile(); err != nil {
		panic(err)
	}
	return t
}

// LoadTemplates reads a YAML file overriding any subset of the default wording.
func LoadTemplates(path string) (*Templates, error) {
	t := DefaultTemplates()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	if err := yaml.Unmarshal(raw, t); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	if err := t.compile(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Templates) compile() error {
	t.parsed = make(map[string]*template.Template, 4)
	for name, body := range map[string]string{
		"class":        t.Class,
		"class_exam":   t.ClassExam,
		"vehicle":      t.Vehicle,
		"vehicle_exam": t.VehicleExam,
	} {
		if body == "" {
			return fmt.Errorf("template %s is empty", name)
		}
		tpl, err := template.New(name).Option("missingkey=error").Parse(body)
		if err != nil {
			return fmt.Errorf("template %s: %w", name, err)
		}
		t.parsed[name] = tpl
	}
	return nil
}

// Render produces the message body for a lesson.
func (t *Templates) Render(kind Kind, exam bool, data MessageData) (string, error) {
	name := string(kind)
	if exam {
		name += "_exam"
	}
	tpl, ok := t.parsed[name]
	if !ok {
		return "", fmt.Errorf("no template for %s", name)
	}
	if data.Student == "" {
		data.Student = "there"
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
