// Package reminder regenerates lesson reminder jobs from the calendar.
package reminder

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind is the lesson category read from the notes.
type Kind string

const (
	KindClass   Kind = "class"
	KindVehicle Kind = "vehicle"
)

// ErrNoPhone means the notes carry no phone line, so no reminder is possible.
var ErrNoPhone = errors.New("notes carry no phone")

// MalformedError reports a labeled field whose value cannot be used.
type MalformedError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s %q: %s", e.Field, e.Value, e.Reason)
}

// Notes is the structured data carried in an event's free-text notes.
type Notes struct {
	Phone   string
	Student string
	Kind    Kind
	Exam    bool
}

var (
	fieldLine  = regexp.MustCompile(`(?im)^[ \t]*(phone|tel|telephone|student|name|type|category|exam)[ \t]*[:=][ \t]*(.*?)[ \t]*$`)
	examTag    = regexp.MustCompile(`(?i)\[exam\]`)
	phoneShape = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	phoneNoise = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")
)

// ParseNotes extracts the labeled fields. The first occurrence of a label wins. It returns
// ErrNoPhone when no phone line exists and a *MalformedError when a present value is unusable.
//
//	Phone: +1 555 000 1234
//	Student: Jane Doe
//	Type: vehicle
//	Exam: yes
func ParseNotes(notes string) (Notes, error) {
	n := Notes{Kind: KindClass}
	seen := map[string]bool{}
	var rawPhone, rawKind string
	hasPhone := false

	for _, m := range fieldLine.FindAllStringSubmatch(notes, -1) {
		label, value := canonicalLabel(m[1]), m[2]
		if seen[label] {
			continue
		}
		seen[label] = true
		switch label {
		case "phone":
			rawPhone, hasPhone = value, true
		case "student":
			n.Student = strings.Join(strings.Fields(value), " ")
		case "type":
			rawKind = value
		case "exam":
			n.Exam = truthy(value)
		}
	}
	if examTag.MatchString(notes) {
		n.Exam = true
	}

	if !hasPhone || strings.TrimSpace(rawPhone) == "" {
		return n, ErrNoPhone
	}
	phone := phoneNoise.Replace(rawPhone)
	if !phoneShape.MatchString(phone) {
		return n, &MalformedError{Field: "phone", Value: rawPhone, Reason: "expected 8-15 digits with optional leading +"}
	}
	n.Phone = phone

	kind, ok := parseKind(rawKind)
	if !ok {
		return n, &MalformedError{Field: "type", Value: rawKind, Reason: "unknown lesson type"}
	}
	n.Kind = kind
	return n, nil
}

func canonicalLabel(label string) string {
	switch strings.ToLower(label) {
	case "phone", "tel", "telephone":
		return "phone"
	case "student", "name":
		return "student"
	case "type", "category":
		return "type"
	default:
		return strings.ToLower(label)
	}
}

func parseKind(v string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "class", "lesson", "in-person", "default":
		return KindClass, true
	case "vehicle", "driving", "car":
		return KindVehicle, true
	}
	return "", false
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "1", "x":
		return true
	}
	return false
}
