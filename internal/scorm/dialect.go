package scorm

import (
	"fmt"

	"github.com/pot-code/course-playback/internal/domain"
)

// Method RTE operation, independent of the version specific function name
type Method int

// RTE operations
const (
	MethodUnknown Method = iota
	MethodInitialize
	MethodTerminate
	MethodGetValue
	MethodSetValue
	MethodCommit
	MethodGetLastError
	MethodGetErrorString
	MethodGetDiagnostic
)

// Sentinels returned to content
const (
	True       = "true"
	False      = "false"
	NoError    = "0"
	emptyValue = ""
)

// Dialect element names and API surface of one SCORM version.
//
// Adding a version means adding a table entry, the runtime never branches on
// the version itself.
type Dialect struct {
	Version domain.ScormVersion
	// APIName global object name content looks up
	APIName string
	Methods map[string]Method
	// Completion element -> values that complete the lesson
	Completion     map[string][]string
	ScoreElement   string
	ScoreMax       string
	SuspendElement string
	// SuspendLimit max suspend data length accepted, 0 disables the check
	SuspendLimit int
	LearnerID    string
	LearnerName  string
	EntryElement string
}

var scorm12 = Dialect{
	Version: domain.Scorm12,
	APIName: "API",
	Methods: map[string]Method{
		"LMSInitialize":     MethodInitialize,
		"LMSFinish":         MethodTerminate,
		"LMSGetValue":       MethodGetValue,
		"LMSSetValue":       MethodSetValue,
		"LMSCommit":         MethodCommit,
		"LMSGetLastError":   MethodGetLastError,
		"LMSGetErrorString": MethodGetErrorString,
		"LMSGetDiagnostic":  MethodGetDiagnostic,
	},
	Completion: map[string][]string{
		"cmi.core.lesson_status": {"completed", "passed"},
	},
	ScoreElement:   "cmi.core.score.raw",
	ScoreMax:       "cmi.core.score.max",
	SuspendElement: "cmi.suspend_data",
	SuspendLimit:   4096,
	LearnerID:      "cmi.core.student_id",
	LearnerName:    "cmi.core.student_name",
	EntryElement:   "cmi.core.entry",
}

var scorm2004 = Dialect{
	Version: domain.Scorm2004,
	APIName: "API_1484_11",
	Methods: map[string]Method{
		"Initialize":     MethodInitialize,
		"Terminate":      MethodTerminate,
		"GetValue":       MethodGetValue,
		"SetValue":       MethodSetValue,
		"Commit":         MethodCommit,
		"GetLastError":   MethodGetLastError,
		"GetErrorString": MethodGetErrorString,
		"GetDiagnostic":  MethodGetDiagnostic,
	},
	Completion: map[string][]string{
		"cmi.completion_status": {"completed"},
		"cmi.success_status":    {"passed"},
	},
	ScoreElement:   "cmi.score.raw",
	ScoreMax:       "cmi.score.max",
	SuspendElement: "cmi.suspend_data",
	SuspendLimit:   64000,
	LearnerID:      "cmi.learner_id",
	LearnerName:    "cmi.learner_name",
	EntryElement:   "cmi.entry",
}

var dialects = map[domain.ScormVersion]Dialect{
	domain.Scorm12:   scorm12,
	domain.Scorm2004: scorm2004,
}

// LookupDialect dialect table entry for version
func LookupDialect(version domain.ScormVersion) (Dialect, error) {
	d, ok := dialects[version]
	if !ok {
		return Dialect{}, fmt.Errorf("scorm: unsupported version %q", version)
	}
	return d, nil
}

// DialectByAPIName resolve the dialect installed under a global name
func DialectByAPIName(name string) (Dialect, bool) {
	for _, d := range dialects {
		if d.APIName == name {
			return d, true
		}
	}
	return Dialect{}, false
}

// Method resolve a version specific function name
func (d *Dialect) Method(name string) Method {
	if m, ok := d.Methods[name]; ok {
		return m
	}
	return MethodUnknown
}

// Completes reports whether writing value to element completes the lesson
func (d *Dialect) Completes(element, value string) bool {
	for _, v := range d.Completion[element] {
		if v == value {
			return true
		}
	}
	return false
}

// IsStatusElement element is one of the completion/success status elements
func (d *Dialect) IsStatusElement(element string) bool {
	_, ok := d.Completion[element]
	return ok
}
