package parse

import "fmt"

// ErrorKind classifies a parse failure. Every parser in this tree reports
// failures through Error so callers can sort skips by kind without string
// matching.
type ErrorKind int

const (
	// KindTruncatedHeader means the file ended before its fixed or
	// self-describing header was complete.
	KindTruncatedHeader ErrorKind = iota

	// KindUnsupportedSubVersion means the container was recognized but its
	// revision is outside the range this engine handles.
	KindUnsupportedSubVersion

	// KindEncodingError means text in the dictionary could not be decoded
	// with the file's declared encoding. Undecodable bytes fail the file;
	// silently substituting replacement characters would corrupt the
	// downstream name filters.
	KindEncodingError

	// KindStructuralInconsistency means the file's declared counts and its
	// actual contents disagree, or a mandatory record is malformed.
	KindStructuralInconsistency
)

func (k ErrorKind) String() string {
	switch k {
	case KindTruncatedHeader:
		return "truncated header"
	case KindUnsupportedSubVersion:
		return "unsupported sub-version"
	case KindEncodingError:
		return "encoding error"
	case KindStructuralInconsistency:
		return "structural inconsistency"
	default:
		return "parse error"
	}
}

// Error is a typed parse failure for one file.
type Error struct {
	Kind   ErrorKind
	Source string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Detail)
}

// Errorf builds an Error with a formatted detail message.
func Errorf(kind ErrorKind, source, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Source: source, Detail: fmt.Sprintf(format, args...)}
}
