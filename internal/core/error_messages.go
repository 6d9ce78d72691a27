package core

// error_messages.go maps technical conversion errors to user-facing messages
// with support codes.
//
// # Error Codes Reference
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - No column names: the CSV has no header and no names were given
//	         Action: Enable the header option or supply column names
//	CFG002 - Column count: supplied names do not match the file's columns
//	         Action: Supply one name per column
//	CFG003 - Column types: the type map does not match the columns
//	         Action: Give every column exactly one type
//	CFG004 - Encoding: the encoding name is not supported
//	         Action: Use utf-8, utf-8-sig, utf-16, utf-32 or check
//	CFG005 - Format: the JSON format name is not supported
//	         Action: Use auto, ndjson or array
//	CFG006 - Array encoding: array JSON must be UTF-8
//	         Action: Re-save the file as UTF-8 or convert it to NDJSON
//	CFG007 - Option: a request option could not be parsed
//	         Action: Check the option value
//
// # Structure Errors (STR001-STR099)
//
//	STR001 - Record shape: a record's fields differ from the first record
//	STR002 - Not an object: a record is not a JSON object
//	STR003 - Not an array: the document's top level is not an array
//	STR004 - Too few names: fewer field names than flattened values
//	STR005 - Key collision: two fields flatten to the same column name
//
// # Conversion Errors (CNV001-CNV099)
//
//	CNV001 - Type conversion: a cell does not match its column type
//
// # JSON Errors (JSN001-JSN099)
//
//	JSN001 - Unknown format: the file starts with neither "[" nor "{"
//	JSN002 - Unbalanced quotes: the file ends inside a string
//	JSN003 - Invalid JSON: the file is not valid JSON
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Too large, FILE002 - Not found, FILE003 - Empty file,
//	FILE004 - No records, FILE005 - No file, FILE006 - Unsupported type
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Cancelled, JOB002 - Timed out, JOB003 - Unknown job
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Conversions busy, RATE002 - Too many requests
//
// Typed errors are matched first with errors.Is and errors.As, so wrapping
// never hides them. Anything left is matched case-insensitively against
// errorPatterns; the first match wins. ERR000 is the fallback, and support
// staff should read the logs for the technical error when users report it.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/JonMunkholm/csvjson/internal/convert"
	"github.com/JonMunkholm/csvjson/internal/csvstream"
	"github.com/JonMunkholm/csvjson/internal/flatten"
	"github.com/JonMunkholm/csvjson/internal/jsonstream"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

// errorKind matches a typed error.
type errorKind struct {
	match func(error) bool
	msg   UserMessage
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// errorKinds is checked in order before errorPatterns.
var errorKinds = []errorKind{
	{is(csvstream.ErrNoColumnNames), UserMessage{
		Message: "The CSV has no column names",
		Action:  "Enable the header option or supply column names",
		Code:    "CFG001",
	}},
	{is(csvstream.ErrColumnCount), UserMessage{
		Message: "The number of column names does not match the file",
		Action:  "Supply exactly one name per column",
		Code:    "CFG002",
	}},
	{is(csvstream.ErrTypeCount), UserMessage{
		Message: "The column types do not match the columns",
		Action:  "Give every column exactly one type",
		Code:    "CFG003",
	}},
	{is(jsonstream.ErrFormatName), UserMessage{
		Message: "Unsupported JSON format",
		Action:  "Use auto, ndjson or array",
		Code:    "CFG005",
	}},
	{is(jsonstream.ErrArrayEncoding), UserMessage{
		Message: "Array JSON files must be UTF-8",
		Action:  "Re-save the file as UTF-8 or use NDJSON",
		Code:    "CFG006",
	}},
	{is(convert.ErrColumnMismatch), UserMessage{
		Message: "A record has different fields from the first record",
		Action:  "Make every record share the same fields",
		Code:    "STR001",
	}},
	{is(convert.ErrNotObject), UserMessage{
		Message: "A record is not a JSON object",
		Action:  "Make every record a JSON object",
		Code:    "STR002",
	}},
	{is(jsonstream.ErrNotArray), UserMessage{
		Message: "The JSON document is not an array",
		Action:  "Wrap the records in [ ] or choose the ndjson format",
		Code:    "STR003",
	}},
	{is(flatten.ErrOverrideExhausted), UserMessage{
		Message: "Fewer field names than values",
		Action:  "Supply one field name per flattened value",
		Code:    "STR004",
	}},
	{is(flatten.ErrDuplicateKey), UserMessage{
		Message: "Two fields flatten to the same column name",
		Action:  "Rename the field or choose another separator",
		Code:    "STR005",
	}},
	{func(err error) bool {
		var ce *csvstream.ConversionError
		return errors.As(err, &ce)
	}, UserMessage{
		Message: "A value does not match its column type",
		Action:  "Fix the value or declare the column as a string",
		Code:    "CNV001",
	}},
	{is(jsonstream.ErrUnknownFormat), UserMessage{
		Message: "Could not tell whether the file is a JSON array or NDJSON",
		Action:  "Choose the format explicitly",
		Code:    "JSN001",
	}},
	{is(jsonstream.ErrUnterminatedStr), UserMessage{
		Message: "The file has an unterminated string",
		Action:  "Check the reported line for a missing quote",
		Code:    "JSN002",
	}},
	{is(os.ErrNotExist), UserMessage{
		Message: "File not found",
		Action:  "Check the path and try again",
		Code:    "FILE002",
	}},
	{is(csvstream.ErrEmptyInput), UserMessage{
		Message: "The file is empty",
		Action:  "Upload a file with at least a header line",
		Code:    "FILE003",
	}},
	{is(convert.ErrNoRows), UserMessage{
		Message: "The file has no records",
		Action:  "Upload a file with at least one record",
		Code:    "FILE004",
	}},
	{is(context.Canceled), UserMessage{
		Message: "Conversion was cancelled",
		Action:  "Start a new conversion when ready",
		Code:    "JOB001",
	}},
	{is(context.DeadlineExceeded), UserMessage{
		Message: "Conversion timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "JOB002",
	}},
	{is(ErrJobNotFound), UserMessage{
		Message: "Conversion job not found",
		Action:  "The job may have been pruned from history",
		Code:    "JOB003",
	}},
	{is(ErrTooManyConversions), UserMessage{
		Message: "Too many conversions in progress",
		Action:  "Please wait a moment and try again",
		Code:    "RATE001",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catches errors that only exist as text, such as those from
// encoding/json, encoding/csv and net/http.
var errorPatterns = []errorPattern{
	{
		pattern: "unsupported encoding",
		msg: UserMessage{
			Message: "Unsupported text encoding",
			Action:  "Use utf-8, utf-8-sig, utf-16, utf-32 or check",
			Code:    "CFG004",
		},
	},
	{
		pattern: "unknown column type",
		msg: UserMessage{
			Message: "Unknown column type",
			Action:  "Use str, int or float",
			Code:    "CFG003",
		},
	},
	{
		pattern: "invalid option",
		msg: UserMessage{
			Message: "Invalid conversion option",
			Action:  "Check the option values and try again",
			Code:    "CFG007",
		},
	},
	{
		pattern: "invalid character",
		msg: UserMessage{
			Message: "The file is not valid JSON",
			Action:  "Validate the file with a JSON linter",
			Code:    "JSN003",
		},
	},
	{
		pattern: "unexpected end of json input",
		msg: UserMessage{
			Message: "The file is not valid JSON",
			Action:  "Validate the file with a JSON linter",
			Code:    "JSN003",
		},
	},
	{
		pattern: "unexpected eof",
		msg: UserMessage{
			Message: "The file ended unexpectedly",
			Action:  "Check that the file was uploaded completely",
			Code:    "JSN003",
		},
	},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller parts",
			Code:    "FILE001",
		},
	},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the file into smaller parts",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Choose a file to convert",
			Code:    "FILE005",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "Unsupported file type",
			Action:  "Upload a .csv or .json file, optionally compressed",
			Code:    "FILE006",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE002",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. A
// *UserError keeps the message it already carries.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	for _, k := range errorKinds {
		if k.match(err) {
			return k.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with the message shown to users.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
