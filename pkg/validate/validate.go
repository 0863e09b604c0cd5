// Package validate turns raw request strings into typed, range-checked values.
// Every failure is an *apperr.Error with status 400.
package validate

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"alertbox/pkg/apperr"
)

const (
	msgSenderAndAge = "Sender and age are required"
	msgSenderEmpty  = "Sender cannot be empty"
	msgAlertID      = "Invalid alert ID"
	msgAge          = "Age must be a positive integer"
	msgNotArray     = "deleteFileIds must be an array"
	msgBadJSON      = "deleteFileIds must be a valid JSON array"
)

// RequireSenderAndAge fails unless both values are present.
func RequireSenderAndAge(sender, age string) error {
	if sender == "" || age == "" {
		return apperr.Validation(msgSenderAndAge)
	}
	return nil
}

// RequireSender fails for a sender that was supplied but left blank.
func RequireSender(sender string) error {
	if strings.TrimSpace(sender) == "" {
		return apperr.Validation(msgSenderEmpty)
	}
	return nil
}

// ParseAlertID parses a path id; only strictly positive integers pass.
func ParseAlertID(raw string) (uint, error) {
	n, ok := positiveInt(raw)
	if !ok {
		return 0, apperr.Validation(msgAlertID)
	}
	return uint(n), nil
}

// ParseAge parses the age form field; only strictly positive integers pass.
func ParseAge(raw string) (int, error) {
	n, ok := positiveInt(raw)
	if !ok || n > int64(^uint32(0)>>1) {
		return 0, apperr.Validation(msgAge)
	}
	return int(n), nil
}

// ParseDeleteFileIDs decodes a JSON-encoded array of file ids. Elements may be
// numeric strings or JSON numbers. A blank input means no deletions.
func ParseDeleteFileIDs(raw string) ([]uint, error) {
	if strings.TrimSpace(raw) == "" {
		return []uint{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, apperr.Validation(msgBadJSON)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, apperr.Validation(msgBadJSON)
	}
	elems, ok := decoded.([]any)
	if !ok {
		return nil, apperr.Validation(msgNotArray)
	}

	ids := make([]uint, 0, len(elems))
	for _, e := range elems {
		var (
			n     int64
			valid bool
		)
		switch v := e.(type) {
		case string:
			n, valid = positiveInt(v)
		case json.Number:
			n, valid = positiveInt(v.String())
		}
		if !valid {
			return nil, apperr.Validationf(`Invalid file ID: "%s" is not a positive integer`, display(e))
		}
		ids = append(ids, uint(n))
	}
	return ids, nil
}

// CheckFileCountLimit fails when existing - deleted + added exceeds max.
// deleted must be the number of rows actually removed, not the number requested.
func CheckFileCountLimit(deleted, added, existing, max int) error {
	if existing-deleted+added > max {
		return apperr.Validationf("Cannot upload more than %d files in total, already at limit", max)
	}
	return nil
}

func positiveInt(raw string) (int64, bool) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// display renders a rejected element the way the client sent it.
func display(e any) string {
	switch v := e.(type) {
	case nil:
		return "null"
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "?"
		}
		return string(b)
	}
}
