package handler

import (
	"encoding/json"
	"errors"
)

// DbtTestError is raised on purpose by the x-error and x-fail test events.
type DbtTestError struct {
	Message string
}

// Error implements the error interface for DbtTestError.
func (e *DbtTestError) Error() string {
	return e.Message
}

// DbtRuntimeError reports a dbt run whose nodes did not all pass. Its
// message is a JSON object {"name": "DbtRuntimeError", "text": <failed nodes>}.
type DbtRuntimeError struct {
	Text string
}

// Error implements the error interface for DbtRuntimeError.
func (e *DbtRuntimeError) Error() string {
	data, err := json.Marshal(struct {
		Name string `json:"name"`
		Text string `json:"text"`
	}{Name: "DbtRuntimeError", Text: e.Text})
	if err != nil {
		return "DbtRuntimeError: " + e.Text
	}
	return string(data)
}

// IsDbtRuntimeError checks if the error is or wraps a DbtRuntimeError.
func IsDbtRuntimeError(err error) bool {
	var re *DbtRuntimeError
	return errors.As(err, &re)
}
