package dbt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventLevel is the severity of a dbt structured log event.
type EventLevel string

// Event levels emitted by dbt.
const (
	EventLevelDebug EventLevel = "debug"
	EventLevelTest  EventLevel = "test"
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// EventNodeFinished is the name of the event dbt emits when a node completes.
const EventNodeFinished = "NodeFinished"

// EventInfo is the common envelope of every dbt event.
type EventInfo struct {
	Name         string     `json:"name"`
	Code         string     `json:"code"`
	Level        EventLevel `json:"level"`
	Msg          string     `json:"msg"`
	InvocationID string     `json:"invocation_id"`
	Thread       string     `json:"thread"`
	Timestamp    string     `json:"ts"`
}

// Event is one line of dbt's JSON log.
type Event struct {
	Info EventInfo      `json:"info"`
	Data map[string]any `json:"data"`
}

// EventCallback receives every event in the order dbt wrote them.
type EventCallback func(Event)

// ParseEvent decodes a single JSON log line.
func ParseEvent(line []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to decode dbt event: %w", err)
	}
	ev.Info.Level = EventLevel(strings.ToLower(string(ev.Info.Level)))
	return ev, nil
}

// NodeInfo returns data.node_info and its unique_id, if present.
func (e Event) NodeInfo() (map[string]any, string, bool) {
	info, ok := e.Data["node_info"].(map[string]any)
	if !ok {
		return nil, "", false
	}
	id, _ := info["unique_id"].(string)
	return info, id, id != ""
}
