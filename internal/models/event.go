package models

// Project source selectors
const (
	SourceRepo  = "repo"
	SourceS3    = "s3"
	SourceLocal = "local"
)

// Event is the invocation payload accepted by the Lambda handler.
// Args is a pointer so an absent field can be told apart from an empty list.
type Event struct {
	Args     *[]string `json:"args,omitempty"`
	Source   string    `json:"source,omitempty"`
	BasePath string    `json:"base_path,omitempty"`
}

// NewEvent builds an Event with explicit args.
func NewEvent(args []string, source, basePath string) Event {
	a := append([]string{}, args...)
	return Event{Args: &a, Source: source, BasePath: basePath}
}

// Response is the invocation result returned by the Lambda handler.
type Response struct {
	StatusCode int          `json:"statusCode"`
	Message    string       `json:"message"`
	Success    *bool        `json:"success,omitempty"`
	Nodes      []NodeResult `json:"nodes,omitempty"`
}

// NewResponse builds a 200 response carrying the runner result.
func NewResponse(result RunnerResult) Response {
	success := result.Success
	return Response{
		StatusCode: 200,
		Message:    result.String(),
		Success:    &success,
		Nodes:      result.Nodes,
	}
}
