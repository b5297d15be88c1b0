package response

// Response is the envelope for every API reply.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const (
	StatusOk    = "ok"
	StatusError = "error"
)

func Ok(message string) Response {
	return Response{
		Status:  StatusOk,
		Message: message,
	}
}

func Error(message string) Response {
	return Response{
		Status:  StatusError,
		Message: message,
	}
}
