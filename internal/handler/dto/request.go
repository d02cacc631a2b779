package dto

// CompleteTaskRequest represents the request body for POST /tasks/{id}/complete.
type CompleteTaskRequest struct {
	Status        string `json:"status"`
	RequestReview bool   `json:"request_review"`
}

// ReviewStatusRequest represents the request body for POST /tasks/{id}/review/status
// and POST /tasks/{id}/meta-review/status.
type ReviewStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

// CommentRequest carries the comment of a dispute or a meta-review request.
type CommentRequest struct {
	Comment string `json:"comment"`
}
