package core

import "context"

// PublishRequest is one offer submission to a relay publish endpoint.
type PublishRequest struct {
	Endpoint     string
	OfferSDP     string
	StreamTarget string
}

type PublishResponse struct {
	AnswerSDP string
	SessionID string
}

// Publisher performs the single request/response publish exchange of the
// relay strategy. Any failure leaves no partial state behind.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (PublishResponse, error)
}
