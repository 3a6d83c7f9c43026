package call

import "errors"

var (
	// ErrMediaAccess means local capture could not be acquired.
	ErrMediaAccess = errors.New("call: media access failed")

	// ErrInvalidOffer means an inbound call request carried no usable offer.
	ErrInvalidOffer = errors.New("call: invalid offer")

	// ErrNegotiation means a session description could not be built or applied.
	ErrNegotiation = errors.New("call: negotiation failed")

	// ErrConnectivity means the media path failed after negotiation.
	ErrConnectivity = errors.New("call: connectivity failure")

	// ErrInvalidState means the operation is not valid in the current state.
	ErrInvalidState = errors.New("call: invalid state for operation")

	// ErrBusy means a call is already active.
	ErrBusy = errors.New("call: busy")
)
