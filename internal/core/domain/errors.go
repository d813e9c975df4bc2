package domain

import "errors"

var (
	ErrMalformedSample = errors.New("malformed stats sample")
	ErrStreamInactive  = errors.New("stream is inactive")
	ErrNoVideoTrack    = errors.New("stream has no video track")
	ErrBridgeClosed    = errors.New("media bridge closed")
	ErrSourceNotFound  = errors.New("capture source not found")
	ErrShareRejected   = errors.New("share rejected by media server")
)
