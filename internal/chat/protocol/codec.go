package protocol

import (
	"encoding/json"

	commonerrors "github.com/AlibekovAA/realtime-hub/backend/internal/common/errors"
)

// Marshal encodes a complete outbound frame. Fan-out encodes once and hands
// the same bytes to every recipient.
func Marshal(msgType MessageType, payload any) ([]byte, error) {
	return MarshalWithRequest(msgType, "", payload)
}

func MarshalWithRequest(msgType MessageType, requestID string, payload any) ([]byte, error) {
	msg := WSMessage{Type: msgType, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, commonerrors.ErrMarshalError.WithCause(err)
		}
		msg.Payload = raw
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, commonerrors.ErrMarshalError.WithCause(err)
	}
	return frame, nil
}

// Decode parses an inbound envelope. The payload is left raw for the handler.
func Decode(frame []byte) (WSMessage, error) {
	var msg WSMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return WSMessage{}, commonerrors.ErrInvalidPayload.WithCause(err)
	}
	if msg.Type == "" {
		return WSMessage{}, commonerrors.ErrInvalidPayload
	}
	return msg, nil
}

// ErrorFromDomain renders err for the wire. Non-domain errors are reported as
// internal without leaking their text.
func ErrorFromDomain(err error) ErrorPayload {
	if de, ok := commonerrors.AsDomainError(err); ok {
		return ErrorPayload{Code: de.Code(), Message: de.Message()}
	}
	return ErrorPayload{
		Code:    commonerrors.ErrInternalError.Code(),
		Message: commonerrors.ErrInternalError.Message(),
	}
}
