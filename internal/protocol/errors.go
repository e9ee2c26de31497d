package protocol

import "errors"

var ErrShortPayload = errors.New("protocol: payload shorter than code header")
