package redis

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
LEARNING: REPLICATION ENVELOPE

Every published message is wrapped so receivers can tell who sent it:

  [int32 BE length of instanceID][instanceID bytes][payload bytes]

Each server process generates a random instanceID at startup and drops any
envelope carrying its own id. Without that filter a published update would
come straight back over the subscription and be applied twice.
*/

// ErrBadEnvelope reports an envelope too short or inconsistent to decode.
var ErrBadEnvelope = errors.New("malformed replication envelope")

// EncodeEnvelope wraps payload with the sender's instance id.
func EncodeEnvelope(instanceID string, payload []byte) []byte {
	buf := make([]byte, 4+len(instanceID)+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(instanceID)))
	copy(buf[4:], instanceID)
	copy(buf[4+len(instanceID):], payload)
	return buf
}

// DecodeEnvelope splits an envelope into sender id and payload.
func DecodeEnvelope(data []byte) (instanceID string, payload []byte, err error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrBadEnvelope, len(data))
	}
	idLen := int(binary.BigEndian.Uint32(data))
	if idLen < 0 || 4+idLen > len(data) {
		return "", nil, fmt.Errorf("%w: id length %d exceeds %d bytes", ErrBadEnvelope, idLen, len(data))
	}
	return string(data[4 : 4+idLen]), data[4+idLen:], nil
}
