// Package codec implements the wire message codec (C3): a 4-byte
// big-endian length prefix followed by a JSON-encoded, schema-neutral
// keyed mapping, read and written over a raw net.Conn.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"
)

// progressLogThreshold is the payload size above which chunked reads emit
// debug-level progress, mirroring the reference implementation's behavior
// for large registration payloads.
const progressLogThreshold = 100 * 1024

// Message is the schema-neutral keyed mapping carried by every frame.
// Field names follow the Spanish vocabulary fixed by the wire protocol
// (e.g. "tipoOperacion", "ID_CUENTA") so payloads round-trip unchanged
// through workers that don't interpret every field.
type Message map[string]interface{}

// ReadMessage reads one length-prefixed frame from conn. maxFrameBytes
// bounds the declared length to guard against a peer claiming an
// unreasonable payload size.
func ReadMessage(conn net.Conn, maxFrameBytes int64, log zerolog.Logger) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	frameLen := int64(binary.BigEndian.Uint32(lenBuf[:]))
	if frameLen <= 0 {
		return nil, fmt.Errorf("invalid frame length %d", frameLen)
	}
	if frameLen > maxFrameBytes {
		return nil, fmt.Errorf("frame length %d exceeds max %d", frameLen, maxFrameBytes)
	}

	payload := make([]byte, frameLen)
	const chunkSize = 64 * 1024
	var read int64
	for read < frameLen {
		end := read + chunkSize
		if end > frameLen {
			end = frameLen
		}
		n, err := io.ReadFull(conn, payload[read:end])
		read += int64(n)
		if err != nil {
			return nil, fmt.Errorf("read frame payload at %d/%d bytes: %w", read, frameLen, err)
		}
		if frameLen > progressLogThreshold {
			log.Debug().Int64("read", read).Int64("total", frameLen).Msg("reading large frame")
		}
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode frame payload: %w", err)
	}
	return msg, nil
}

// Str returns the string value at key, or "" if absent or the wrong type.
func (m Message) Str(key string) string {
	v, _ := m[key].(string)
	return v
}

// Int64 returns the numeric value at key as an int64. JSON numbers decode
// as float64, so this accepts both float64 and json.Number representations.
func (m Message) Int64(key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Float64 returns the numeric value at key as a float64.
func (m Message) Float64(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// WriteMessage encodes msg as JSON and writes it as one length-prefixed
// frame to conn.
func WriteMessage(conn net.Conn, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame payload: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
