// Package checkpoint serializes pipeline state into an opaque token that can
// be stored on a run and decoded after a process restart.
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// compressThreshold is the serialized size above which tokens are gzipped
const compressThreshold = 100000

// compressedPrefix tags tokens whose payload is gzip+base64 rather than plain JSON
const compressedPrefix = "gz:"

// Encode serializes a state value into a checkpoint token. Payloads larger
// than the threshold are compressed and tagged so Decode can tell the two
// forms apart.
func Encode(state any) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint state: %w", err)
	}

	if len(data) <= compressThreshold {
		return string(data), nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress checkpoint: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize compressed checkpoint: %w", err)
	}

	return compressedPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode parses a checkpoint token into state. Malformed or truncated tokens
// return an error rather than partial state; callers treat any error as
// "no usable checkpoint".
func Decode(token string, state any) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty checkpoint token")
	}

	data := []byte(token)
	if strings.HasPrefix(token, compressedPrefix) {
		raw, err := base64.StdEncoding.DecodeString(token[len(compressedPrefix):])
		if err != nil {
			return fmt.Errorf("failed to decode compressed checkpoint: %w", err)
		}
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("failed to open compressed checkpoint: %w", err)
		}
		data, err = io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("failed to decompress checkpoint: %w", err)
		}
		if err := zr.Close(); err != nil {
			return fmt.Errorf("corrupt compressed checkpoint: %w", err)
		}
	}

	if err := json.Unmarshal(data, state); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint state: %w", err)
	}
	return nil
}
