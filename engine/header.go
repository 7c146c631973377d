package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ucarion/jcs"

	"github.com/wippyai/lightbridge/errors"
)

// Header is a block header in its JSON-RPC form.
type Header struct {
	ParentHash     string `json:"parentHash" yaml:"parent_hash"`
	Number         string `json:"number" yaml:"number"`
	StateRoot      string `json:"stateRoot" yaml:"state_root"`
	ExtrinsicsRoot string `json:"extrinsicsRoot" yaml:"extrinsics_root"`
	Digest         Digest `json:"digest" yaml:"digest"`
}

// Digest holds the header's digest items.
type Digest struct {
	Logs []string `json:"logs" yaml:"logs"`
}

// BlockNumber parses the hex block number.
func (h *Header) BlockNumber() (uint64, error) {
	return parseNumber(h.Number)
}

// Hash returns the 0x-prefixed SHA-256 of the header's canonical JSON
// (RFC 8785), so peers agree on it regardless of field order.
func (h *Header) Hash() (string, error) {
	raw, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", err
	}
	canonical, err := jcs.Format(normalized)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// DecodeHeader parses and validates a header received from a peer.
// A JSON null decodes to a nil header.
func DecodeHeader(payload []byte) (*Header, error) {
	if len(payload) == 0 {
		return nil, errors.InvalidInput(errors.PhaseEngine, "empty header payload")
	}
	var h *Header
	if err := json.Unmarshal(payload, &h); err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "malformed header")
	}
	if h == nil {
		return nil, nil
	}
	if _, err := h.BlockNumber(); err != nil {
		return nil, err
	}
	if !isHex(h.ParentHash) {
		return nil, errors.InvalidInput(errors.PhaseEngine, "header parentHash is not hex")
	}
	if h.Digest.Logs == nil {
		h.Digest.Logs = []string{}
	}
	return h, nil
}

func parseNumber(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") {
		return 0, errors.InvalidInput(errors.PhaseEngine, "block number must be 0x-prefixed hex")
	}
	n, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "invalid block number")
	}
	return n, nil
}

func isHex(s string) bool {
	if !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// decodeHexParam decodes a 0x-prefixed byte string parameter.
func decodeHexParam(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, errors.InvalidInput(errors.PhaseEngine, "expected 0x-prefixed hex")
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "invalid hex")
	}
	return b, nil
}
