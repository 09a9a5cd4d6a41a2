package usecases

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	errorStringSelector = "0x08c379a0"
	panicSelector       = "0x4e487b71"
)

var revertHexPattern = regexp.MustCompile(`0x[0-9a-fA-F]{8,}`)

// decodeRevertReason extracts a human readable revert reason from an RPC error.
// It supports rpc.DataError payloads and fallback extraction from error strings.
func decodeRevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	if data, ok := extractRevertHexFromDataError(err); ok {
		return decodeRevertData(data), true
	}

	if data, ok := extractRevertHexFromErrorString(err.Error()); ok {
		return decodeRevertData(data), true
	}

	if msg := strings.TrimSpace(err.Error()); strings.Contains(msg, "execution reverted:") {
		return strings.TrimSpace(msg[strings.Index(msg, "execution reverted:")+len("execution reverted:"):]), true
	}

	return "", false
}

// isBareRevert reports whether the call reverted without any revert data,
// which is what a contract without a matching selector or fallback produces.
func isBareRevert(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := extractRevertHexFromDataError(err); ok {
		return false
	}
	return strings.TrimSpace(strings.ToLower(err.Error())) == "execution reverted"
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return "execution reverted"
	}

	selector := "0x" + hex.EncodeToString(data[:4])

	// Error(string)
	if selector == errorStringSelector && len(data) > 4 {
		stringType, err := abi.NewType("string", "", nil)
		if err == nil {
			outputs := abi.Arguments{{Type: stringType}}
			if values, unpackErr := outputs.Unpack(data[4:]); unpackErr == nil && len(values) == 1 {
				if msg, ok := values[0].(string); ok {
					return msg
				}
			}
		}
	}

	// Panic(uint256)
	if selector == panicSelector && len(data) >= 36 {
		return fmt.Sprintf("panic code: %s", new(big.Int).SetBytes(data[4:36]).String())
	}

	return fmt.Sprintf("execution reverted (%s)", selector)
}

func extractRevertHexFromDataError(err error) ([]byte, bool) {
	type rpcDataError interface {
		ErrorData() interface{}
	}
	dataErr, ok := err.(rpcDataError)
	if !ok {
		return nil, false
	}
	return parseRevertBytesFromAny(dataErr.ErrorData())
}

func parseRevertBytesFromAny(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case string:
		return parseHexBytes(v)
	case []byte:
		if len(v) == 0 {
			return nil, false
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, true
	case map[string]interface{}:
		if raw, ok := v["data"]; ok {
			return parseRevertBytesFromAny(raw)
		}
	}
	return nil, false
}

func extractRevertHexFromErrorString(message string) ([]byte, bool) {
	for _, candidate := range revertHexPattern.FindAllString(message, -1) {
		if data, ok := parseHexBytes(candidate); ok {
			return data, true
		}
	}
	return nil, false
}

func parseHexBytes(raw string) ([]byte, bool) {
	value := strings.TrimSpace(strings.TrimPrefix(raw, "0x"))
	if len(value) < 8 || len(value)%2 != 0 {
		return nil, false
	}
	data, err := hex.DecodeString(value)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}
