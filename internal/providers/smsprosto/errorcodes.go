package smsprosto

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

// The provider's error-code vocabulary is operational data, not logic. It
// lives in a JSON file so it can be revved against the gateway docs without
// touching send or reconciliation code.
//
//go:embed error_codes.json
var errorCodesJSON []byte

var errorCodes map[string]string

func init() {
	if err := json.Unmarshal(errorCodesJSON, &errorCodes); err != nil {
		panic(fmt.Sprintf("smsprosto: bad error_codes.json: %v", err))
	}
}

// DescribeError maps a provider error code to its operator-facing description.
func DescribeError(code string) string {
	if text, ok := errorCodes[code]; ok {
		return text
	}
	return fmt.Sprintf("Неизвестная ошибка (код %s)", code)
}
