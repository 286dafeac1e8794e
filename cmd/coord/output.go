package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/steveyegge/coord/internal/rpc"
)

// outputJSON outputs data as pretty-printed JSON
func outputJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// outputJSONError writes {"error": ..., "code": ...} to stderr. The code is
// the daemon's error code when err came back from a call.
func outputJSONError(err error) {
	errObj := map[string]string{"error": err.Error()}
	var rerr *rpc.Error
	if errors.As(err, &rerr) {
		errObj["error"] = rerr.Message
		errObj["code"] = rerr.Code
	}
	encoder := json.NewEncoder(os.Stderr)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(errObj)
}

// parsePayload accepts a JSON document or, failing that, treats the text as
// a JSON string. Empty input is null.
func parsePayload(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
