package chatserver

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// writeSSE writes one Server-Sent-Events frame: an event name plus a
// single JSON-encoded data line, matching the text_delta/reasoning_delta/
// completion/tool_result/tool_approval_request/human_input_request/error
// event kinds the chat stream promises.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
