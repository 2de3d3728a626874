package callbacks

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeFlowResponse(t *testing.T) {
	raw, truncated, err := Encode(Token{Action: ActionFlowResponse, StepID: 42, Value: "yes"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if truncated {
		t.Fatal("short value must not be truncated")
	}
	if raw != `{"a":"flow_response","s":42,"v":"yes"}` {
		t.Fatalf("unexpected token %s", raw)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Action != ActionFlowResponse || got.StepID != 42 || got.Value != "yes" {
		t.Fatalf("unexpected token %+v", got)
	}
}

func TestEncodeTruncatesLongValueByRune(t *testing.T) {
	long := strings.Repeat("ж", 60)
	raw, truncated, err := Encode(Token{Action: ActionFlowResponse, StepID: 7, Value: long})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !truncated {
		t.Fatal("expected truncation")
	}
	if len(raw) > MaxDataLen {
		t.Fatalf("token is %d bytes, limit %d", len(raw), MaxDataLen)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(long, got.Value) {
		t.Fatalf("value %q is not a prefix of the original", got.Value)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, data := range []string{"", "start", "\fstart|1", "{not json", `{"v":"x"}`} {
		if _, err := Decode(data); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("Decode(%q) err = %v, want ErrMalformedToken", data, err)
		}
	}
}

func TestEncodeRequiresAction(t *testing.T) {
	if _, _, err := Encode(Token{Value: "1"}); err == nil {
		t.Fatal("expected error for empty action")
	}
}
