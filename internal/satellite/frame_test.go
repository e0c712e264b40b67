package satellite

import (
	"encoding/json"
	"testing"
)

func TestInboundFrameHello(t *testing.T) {
	var f inboundFrame
	raw := `{"hello":{"hostname":"kitchen","hw_type":"esp32s3","mac_addr":[170,187,204,221,238,255]}}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Hello == nil {
		t.Fatal("expected Hello to be populated")
	}
	if f.Hello.Hostname != "kitchen" || f.Hello.HwType != "esp32s3" {
		t.Errorf("unexpected hello fields: %+v", f.Hello)
	}
	if len(f.Hello.MACAddr) != 6 || f.Hello.MACAddr[0] != 0xAA || f.Hello.MACAddr[5] != 0xFF {
		t.Errorf("unexpected mac bytes: %v", f.Hello.MACAddr)
	}
}

func TestInboundFrameWakeStart(t *testing.T) {
	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"wake_start":{"wake_volume":-9.5}}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.WakeStart == nil || f.WakeStart.WakeVolume != -9.5 {
		t.Fatalf("unexpected wake_start: %+v", f.WakeStart)
	}
}

func TestInboundFrameNotifyDone(t *testing.T) {
	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"notify_done":1234}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.NotifyDone == nil || *f.NotifyDone != 1234 {
		t.Fatalf("unexpected notify_done: %v", f.NotifyDone)
	}
}

func TestCmdPayloadBareString(t *testing.T) {
	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"cmd":"get_config"}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Cmd == nil || f.Cmd.Kind != "get_config" || f.Cmd.Data != nil {
		t.Fatalf("unexpected cmd payload: %+v", f.Cmd)
	}
}

func TestCmdPayloadEndpointObject(t *testing.T) {
	var f inboundFrame
	raw := `{"cmd":{"cmd":"endpoint","data":{"text":"turn on the lights"}}}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Cmd == nil || f.Cmd.Kind != "endpoint" {
		t.Fatalf("unexpected cmd payload: %+v", f.Cmd)
	}
	if f.Cmd.Data["text"] != "turn on the lights" {
		t.Errorf("unexpected cmd data: %+v", f.Cmd.Data)
	}
}

func TestMACBytesIgnoresWrongLength(t *testing.T) {
	var h helloPayload
	if err := json.Unmarshal([]byte(`{"mac_addr":[1,2]}`), &h); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(h.MACAddr) != 2 {
		t.Fatalf("expected the raw short sequence to decode as-is, got %v", h.MACAddr)
	}
}

func TestGoodbyeFramePresence(t *testing.T) {
	var f inboundFrame
	if err := json.Unmarshal([]byte(`{"goodbye":true}`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Goodbye == nil {
		t.Fatal("expected Goodbye to be non-nil")
	}
}
