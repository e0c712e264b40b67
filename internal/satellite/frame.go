package satellite

import "encoding/json"

// inboundFrame is the generic shape of a satellite protocol frame (§6):
// only the fields relevant to dispatch are typed strictly; cmd/endpoint
// payloads are decoded lazily since their shape varies by the underlying
// intent or endpoint action.
type inboundFrame struct {
	Hello      *helloPayload `json:"hello,omitempty"`
	WakeStart  *wakeStart    `json:"wake_start,omitempty"`
	WakeEnd    any           `json:"wake_end,omitempty"`
	Cmd        *cmdPayload   `json:"cmd,omitempty"`
	NotifyDone *int64        `json:"notify_done,omitempty"`
	Goodbye    any           `json:"goodbye,omitempty"`
}

type helloPayload struct {
	Hostname string   `json:"hostname,omitempty"`
	HwType   string   `json:"hw_type,omitempty"`
	MACAddr  macBytes `json:"mac_addr,omitempty"`
}

// macBytes decodes a JSON array of small integers (the wire's "6-byte
// array") into raw bytes. encoding/json's default []byte handling expects
// a base64 string, which is not this wire shape.
type macBytes []byte

func (m *macBytes) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	*m = out
	return nil
}

type wakeStart struct {
	WakeVolume float64 `json:"wake_volume"`
}

// cmdPayload covers both shapes the wire sends under the "cmd" key: the
// bare string "get_config", or an object {"cmd":"endpoint","data":{...}}.
// UnmarshalJSON below normalizes either into this struct.
type cmdPayload struct {
	Kind string         // "get_config" | "endpoint"
	Data map[string]any // endpoint payload, when Kind == "endpoint"
}

func (c *cmdPayload) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.Kind = asString
		return nil
	}

	var obj struct {
		Cmd  string         `json:"cmd"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.Kind = obj.Cmd
	c.Data = obj.Data
	return nil
}
