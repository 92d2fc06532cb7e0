package parlance

import (
	"encoding/json"
	"maps"
)

// Fields is the unit of wire message composition. Messages are JSON objects
// and receivers MUST ignore unknown fields instead of rejecting them.
type Fields map[string]any

// MessageType discriminates the frames travelling on a socket channel.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeInform   MessageType = "inform"
	TypeResponse MessageType = "rpcResponse"
	TypeError    MessageType = "rpcError"
	TypeEvent    MessageType = "event"
)

const (
	fieldID         = "id"
	fieldDialect    = "_dialect"
	fieldType       = "_type"
	fieldResult     = "result"
	fieldError      = "error"
	fieldEvent      = "event"
	fieldMessage    = "message"
	fieldHeaders    = "headers"
	fieldServerTime = "serverTime"
)

// composeMessage builds an outbound envelope as an explicit ordered merge.
// Later steps win on key collision: static interface fields, then router,
// then parameter, then optioner output.
func composeMessage(id string, typ MessageType, dialect *Dialect, route string, data any, opts *CallOptions) Fields {
	msg := Fields{fieldID: id}
	if !dialect.OmitMeta {
		msg[fieldDialect] = dialect.Name
		msg[fieldType] = string(typ)
	}
	for _, step := range []Fields{
		dialect.Interface,
		dialect.Router(route),
		dialect.Parameter(data),
		dialect.Optioner(opts),
	} {
		maps.Copy(msg, step)
	}
	return msg
}

// frame is the parsed view of one inbound JSON text frame. Raw keeps the
// whole object so dialect handlers can reach dialect-specific fields.
type frame struct {
	ID        string
	Dialect   string
	Type      MessageType
	Result    any
	HasResult bool
	ErrVal    any
	Event     string
	Message   any
	Headers   Fields
	Raw       Fields
}

func parseFrame(data []byte) (*frame, error) {
	var raw Fields
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	fr := &frame{Raw: raw}
	if v, ok := raw[fieldID].(string); ok {
		fr.ID = v
	}
	if v, ok := raw[fieldDialect].(string); ok {
		fr.Dialect = v
	}
	if v, ok := raw[fieldType].(string); ok {
		fr.Type = MessageType(v)
	}
	if v, ok := raw[fieldResult]; ok {
		fr.Result = v
		fr.HasResult = true
	}
	fr.ErrVal = raw[fieldError]
	if v, ok := raw[fieldEvent].(string); ok {
		fr.Event = v
	}
	fr.Message = raw[fieldMessage]
	if v, ok := raw[fieldHeaders].(map[string]any); ok {
		fr.Headers = Fields(v)
	}
	return fr, nil
}

// correlated reports whether the frame should be matched against the
// pending-call table. Legacy peers omit `_type` on responses, so a bare
// frame carrying an ID still counts.
func (fr *frame) correlated() bool {
	if fr.ID == "" {
		return false
	}
	return fr.Type == TypeResponse || fr.Type == TypeError || fr.Type == ""
}

func encodeMessage(msg Fields) ([]byte, error) {
	return json.Marshal(msg)
}
