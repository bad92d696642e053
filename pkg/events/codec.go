package events

import (
	"encoding/json"
	"fmt"

	apperrors "taskflow/pkg/errors"
)

var requiredFields = map[Type][]string{
	TypeMessageReceived: {"message_id", "source", "content", "author"},
	TypeTaskExtracted:   {"task_id", "source_message_id", "title", "description"},
	TypeTaskCreated:     {"task_id", "platform", "platform_task_id", "title", "created_at"},
	TypeTaskFailed:      {"task_id", "platform", "title", "error_message", "failed_at"},
}

// Encode serializes e into its flat JSON wire form.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, apperrors.ErrSerialization.WithMessage("nil event").AsFatal()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, apperrors.ErrSerialization.WithCause(err).WithDetail("event_type", string(e.EventType())).AsFatal()
	}
	return data, nil
}

// Decode parses data as an event of type t.
//
// An unknown t yields ErrDeserialization. Anything wrong with the payload
// itself yields ErrMalformedPayload.
func Decode(data []byte, t Type) (Event, error) {
	switch t {
	case TypeMessageReceived:
		var e MessageReceived
		if err := decodeInto(data, t, &e); err != nil {
			return nil, err
		}
		return e.normalize(), nil
	case TypeTaskExtracted:
		var e TaskExtracted
		if err := decodeInto(data, t, &e); err != nil {
			return nil, err
		}
		if e.Priority != nil && !e.Priority.Valid() {
			return nil, malformed(t, fmt.Sprintf("invalid priority %q", string(*e.Priority)))
		}
		return e.normalize(), nil
	case TypeTaskCreated:
		var e TaskCreated
		if err := decodeInto(data, t, &e); err != nil {
			return nil, err
		}
		return e.normalize(), nil
	case TypeTaskFailed:
		var e TaskFailed
		if err := decodeInto(data, t, &e); err != nil {
			return nil, err
		}
		return e.normalize(), nil
	default:
		return nil, apperrors.ErrDeserialization.
			WithMessage(fmt.Sprintf("unknown event type %q", string(t))).
			WithDetail("event_type", string(t))
	}
}

// DecodeEnvelope reads event_type from the payload and decodes accordingly.
func DecodeEnvelope(data []byte) (Event, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}
	return Decode(data, t)
}

// PeekType returns the event_type carried by a payload without decoding the
// rest of it.
func PeekType(data []byte) (Type, error) {
	var envelope struct {
		EventType *string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", apperrors.ErrMalformedPayload.WithCause(err).WithMessage("payload is not a JSON object")
	}
	if envelope.EventType == nil || *envelope.EventType == "" {
		return "", apperrors.ErrMalformedPayload.WithMessage("missing event_type")
	}
	return Type(*envelope.EventType), nil
}

func decodeInto(data []byte, t Type, v interface{}) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return apperrors.ErrMalformedPayload.WithCause(err).
			WithMessage("payload is not a JSON object").
			WithDetail("event_type", string(t))
	}

	raw, ok := fields["event_type"]
	if !ok || isNull(raw) {
		return malformed(t, "missing event_type")
	}
	var declared string
	if err := json.Unmarshal(raw, &declared); err != nil {
		return malformed(t, "event_type is not a string")
	}
	if Type(declared) != t {
		return malformed(t, fmt.Sprintf("event_type %q does not match %q", declared, string(t)))
	}

	for _, key := range requiredFields[t] {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			return malformed(t, fmt.Sprintf("missing required field %q", key))
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.ErrMalformedPayload.WithCause(err).
			WithMessage(fmt.Sprintf("invalid %s payload", string(t))).
			WithDetail("event_type", string(t))
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func malformed(t Type, msg string) error {
	return apperrors.ErrMalformedPayload.WithMessage(msg).WithDetail("event_type", string(t))
}

func (e MessageReceived) MarshalJSON() ([]byte, error) {
	type alias MessageReceived
	return json.Marshal(struct {
		EventType Type `json:"event_type"`
		alias
	}{TypeMessageReceived, alias(e.normalize())})
}

func (e TaskExtracted) MarshalJSON() ([]byte, error) {
	type alias TaskExtracted
	return json.Marshal(struct {
		EventType Type `json:"event_type"`
		alias
	}{TypeTaskExtracted, alias(e.normalize())})
}

func (e TaskCreated) MarshalJSON() ([]byte, error) {
	type alias TaskCreated
	return json.Marshal(struct {
		EventType Type `json:"event_type"`
		alias
	}{TypeTaskCreated, alias(e.normalize())})
}

func (e TaskFailed) MarshalJSON() ([]byte, error) {
	type alias TaskFailed
	return json.Marshal(struct {
		EventType Type `json:"event_type"`
		alias
	}{TypeTaskFailed, alias(e.normalize())})
}

func (e MessageReceived) normalize() MessageReceived {
	if e.Timestamp != nil {
		e.Timestamp = Time(*e.Timestamp)
	}
	e.Metadata = normalizeMetadata(e.Metadata)
	return e
}

func (e TaskExtracted) normalize() TaskExtracted {
	if e.DueDate != nil {
		e.DueDate = Time(*e.DueDate)
	}
	if e.Labels == nil {
		e.Labels = []string{}
	}
	e.Metadata = normalizeMetadata(e.Metadata)
	return e
}

func (e TaskCreated) normalize() TaskCreated {
	e.CreatedAt = Timestamp(e.CreatedAt)
	e.Metadata = normalizeMetadata(e.Metadata)
	return e
}

func (e TaskFailed) normalize() TaskFailed {
	e.FailedAt = Timestamp(e.FailedAt)
	e.Metadata = normalizeMetadata(e.Metadata)
	return e
}

// normalizeMetadata returns m with values in the shape encoding/json decodes
// them into: float64 numbers, map[string]interface{} objects and
// []interface{} arrays. Values that cannot be marshaled are left for Encode
// to reject.
func normalizeMetadata(m Metadata) Metadata {
	if m == nil {
		return Metadata{}
	}
	if isCanonical(map[string]interface{}(m)) {
		return m
	}
	data, err := json.Marshal(map[string]interface{}(m))
	if err != nil {
		return m
	}
	var out Metadata
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

func isCanonical(v interface{}) bool {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return true
	case map[string]interface{}:
		for _, item := range t {
			if !isCanonical(item) {
				return false
			}
		}
		return true
	case []interface{}:
		for _, item := range t {
			if !isCanonical(item) {
				return false
			}
		}
		return true
	}
	return false
}

// Normalize returns e in the form Decode would produce for it: UTC times,
// non-nil label collections and metadata values in their JSON-decoded shape.
func Normalize(e Event) Event {
	switch v := e.(type) {
	case MessageReceived:
		return v.normalize()
	case TaskExtracted:
		return v.normalize()
	case TaskCreated:
		return v.normalize()
	case TaskFailed:
		return v.normalize()
	}
	return e
}
