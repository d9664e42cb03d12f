package types

// Payload is the free-form JSON body of a protocol message. Numeric values
// decoded from JSON arrive as float64; the accessors below normalize them.
type Payload map[string]any

// GetString returns the string value for key, or "" when the key is absent
// or not a string.
func (p Payload) GetString(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// GetInt64 returns the integer value for key, tolerating every numeric
// representation the JSON decoder and in-process callers produce.
func (p Payload) GetInt64(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// GetBool returns the boolean value for key, or false when absent.
func (p Payload) GetBool(key string) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return false
}

// Has reports whether key is present at all.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Username is shorthand for the routing scope field.
func (p Payload) Username() string {
	return p.GetString(FieldUsername)
}

// CallbackID returns the client-chosen correlation id, 0 by default.
func (p Payload) CallbackID() int64 {
	return p.GetInt64(FieldCallbackID)
}

// Clone returns a shallow copy. Routers stamp sender ids on payloads before
// fanning them out; cloning keeps concurrent deliveries independent of the
// caller's map.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
