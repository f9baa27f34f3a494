package onvif

import "time"

// BindingConfig holds optional per-phase timeouts applied to every channel
// a Bootstrapper builds. A nil field keeps the transport default.
type BindingConfig struct {
	OpenTimeout    *time.Duration
	SendTimeout    *time.Duration
	ReceiveTimeout *time.Duration
	CloseTimeout   *time.Duration
}

// Configure merges the set timeouts into t. Unset fields leave t untouched
// and c itself is never modified.
func (c BindingConfig) Configure(t *Transport) {
	if c.OpenTimeout != nil {
		t.OpenTimeout = *c.OpenTimeout
	}
	if c.SendTimeout != nil {
		t.SendTimeout = *c.SendTimeout
	}
	if c.ReceiveTimeout != nil {
		t.ReceiveTimeout = *c.ReceiveTimeout
	}
	if c.CloseTimeout != nil {
		t.CloseTimeout = *c.CloseTimeout
	}
}

// Timeout returns a pointer to d for use in BindingConfig literals.
func Timeout(d time.Duration) *time.Duration {
	return &d
}
