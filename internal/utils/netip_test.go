package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "10.0.0.1", ClientIP(r, false))
	assert.Equal(t, "203.0.113.9", ClientIP(r, true))

	r.Header.Set("CF-Connecting-IP", "198.51.100.4")
	assert.Equal(t, "198.51.100.4", ClientIP(r, true))
}

func TestIPMatcher(t *testing.T) {
	m := NewIPMatcher([]string{" 10.0.0.0/8 ", "192.168.1.5", "garbage", ""})
	assert.False(t, m.IsEmpty())
	assert.True(t, m.Allow("10.20.30.40"))
	assert.True(t, m.Allow("192.168.1.5"))
	assert.False(t, m.Allow("192.168.1.6"))
	assert.False(t, m.Allow("not-an-ip"))

	assert.True(t, NewIPMatcher(nil).IsEmpty())
}
