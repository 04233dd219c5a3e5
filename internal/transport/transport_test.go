package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":            "''",
		"plain":       "'plain'",
		"with space":  "'with space'",
		"it's mine":   `'it'\''s mine'`,
		"/sdcard/foo": "'/sdcard/foo'",
	}
	for in, want := range cases {
		assert.Equal(t, want, ShellQuote(in))
	}
}

func TestClassifySerial(t *testing.T) {
	assert.Equal(t, KindUSB, classifySerial("ABCD1234"))
	assert.Equal(t, KindWiFi, classifySerial("192.168.1.5:5555"))
}

func TestInterfacePriority(t *testing.T) {
	assert.Less(t, interfacePriority("wlan0"), interfacePriority("eth0"))
	assert.Less(t, interfacePriority("eth0"), interfacePriority("rmnet0"))
}

func TestFake_PushStatRoundTrip(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(local, []byte("hello"), 0o644))

	fake := NewFake(Device{Serial: "d1"})
	require.NoError(t, fake.Push(context.Background(), "d1", local, "/sdcard/a.bin"))

	size, err := fake.Stat(context.Background(), "d1", "/sdcard/a.bin")
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	_, err = fake.Stat(context.Background(), "d1", "/sdcard/missing.bin")
	assert.Error(t, err)
}

func TestFake_FailPushIsPerDevice(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(local, []byte("hi"), 0o644))

	fake := NewFake(Device{Serial: "d1"}, Device{Serial: "d2"})
	fake.FailPush[FailKey("d2", "/sdcard/a.bin")] = 1

	require.NoError(t, fake.Push(context.Background(), "d1", local, "/sdcard/a.bin"))
	assert.Error(t, fake.Push(context.Background(), "d2", local, "/sdcard/a.bin"))
	require.NoError(t, fake.Push(context.Background(), "d2", local, "/sdcard/a.bin"))
}
